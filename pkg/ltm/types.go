// Package ltm implements the long-term memory store: consolidated memory
// records, activation-ranked retrieval over three secondary indices,
// capacity eviction, and best-effort snapshot persistence.
package ltm

import (
	"encoding/json"
	"fmt"
	"time"
)

// MemoryType classifies a consolidated memory.
type MemoryType string

const (
	// Episodic memories record specific events with time and place.
	Episodic MemoryType = "episodic"
	// Semantic memories hold general knowledge and rules.
	Semantic MemoryType = "semantic"
	// Procedural memories hold skills and how-to knowledge.
	Procedural MemoryType = "procedural"
	// Emotional memories are strongly emotion-tagged records.
	Emotional MemoryType = "emotional"
)

// MemoryTypes lists all valid memory types in a stable order.
var MemoryTypes = []MemoryType{Episodic, Semantic, Procedural, Emotional}

// ParseMemoryType maps a string value to a MemoryType. Unknown values fall
// back to Episodic, the default classification for incoming observations.
func ParseMemoryType(s string) MemoryType {
	switch MemoryType(s) {
	case Episodic, Semantic, Procedural, Emotional:
		return MemoryType(s)
	default:
		return Episodic
	}
}

// EmotionTag carries the emotional annotation of a memory in the
// valence/arousal/dominance model.
type EmotionTag struct {
	Valence      float64 `json:"valence"`       // -1 (negative) to +1 (positive)
	Arousal      float64 `json:"arousal"`       // 0 (calm) to 1 (excited)
	Dominance    float64 `json:"dominance"`     // -1 (submissive) to +1 (dominant)
	EmotionLabel string  `json:"emotion_label"` // "fear", "joy", "anger", ...
	Intensity    float64 `json:"intensity"`     // 0 to 1
}

// ConsolidatedMemory is a durable memory record in the long-term store.
type ConsolidatedMemory struct {
	MemoryID   string     `json:"memory_id"`
	Content    any        `json:"content"`
	MemoryType MemoryType `json:"memory_type"`

	CreatedAt    time.Time `json:"-"`
	LastAccessed time.Time `json:"-"`
	AccessCount  int       `json:"access_count"`

	// Activation terms, recomputed from the access history. The stored
	// values are caches, never ground truth.
	BaseActivation      float64 `json:"base_activation"`
	SpreadingActivation float64 `json:"spreading_activation"`

	EmotionTag *EmotionTag `json:"emotion_tag,omitempty"`

	// ContextHash groups memories that share an encoding context.
	ContextHash string `json:"context_hash"`

	// LinkedMemories holds IDs of associated memories. These are
	// back-references for traversal, not ownership edges, and may point at
	// IDs no longer present in the store.
	LinkedMemories []string `json:"linked_memories"`

	// Source records provenance, e.g. "direct" or "consolidation_stm".
	Source string `json:"source"`

	// SalienceAtEncoding is the salience recorded at creation time and is
	// immutable thereafter.
	SalienceAtEncoding float64 `json:"salience_at_encoding"`
}

// TotalActivation is the sum of base and spreading activation. It is derived
// on demand, never persisted as ground truth.
func (m *ConsolidatedMemory) TotalActivation() float64 {
	return m.BaseActivation + m.SpreadingActivation
}

// contentString returns the canonical string form of a memory payload, used
// for both substring queries and ID hashing. Raw strings are kept verbatim;
// everything else is JSON-marshaled (map keys sorted by encoding/json).
func contentString(content any) string {
	switch v := content.(type) {
	case string:
		return v
	default:
		b, err := json.Marshal(content)
		if err != nil {
			return fmt.Sprint(content)
		}
		return string(b)
	}
}
