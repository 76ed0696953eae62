package events

import (
	"log/slog"
	"math"

	"github.com/mindsim/engram/pkg/consolidation"
	"github.com/mindsim/engram/pkg/ltm"
)

// Somatic markers encode action outcomes; they are stored at high salience
// with a fixed mid arousal so strongly valenced outcomes always consolidate.
const (
	somaticBaseSalience    = 0.7
	somaticValenceSalience = 0.3
	somaticArousal         = 0.5
	somaticDefaultStrength = 0.5
)

// ConsolidationAdapter subscribes the consolidator to the agent's event
// bus. Short-term items and somatic markers feed the pending queue, emotion
// changes update the ambient context, and significant events are
// consolidated immediately and announced back on the bus.
type ConsolidationAdapter struct {
	bus          Bus
	consolidator *consolidation.Consolidator
	logger       *slog.Logger

	subscriptions []string
}

// NewConsolidationAdapter creates an adapter; call Attach to subscribe.
func NewConsolidationAdapter(bus Bus, c *consolidation.Consolidator, logger *slog.Logger) *ConsolidationAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsolidationAdapter{bus: bus, consolidator: c, logger: logger}
}

// Attach subscribes to the four inbound topics. Attaching twice is a no-op.
func (a *ConsolidationAdapter) Attach() {
	if len(a.subscriptions) > 0 {
		return
	}
	a.subscriptions = []string{
		a.bus.Subscribe(TopicSTMItemAdded, a.handleSTMItem),
		a.bus.Subscribe(TopicEmotionChanged, a.handleEmotionChanged),
		a.bus.Subscribe(TopicSignificantEvent, a.handleSignificantEvent),
		a.bus.Subscribe(TopicSomaticMarker, a.handleSomaticMarker),
	}
	a.logger.Debug("consolidation adapter attached", "topics", len(a.subscriptions))
}

// Detach removes all subscriptions.
func (a *ConsolidationAdapter) Detach() {
	for _, id := range a.subscriptions {
		a.bus.Unsubscribe(id)
	}
	a.subscriptions = nil
}

// handleSTMItem queues a short-term memory item for consolidation.
func (a *ConsolidationAdapter) handleSTMItem(e Event) {
	content, ok := e.Data["content"]
	if !ok {
		a.logger.Warn("stm item event without content")
		return
	}

	a.consolidator.AddToPending(content, floatValue(e.Data, "salience", 0.5), &consolidation.PendingOptions{
		AccessCount:  intValue(e.Data, "access_count", 1),
		ContextHash:  stringValue(e.Data, "context_hash", ""),
		EmotionState: emotionStateValue(e.Data, "emotion_state"),
		MemoryType:   ltm.ParseMemoryType(stringValue(e.Data, "memory_type", string(ltm.Episodic))),
		Source:       "stm_event",
	})
}

// handleEmotionChanged tracks the agent's ambient emotional state so that
// untagged pending items pick it up.
func (a *ConsolidationAdapter) handleEmotionChanged(e Event) {
	a.consolidator.UpdateEmotionContext(consolidation.EmotionState{
		Valence:   floatValue(e.Data, "valence", 0),
		Arousal:   floatValue(e.Data, "arousal", 0),
		Dominance: floatValue(e.Data, "dominance", 0),
		Emotion:   stringValue(e.Data, "emotion", ""),
	})
}

// handleSignificantEvent consolidates the full event payload immediately
// and publishes the resulting memory ID. An event carrying an emotion key
// is tagged from its own valence and arousal at full intensity; otherwise
// the ambient emotional context applies.
func (a *ConsolidationAdapter) handleSignificantEvent(e Event) {
	var tag *ltm.EmotionTag
	if _, ok := e.Data["emotion"]; ok {
		tag = &ltm.EmotionTag{
			Valence:      floatValue(e.Data, "valence", 0),
			Arousal:      floatValue(e.Data, "arousal", 0),
			EmotionLabel: stringValue(e.Data, "emotion", ""),
			Intensity:    1.0,
		}
	}

	memory := a.consolidator.ForceConsolidate(e.Data, tag)
	a.bus.Publish(TopicMemoryConsolidated, map[string]any{
		"memory_id":   memory.MemoryID,
		"memory_type": string(memory.MemoryType),
		"source":      memory.Source,
	})
}

// handleSomaticMarker stores an action-outcome association as an emotional
// memory. Salience scales with the outcome's valence magnitude, and the tag
// intensity is the marker's learned strength.
func (a *ConsolidationAdapter) handleSomaticMarker(e Event) {
	valence := floatValue(e.Data, "valence", 0)

	content := map[string]any{
		"type":             "somatic_marker",
		"action":           stringValue(e.Data, "action", ""),
		"situation_hash":   stringValue(e.Data, "situation_hash", ""),
		"original_outcome": e.Data["original_outcome"],
	}
	salience := somaticBaseSalience + math.Abs(valence)*somaticValenceSalience

	a.consolidator.AddToPending(content, salience, &consolidation.PendingOptions{
		ContextHash: stringValue(e.Data, "situation_hash", ""),
		EmotionTag: &ltm.EmotionTag{
			Valence:      valence,
			Arousal:      somaticArousal,
			EmotionLabel: "somatic",
			Intensity:    floatValue(e.Data, "strength", somaticDefaultStrength),
		},
		MemoryType: ltm.Emotional,
		Source:     "somatic_marker",
	})
}

func emotionStateValue(data map[string]any, key string) *consolidation.EmotionState {
	nested, ok := data[key].(map[string]any)
	if !ok {
		return nil
	}
	return &consolidation.EmotionState{
		Valence:   floatValue(nested, "valence", 0),
		Arousal:   floatValue(nested, "arousal", 0),
		Dominance: floatValue(nested, "dominance", 0),
		Emotion:   stringValue(nested, "emotion", ""),
	}
}

func floatValue(data map[string]any, key string, def float64) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return def
	}
}

func intValue(data map[string]any, key string, def int) int {
	switch v := data[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func stringValue(data map[string]any, key, def string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return def
}
