package ltm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the portable on-disk representation of a store: the full
// memory table plus the access-history log keyed by memory ID, with access
// times as epoch-second floats.
type Snapshot struct {
	Memories      []SnapshotRecord     `json:"memories"`
	AccessHistory map[string][]float64 `json:"access_history"`
}

// SnapshotRecord is the wire form of a ConsolidatedMemory: timestamps as
// epoch-second floats, the memory type as its string value, linked memories
// as a list, and the emotion tag as a flat field mapping.
type SnapshotRecord struct {
	MemoryID            string      `json:"memory_id"`
	Content             any         `json:"content"`
	MemoryType          string      `json:"memory_type"`
	CreatedAt           float64     `json:"created_at"`
	LastAccessed        float64     `json:"last_accessed"`
	AccessCount         int         `json:"access_count"`
	BaseActivation      float64     `json:"base_activation"`
	SpreadingActivation float64     `json:"spreading_activation"`
	EmotionTag          *EmotionTag `json:"emotion_tag,omitempty"`
	ContextHash         string      `json:"context_hash"`
	LinkedMemories      []string    `json:"linked_memories"`
	Source              string      `json:"source"`
	SalienceAtEncoding  float64     `json:"salience_at_encoding"`
}

// SnapshotStore persists and restores store snapshots. Load returns
// (nil, nil) when no snapshot exists yet.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

// SaveSnapshot serializes the full memory table and access history to the
// configured snapshot sink. Persistence is best-effort: the error is
// returned for the caller to log, and the store remains fully usable
// regardless of the outcome. Without a configured sink this is a no-op.
func (s *Store) SaveSnapshot(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}

	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.snapshots.Save(ctx, snap); err != nil {
		s.logger.Error("ltm: snapshot save failed", "error", err)
		return err
	}
	s.logger.Info("ltm: saved snapshot", "memories", len(snap.Memories))
	return nil
}

func (s *Store) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Memories:      make([]SnapshotRecord, 0, len(s.memories)),
		AccessHistory: make(map[string][]float64, len(s.accessHistory)),
	}

	for _, memory := range s.memories {
		snap.Memories = append(snap.Memories, SnapshotRecord{
			MemoryID:            memory.MemoryID,
			Content:             memory.Content,
			MemoryType:          string(memory.MemoryType),
			CreatedAt:           timeToEpoch(memory.CreatedAt),
			LastAccessed:        timeToEpoch(memory.LastAccessed),
			AccessCount:         memory.AccessCount,
			BaseActivation:      finiteOrZero(memory.BaseActivation),
			SpreadingActivation: finiteOrZero(memory.SpreadingActivation),
			EmotionTag:          memory.EmotionTag,
			ContextHash:         memory.ContextHash,
			LinkedMemories:      append([]string{}, memory.LinkedMemories...),
			Source:              memory.Source,
			SalienceAtEncoding:  memory.SalienceAtEncoding,
		})
	}

	for id, history := range s.accessHistory {
		epochs := make([]float64, len(history))
		for i, t := range history {
			epochs[i] = timeToEpoch(t)
		}
		snap.AccessHistory[id] = epochs
	}

	return snap
}

// loadSnapshot restores the memory table, indices and access history from
// the snapshot sink. Cached activation values are recomputed from the
// restored history rather than trusted.
func (s *Store) loadSnapshot(ctx context.Context) error {
	snap, err := s.snapshots.Load(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, rec := range snap.Memories {
		memory := &ConsolidatedMemory{
			MemoryID:            rec.MemoryID,
			Content:             rec.Content,
			MemoryType:          ParseMemoryType(rec.MemoryType),
			CreatedAt:           epochToTime(rec.CreatedAt),
			LastAccessed:        epochToTime(rec.LastAccessed),
			AccessCount:         rec.AccessCount,
			SpreadingActivation: rec.SpreadingActivation,
			EmotionTag:          rec.EmotionTag,
			ContextHash:         rec.ContextHash,
			LinkedMemories:      dedupeIDs(rec.LinkedMemories),
			Source:              rec.Source,
			SalienceAtEncoding:  rec.SalienceAtEncoding,
		}

		history := make([]time.Time, len(snap.AccessHistory[rec.MemoryID]))
		for i, e := range snap.AccessHistory[rec.MemoryID] {
			history[i] = epochToTime(e)
		}
		s.accessHistory[rec.MemoryID] = history
		memory.BaseActivation = s.calc.BaseActivation(history, now)

		s.memories[rec.MemoryID] = memory
		s.indexLocked(memory)
	}

	s.collector.SetMemoryCount(len(s.memories))
	s.logger.Info("ltm: loaded snapshot", "memories", len(s.memories))
	return nil
}

// FileSnapshotStore persists snapshots as a single JSON file. Writes go
// through a temporary file in the same directory followed by a rename.
type FileSnapshotStore struct {
	path string
}

// NewFileSnapshotStore creates a file-backed snapshot store at path.
func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

// Save writes the snapshot as indented JSON.
func (f *FileSnapshotStore) Save(_ context.Context, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot file. A missing file is not an error and yields
// (nil, nil).
func (f *FileSnapshotStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func timeToEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func epochToTime(e float64) time.Time {
	sec, frac := math.Modf(e)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

func finiteOrZero(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}
