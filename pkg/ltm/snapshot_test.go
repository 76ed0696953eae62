package ltm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T, snapshots SnapshotStore) *Store {
	t.Helper()
	s, _ := newTestStore(t, Config{ContentAddressedIDs: true, Snapshots: snapshots})

	s.Store("the door was locked", Episodic, &StoreOptions{
		ContextHash: "room-1",
		Salience:    0.8,
		Source:      "stm",
	})
	s.Store("doors can be locked", Semantic, nil)
	s.Store("the alarm", Emotional, &StoreOptions{
		EmotionTag: &EmotionTag{Valence: -0.9, Arousal: 0.8, EmotionLabel: "fear", Intensity: 0.7},
		Salience:   0.9,
	})
	return s
}

func assertRoundTrip(t *testing.T, original, restored *Store) {
	t.Helper()
	require.Equal(t, original.Len(), restored.Len())

	for id, want := range original.memories {
		got, ok := restored.Get(id)
		require.True(t, ok, "memory %s missing after reload", shortID(id))
		assert.Equal(t, want.MemoryType, got.MemoryType)
		assert.Equal(t, want.AccessCount, got.AccessCount)
		assert.Equal(t, want.ContextHash, got.ContextHash)
		assert.Equal(t, want.Source, got.Source)
		assert.Equal(t, want.SalienceAtEncoding, got.SalienceAtEncoding)
		assert.Equal(t, want.EmotionTag, got.EmotionTag)
		assert.Equal(t, len(original.accessHistory[id]), len(restored.accessHistory[id]))
	}

	// Indices are rebuilt, not persisted: a filtered retrieval still works.
	results := restored.Retrieve(Query{EmotionLabel: "fear", SkipAccessUpdate: true})
	assert.Len(t, results, 1)
}

func TestFileSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ltm.json")
	sink := NewFileSnapshotStore(path)

	original := seedStore(t, sink)
	require.NoError(t, original.SaveSnapshot(context.Background()))

	restored, _ := newTestStore(t, Config{Snapshots: sink})
	assertRoundTrip(t, original, restored)
}

func TestFileSnapshot_MissingFileIsEmptyStore(t *testing.T) {
	sink := NewFileSnapshotStore(filepath.Join(t.TempDir(), "absent.json"))

	s, _ := newTestStore(t, Config{Snapshots: sink})
	assert.Equal(t, 0, s.Len())
}

func TestFileSnapshot_CorruptFileIsNonFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ltm.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	// A malformed snapshot is logged and ignored; the store starts empty.
	s, _ := newTestStore(t, Config{Snapshots: NewFileSnapshotStore(path)})
	assert.Equal(t, 0, s.Len())
	s.Store("still works", Episodic, nil)
	assert.Equal(t, 1, s.Len())
}

func TestStore_SaveSnapshotWithoutSinkIsNoop(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	s.Store("anything", Episodic, nil)
	assert.NoError(t, s.SaveSnapshot(context.Background()))
}

func TestSnapshot_EpochConversion(t *testing.T) {
	now := newFakeClock().Now()
	assert.True(t, epochToTime(timeToEpoch(now)).Equal(now))
}
