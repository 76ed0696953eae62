package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindsim/engram/pkg/consolidation"
	"github.com/mindsim/engram/pkg/ltm"
)

func newTestAdapter(t *testing.T) (*InProcBus, *ConsolidationAdapter, *consolidation.Consolidator, *ltm.Store) {
	t.Helper()
	store := ltm.NewStore(ltm.Config{})
	c := consolidation.New(store, consolidation.Config{})
	bus := NewInProcBus()
	adapter := NewConsolidationAdapter(bus, c, nil)
	adapter.Attach()
	return bus, adapter, c, store
}

func TestBus_PublishReachesSubscribers(t *testing.T) {
	bus := NewInProcBus()

	var got []Event
	bus.Subscribe("topic.a", func(e Event) { got = append(got, e) })
	bus.Subscribe("topic.a", func(e Event) { got = append(got, e) })
	bus.Subscribe("topic.b", func(e Event) { t.Fatal("wrong topic delivered") })

	bus.Publish("topic.a", map[string]any{"k": "v"})

	require.Len(t, got, 2)
	assert.Equal(t, "topic.a", got[0].Topic)
	assert.Equal(t, "v", got[0].Data["k"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewInProcBus()

	calls := 0
	id := bus.Subscribe("topic.a", func(Event) { calls++ })

	bus.Publish("topic.a", nil)
	bus.Unsubscribe(id)
	bus.Publish("topic.a", nil)

	assert.Equal(t, 1, calls)

	// Unknown IDs are ignored.
	bus.Unsubscribe("no-such-subscription")
}

func TestAdapter_STMItemFeedsPendingQueue(t *testing.T) {
	bus, _, c, store := newTestAdapter(t)

	bus.Publish(TopicSTMItemAdded, map[string]any{
		"content":      "picked up the key",
		"salience":     0.8,
		"access_count": 4,
		"context_hash": "hallway",
		"memory_type":  "procedural",
	})

	assert.Equal(t, 1, c.PendingCount())
	c.RunCycle()

	memories := store.Retrieve(ltm.Query{Text: "key", SkipAccessUpdate: true})
	require.Len(t, memories, 1)
	assert.Equal(t, ltm.Procedural, memories[0].MemoryType)
	assert.Equal(t, "hallway", memories[0].ContextHash)
	assert.Equal(t, "consolidation_stm_event", memories[0].Source)
}

func TestAdapter_STMItemCarriesExplicitEmotionState(t *testing.T) {
	bus, _, c, store := newTestAdapter(t)

	bus.Publish(TopicEmotionChanged, map[string]any{
		"valence": 0.1,
		"arousal": 0.2,
		"emotion": "calm",
	})
	bus.Publish(TopicSTMItemAdded, map[string]any{
		"content":  "a door slammed",
		"salience": 0.6,
		"emotion_state": map[string]any{
			"valence": -0.6,
			"arousal": 0.8,
			"emotion": "startle",
		},
	})

	c.RunCycle()

	// The item's own emotion state wins over the ambient context.
	memories := store.Retrieve(ltm.Query{Text: "slammed", SkipAccessUpdate: true})
	require.Len(t, memories, 1)
	require.NotNil(t, memories[0].EmotionTag)
	assert.Equal(t, "startle", memories[0].EmotionTag.EmotionLabel)
	assert.Equal(t, -0.6, memories[0].EmotionTag.Valence)
	assert.InDelta(t, 0.48, memories[0].EmotionTag.Intensity, 1e-9)
}

func TestAdapter_STMItemDefaults(t *testing.T) {
	bus, _, c, _ := newTestAdapter(t)

	bus.Publish(TopicSTMItemAdded, map[string]any{"content": "bare item"})
	assert.Equal(t, 1, c.PendingCount())

	// Default salience 0.5 is under the threshold without any boosts.
	result := c.RunCycle()
	assert.Equal(t, 1, result.Rejected)
}

func TestAdapter_STMItemWithoutContentIsIgnored(t *testing.T) {
	bus, _, c, _ := newTestAdapter(t)

	bus.Publish(TopicSTMItemAdded, map[string]any{"salience": 0.9})
	assert.Equal(t, 0, c.PendingCount())
}

func TestAdapter_EmotionChangeTagsLaterItems(t *testing.T) {
	bus, _, c, store := newTestAdapter(t)

	bus.Publish(TopicEmotionChanged, map[string]any{
		"valence": -0.7,
		"arousal": 0.9,
		"emotion": "dread",
	})
	bus.Publish(TopicSTMItemAdded, map[string]any{
		"content":  "footsteps behind",
		"salience": 0.6,
	})

	c.RunCycle()

	memories := store.Retrieve(ltm.Query{Text: "footsteps", SkipAccessUpdate: true})
	require.Len(t, memories, 1)
	require.NotNil(t, memories[0].EmotionTag)
	assert.Equal(t, "dread", memories[0].EmotionTag.EmotionLabel)
	assert.Equal(t, -0.7, memories[0].EmotionTag.Valence)
}

func TestAdapter_SignificantEventConsolidatesAndAnnounces(t *testing.T) {
	bus, _, _, store := newTestAdapter(t)

	var announced []Event
	bus.Subscribe(TopicMemoryConsolidated, func(e Event) { announced = append(announced, e) })

	bus.Publish(TopicSignificantEvent, map[string]any{"content": "explosion nearby"})

	assert.Equal(t, 1, store.Len())
	require.Len(t, announced, 1)

	id, _ := announced[0].Data["memory_id"].(string)
	memory, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "forced_consolidation", memory.Source)
	assert.Equal(t, 1.0, memory.SalienceAtEncoding)

	// The whole event payload is the stored content.
	content, ok := memory.Content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "explosion nearby", content["content"])
}

func TestAdapter_SignificantEventWithoutContentKey(t *testing.T) {
	bus, _, _, store := newTestAdapter(t)

	bus.Publish(TopicSignificantEvent, map[string]any{
		"emotion": "terror",
		"valence": -1.0,
		"arousal": 0.9,
		"details": "the cliff edge gave way",
	})

	require.Equal(t, 1, store.Len())

	memories := store.Retrieve(ltm.Query{EmotionLabel: "terror", SkipAccessUpdate: true})
	require.Len(t, memories, 1)

	memory := memories[0]
	content, ok := memory.Content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "the cliff edge gave way", content["details"])

	// Event-supplied emotion is stored at full intensity, not the ambient
	// context.
	require.NotNil(t, memory.EmotionTag)
	assert.Equal(t, -1.0, memory.EmotionTag.Valence)
	assert.Equal(t, 0.9, memory.EmotionTag.Arousal)
	assert.Equal(t, 1.0, memory.EmotionTag.Intensity)
}

func TestAdapter_SomaticMarkerBecomesEmotionalMemory(t *testing.T) {
	bus, _, c, store := newTestAdapter(t)

	bus.Publish(TopicSomaticMarker, map[string]any{
		"action":           "touch_stove",
		"situation_hash":   "kitchen-stove",
		"valence":          -0.9,
		"strength":         0.8,
		"original_outcome": "burn injury",
	})

	c.RunCycle()

	memories := store.Retrieve(ltm.Query{EmotionLabel: "somatic", SkipAccessUpdate: true})
	require.Len(t, memories, 1)

	memory := memories[0]
	assert.Equal(t, ltm.Emotional, memory.MemoryType)
	assert.Equal(t, "kitchen-stove", memory.ContextHash)
	assert.Equal(t, "consolidation_somatic_marker", memory.Source)
	assert.InDelta(t, 0.97, memory.SalienceAtEncoding, 1e-9)

	// The marker's own outcome is preserved and its strength becomes the
	// tag intensity.
	content, ok := memory.Content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "somatic_marker", content["type"])
	assert.Equal(t, "touch_stove", content["action"])
	assert.Equal(t, "burn injury", content["original_outcome"])

	require.NotNil(t, memory.EmotionTag)
	assert.Equal(t, -0.9, memory.EmotionTag.Valence)
	assert.Equal(t, 0.5, memory.EmotionTag.Arousal)
	assert.Equal(t, 0.8, memory.EmotionTag.Intensity)
}

func TestAdapter_SomaticMarkerDefaults(t *testing.T) {
	bus, _, c, store := newTestAdapter(t)

	bus.Publish(TopicSomaticMarker, map[string]any{
		"action":  "eat_berries",
		"valence": 0.4,
	})

	c.RunCycle()

	memories := store.Retrieve(ltm.Query{EmotionLabel: "somatic", SkipAccessUpdate: true})
	require.Len(t, memories, 1)

	memory := memories[0]
	require.NotNil(t, memory.EmotionTag)
	assert.Equal(t, 0.5, memory.EmotionTag.Intensity)

	content, ok := memory.Content.(map[string]any)
	require.True(t, ok)
	assert.Nil(t, content["original_outcome"])
}

func TestAdapter_DetachStopsDelivery(t *testing.T) {
	bus, adapter, c, _ := newTestAdapter(t)

	adapter.Detach()
	bus.Publish(TopicSTMItemAdded, map[string]any{"content": "after detach"})

	assert.Equal(t, 0, c.PendingCount())
}

func TestAdapter_AttachIsIdempotent(t *testing.T) {
	bus, adapter, c, _ := newTestAdapter(t)

	adapter.Attach()
	bus.Publish(TopicSTMItemAdded, map[string]any{"content": "once only"})

	assert.Equal(t, 1, c.PendingCount())
}
