package consolidation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindsim/engram/pkg/ltm"
	"github.com/mindsim/engram/pkg/trace"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestConsolidator(t *testing.T, cfg Config) (*Consolidator, *ltm.Store, *fakeClock) {
	t.Helper()
	store := ltm.NewStore(ltm.Config{})
	c := New(store, cfg)
	clock := newFakeClock()
	c.now = clock.Now
	return c, store, clock
}

func TestRunCycle_ThresholdSplitsQueue(t *testing.T) {
	c, store, _ := newTestConsolidator(t, Config{})

	c.AddToPending("vivid event", 0.8, nil)
	c.AddToPending("background noise", 0.2, nil)

	result := c.RunCycle()

	assert.Equal(t, 1, result.Consolidated)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 1, store.Len())

	memories := store.Retrieve(ltm.Query{Text: "vivid", SkipAccessUpdate: true})
	require.Len(t, memories, 1)
	assert.Equal(t, "consolidation_stm", memories[0].Source)
	assert.Equal(t, 0.8, memories[0].SalienceAtEncoding)
}

func TestRunCycle_ThresholdIsInclusive(t *testing.T) {
	c, store, _ := newTestConsolidator(t, Config{})

	c.AddToPending("exactly at threshold", 0.6, nil)

	result := c.RunCycle()
	assert.Equal(t, 1, result.Consolidated)
	assert.Equal(t, 1, store.Len())
}

func TestRunCycle_EmotionBoost(t *testing.T) {
	c, store, _ := newTestConsolidator(t, Config{
		Threshold:    0.55,
		EmotionBoost: 0.3,
	})

	// 0.4 + 0.3*0.8*0.9 = 0.616, promoted.
	c.AddToPending("near miss on the stairs", 0.4, &PendingOptions{
		EmotionState: &EmotionState{Valence: -0.8, Arousal: 0.9, Emotion: "fear"},
	})
	// 0.4 + 0.3*0.0*0.5 = 0.4, rejected.
	c.AddToPending("hallway wallpaper", 0.4, &PendingOptions{
		EmotionState: &EmotionState{Valence: 0.0, Arousal: 0.1, Emotion: "neutral"},
	})
	// 0.4 + 0.3*0.7*0.7 = 0.547, just under.
	c.AddToPending("pleasant chat", 0.4, &PendingOptions{
		EmotionState: &EmotionState{Valence: 0.7, Arousal: 0.7, Emotion: "joy"},
	})

	result := c.RunCycle()
	assert.Equal(t, 1, result.Consolidated)
	assert.Equal(t, 2, result.Rejected)

	memories := store.Retrieve(ltm.Query{Text: "stairs", SkipAccessUpdate: true})
	require.Len(t, memories, 1)
	require.NotNil(t, memories[0].EmotionTag)
	assert.Equal(t, "fear", memories[0].EmotionTag.EmotionLabel)
}

func TestRunCycle_ArousalFloor(t *testing.T) {
	c, _, _ := newTestConsolidator(t, Config{})

	// Low arousal still contributes at the 0.5 floor:
	// 0.5 + 0.2*1.0*0.5 = 0.6.
	c.AddToPending("calm but strongly positive", 0.5, &PendingOptions{
		EmotionState: &EmotionState{Valence: 1.0, Arousal: 0.1, Emotion: "content"},
	})

	result := c.RunCycle()
	assert.Equal(t, 1, result.Consolidated)
}

func TestRunCycle_AccessBonus(t *testing.T) {
	c, _, _ := newTestConsolidator(t, Config{})

	// At the access threshold the bonus is zero: 0.5 stays under 0.6.
	c.AddToPending("seen three times", 0.5, &PendingOptions{AccessCount: 3})
	// 0.5 + (5-3)*0.05 = 0.6.
	c.AddToPending("seen five times", 0.5, &PendingOptions{AccessCount: 5})

	result := c.RunCycle()
	assert.Equal(t, 1, result.Consolidated)
	assert.Equal(t, 1, result.Rejected)
}

func TestRunCycle_AccessBonusIsCapped(t *testing.T) {
	c, _, _ := newTestConsolidator(t, Config{})

	// The bonus caps at 0.2: 0.35 + 0.2 = 0.55 stays under 0.6 no matter
	// how many accesses.
	c.AddToPending("hammered but dull", 0.35, &PendingOptions{AccessCount: 100})
	// 0.4 + 0.2 = 0.6.
	c.AddToPending("hammered and notable", 0.4, &PendingOptions{AccessCount: 100})

	result := c.RunCycle()
	assert.Equal(t, 1, result.Consolidated)
	assert.Equal(t, 1, result.Rejected)
}

func TestRunCycle_StalePendingPenalty(t *testing.T) {
	c, _, clock := newTestConsolidator(t, Config{})

	c.AddToPending("aged out", 0.6, nil)
	clock.Advance(301 * time.Second)

	// 0.6 - 0.05 = 0.55 drops below the threshold.
	result := c.RunCycle()
	assert.Equal(t, 0, result.Consolidated)
	assert.Equal(t, 1, result.Rejected)
}

func TestRunCycle_PenaltyOnlyAfterFiveMinutes(t *testing.T) {
	c, _, clock := newTestConsolidator(t, Config{})

	c.AddToPending("right at the edge", 0.6, nil)
	clock.Advance(300 * time.Second)

	result := c.RunCycle()
	assert.Equal(t, 1, result.Consolidated)
}

func TestRunCycle_RejectionIsTerminal(t *testing.T) {
	c, _, _ := newTestConsolidator(t, Config{})

	c.AddToPending("forgettable", 0.1, nil)

	first := c.RunCycle()
	assert.Equal(t, 1, first.Rejected)
	assert.Equal(t, 0, c.PendingCount())

	second := c.RunCycle()
	assert.Equal(t, 0, second.Consolidated)
	assert.Equal(t, 0, second.Rejected)
}

func TestRunCycle_ItemsAddedAfterSwapLandInNextCycle(t *testing.T) {
	c, _, _ := newTestConsolidator(t, Config{})

	c.AddToPending("first batch", 0.9, nil)
	first := c.RunCycle()
	assert.Equal(t, 1, first.Consolidated)

	c.AddToPending("second batch", 0.9, nil)
	assert.Equal(t, 1, c.PendingCount())

	second := c.RunCycle()
	assert.Equal(t, 1, second.Consolidated)
	assert.Equal(t, 0, c.PendingCount())
}

func TestRunCycle_ConcurrentAddsAreNeverLost(t *testing.T) {
	c, _, _ := newTestConsolidator(t, Config{})

	const writers = 4
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				c.AddToPending(fmt.Sprintf("item %d/%d", w, i), 0.9, nil)
				if i%10 == 0 {
					c.RunCycle()
				}
			}
		}(w)
	}
	wg.Wait()
	c.RunCycle()

	stats := c.Stats()
	assert.Equal(t, int64(writers*perWriter), stats.ItemsConsolidated+stats.ItemsRejected)
	assert.Equal(t, 0, stats.PendingCount)
}

func TestAddToPending_UsesAmbientEmotionContext(t *testing.T) {
	c, store, _ := newTestConsolidator(t, Config{})

	c.UpdateEmotionContext(EmotionState{Valence: -0.6, Arousal: 0.8, Emotion: "anxiety"})
	c.AddToPending("storm warning", 0.9, nil)

	c.RunCycle()

	memories := store.Retrieve(ltm.Query{Text: "storm", SkipAccessUpdate: true})
	require.Len(t, memories, 1)
	require.NotNil(t, memories[0].EmotionTag)
	assert.Equal(t, "anxiety", memories[0].EmotionTag.EmotionLabel)
	assert.InDelta(t, 0.48, memories[0].EmotionTag.Intensity, 1e-9)
}

func TestAddToPending_ExplicitTagWinsOverState(t *testing.T) {
	c, store, _ := newTestConsolidator(t, Config{})

	// A fully formed tag carries its own intensity instead of the
	// |valence| * arousal derivation.
	c.AddToPending("gut feeling", 0.9, &PendingOptions{
		EmotionTag: &ltm.EmotionTag{
			Valence: -0.4, Arousal: 0.5, EmotionLabel: "somatic", Intensity: 0.8,
		},
		EmotionState: &EmotionState{Valence: 0.9, Arousal: 0.9, Emotion: "ignored"},
	})

	c.RunCycle()

	memories := store.Retrieve(ltm.Query{Text: "gut", SkipAccessUpdate: true})
	require.Len(t, memories, 1)
	require.NotNil(t, memories[0].EmotionTag)
	assert.Equal(t, "somatic", memories[0].EmotionTag.EmotionLabel)
	assert.Equal(t, 0.8, memories[0].EmotionTag.Intensity)
}

func TestAddToPending_ExplicitEmotionWinsOverAmbient(t *testing.T) {
	c, store, _ := newTestConsolidator(t, Config{})

	c.UpdateEmotionContext(EmotionState{Valence: 0.1, Arousal: 0.2, Emotion: "calm"})
	c.AddToPending("explicit tag", 0.9, &PendingOptions{
		EmotionState: &EmotionState{Valence: 0.9, Arousal: 0.9, Emotion: "elation"},
	})

	c.RunCycle()

	memories := store.Retrieve(ltm.Query{Text: "explicit", SkipAccessUpdate: true})
	require.Len(t, memories, 1)
	assert.Equal(t, "elation", memories[0].EmotionTag.EmotionLabel)
}

func TestForceConsolidate_BypassesScoring(t *testing.T) {
	c, store, _ := newTestConsolidator(t, Config{})

	memory := c.ForceConsolidate("fire alarm", &ltm.EmotionTag{
		Valence: -0.9, Arousal: 1.0, EmotionLabel: "panic", Intensity: 0.9,
	})

	require.NotNil(t, memory)
	assert.Equal(t, 1.0, memory.SalienceAtEncoding)
	assert.Equal(t, "forced_consolidation", memory.Source)
	assert.Equal(t, ltm.Episodic, memory.MemoryType)
	assert.Equal(t, 1, store.Len())
}

func TestForceConsolidate_FallsBackToAmbientEmotion(t *testing.T) {
	c, _, _ := newTestConsolidator(t, Config{})

	c.UpdateEmotionContext(EmotionState{Valence: 0.5, Arousal: 0.6, Emotion: "surprise"})
	memory := c.ForceConsolidate("sudden knock", nil)

	require.NotNil(t, memory.EmotionTag)
	assert.Equal(t, "surprise", memory.EmotionTag.EmotionLabel)
}

func TestStats(t *testing.T) {
	c, _, _ := newTestConsolidator(t, Config{})

	c.AddToPending("keep", 0.9, nil)
	c.AddToPending("drop", 0.1, nil)
	c.RunCycle()
	c.AddToPending("still waiting", 0.5, nil)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Cycles)
	assert.Equal(t, int64(1), stats.ItemsConsolidated)
	assert.Equal(t, int64(1), stats.ItemsRejected)
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, 0.5, stats.ConsolidationRate)
	assert.Equal(t, 1, stats.LTM.TotalMemories)
}

func TestStats_ZeroActivity(t *testing.T) {
	c, _, _ := newTestConsolidator(t, Config{})

	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Cycles)
	assert.Equal(t, 0.0, stats.ConsolidationRate)
}

func TestStartStop_BackgroundLoop(t *testing.T) {
	store := ltm.NewStore(ltm.Config{})
	c := New(store, Config{Interval: 5 * time.Millisecond})

	c.AddToPending("picked up by the loop", 0.9, nil)
	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool {
		return store.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartStop_Idempotent(t *testing.T) {
	store := ltm.NewStore(ltm.Config{})
	c := New(store, Config{Interval: time.Hour})

	c.Start()
	c.Start()
	c.Stop()
	c.Stop()
}

type captureExporter struct {
	records []*trace.CycleRecord
}

func (c *captureExporter) Export(_ context.Context, r *trace.CycleRecord) error {
	c.records = append(c.records, r)
	return nil
}

func (c *captureExporter) Close() error { return nil }

func TestRunCycle_ExportsDecisionTrace(t *testing.T) {
	store := ltm.NewStore(ltm.Config{})
	exporter := &captureExporter{}
	c := New(store, Config{Trace: exporter})

	c.AddToPending("promoted", 0.9, nil)
	c.AddToPending("rejected", 0.1, nil)
	c.RunCycle()

	require.Len(t, exporter.records, 1)
	record := exporter.records[0]
	assert.Equal(t, int64(1), record.Cycle)
	assert.Equal(t, 1, record.Consolidated)
	assert.Equal(t, 1, record.Rejected)
	require.Len(t, record.Decisions, 2)

	assert.True(t, record.Decisions[0].Promoted)
	assert.NotEmpty(t, record.Decisions[0].MemoryID)
	assert.Equal(t, 0.6, record.Decisions[0].Threshold)
	assert.False(t, record.Decisions[1].Promoted)
	assert.Empty(t, record.Decisions[1].MemoryID)
}
