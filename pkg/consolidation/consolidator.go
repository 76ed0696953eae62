// Package consolidation implements the short-term to long-term memory
// promotion policy: a pending queue of candidate observations, a weighted
// scoring function over salience, emotion and access frequency, and a
// background loop that runs consolidation cycles on a fixed interval.
package consolidation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mindsim/engram/pkg/ltm"
	"github.com/mindsim/engram/pkg/metrics"
	"github.com/mindsim/engram/pkg/trace"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultThreshold       = 0.6
	DefaultEmotionBoost    = 0.2
	DefaultAccessThreshold = 3
	DefaultInterval        = 60 * time.Second
)

// Scoring constants of the promotion policy.
const (
	// accessBonusPerExtra is added per access beyond the access threshold.
	accessBonusPerExtra = 0.05
	// accessBonusCap limits the total access-frequency bonus.
	accessBonusCap = 0.2
	// stalePendingAge is how long an item may sit unconsolidated before the
	// recency penalty applies.
	stalePendingAge = 300 * time.Second
	// stalePenalty is the flat score deduction for stale pending items.
	stalePenalty = 0.05
)

// EmotionState is the ambient affect mapping pushed in from an external
// emotion system.
type EmotionState struct {
	Valence   float64
	Arousal   float64
	Dominance float64
	Emotion   string
}

// Tag converts the state to an EmotionTag, deriving intensity as
// |valence| * arousal.
func (e EmotionState) Tag() *ltm.EmotionTag {
	return &ltm.EmotionTag{
		Valence:      e.Valence,
		Arousal:      e.Arousal,
		Dominance:    e.Dominance,
		EmotionLabel: e.Emotion,
		Intensity:    math.Abs(e.Valence) * e.Arousal,
	}
}

// PendingItem is a short-term observation waiting for the next
// consolidation cycle. Items live only until that cycle runs; they are then
// promoted into the store or dropped for good.
type PendingItem struct {
	Content     any
	Salience    float64
	AccessCount int
	ContextHash string
	EmotionTag  *ltm.EmotionTag
	MemoryType  ltm.MemoryType
	Source      string
	AddedAt     time.Time
}

// PendingOptions carries the optional attributes of AddToPending.
type PendingOptions struct {
	AccessCount int
	ContextHash string
	// EmotionTag tags the item with a fully formed tag and takes precedence
	// over EmotionState.
	EmotionTag *ltm.EmotionTag
	// EmotionState tags the item with a derived tag (intensity is
	// |valence| * arousal). When both it and EmotionTag are nil, the
	// consolidator's current ambient emotional context is used, if any.
	EmotionState *EmotionState
	MemoryType   ltm.MemoryType
	Source       string
}

// CycleResult reports the outcome of one consolidation cycle.
type CycleResult struct {
	Consolidated int `json:"consolidated"`
	Rejected     int `json:"rejected"`
}

// Config holds construction parameters for a Consolidator.
type Config struct {
	// Threshold is the minimum score for promotion (inclusive). Default 0.6.
	Threshold float64

	// EmotionBoost scales the emotional contribution to the score.
	// Default 0.2.
	EmotionBoost float64

	// AccessThreshold is the access count at which the frequency bonus
	// starts. Default 3.
	AccessThreshold int

	// Interval is the background cycle period. Default 60s.
	Interval time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to the no-op collector.
	Metrics metrics.Collector

	// Trace receives per-cycle decision records. Defaults to the no-op
	// exporter.
	Trace trace.Exporter
}

// Consolidator owns the pending queue and the promotion policy. It holds a
// non-owning reference to the long-term store. All methods are safe for
// concurrent use.
type Consolidator struct {
	store *ltm.Store

	threshold       float64
	emotionBoost    float64
	accessThreshold int
	interval        time.Duration
	logger          *slog.Logger
	collector       metrics.Collector
	tracer          trace.Exporter
	now             func() time.Time

	mu             sync.Mutex
	pending        []PendingItem
	currentEmotion *ltm.EmotionTag

	cycles       int64
	consolidated int64
	rejected     int64

	loopMu   sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// Stats summarizes consolidator activity, including nested store stats.
type Stats struct {
	Cycles            int64     `json:"consolidation_cycles"`
	ItemsConsolidated int64     `json:"items_consolidated"`
	ItemsRejected     int64     `json:"items_rejected"`
	PendingCount      int       `json:"pending_count"`
	ConsolidationRate float64   `json:"consolidation_rate"`
	LTM               ltm.Stats `json:"ltm_stats"`
}

// New creates a Consolidator promoting into store.
func New(store *ltm.Store, cfg Config) *Consolidator {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.EmotionBoost == 0 {
		cfg.EmotionBoost = DefaultEmotionBoost
	}
	if cfg.AccessThreshold == 0 {
		cfg.AccessThreshold = DefaultAccessThreshold
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopCollector()
	}
	if cfg.Trace == nil {
		cfg.Trace = trace.NewNoopExporter()
	}

	return &Consolidator{
		store:           store,
		threshold:       cfg.Threshold,
		emotionBoost:    cfg.EmotionBoost,
		accessThreshold: cfg.AccessThreshold,
		interval:        cfg.Interval,
		logger:          cfg.Logger,
		collector:       cfg.Metrics,
		tracer:          cfg.Trace,
		now:             time.Now,
	}
}

// AddToPending queues a short-term observation for the next consolidation
// cycle. The queue is unbounded; rejection at cycle time is terminal, and a
// source wanting another chance must resubmit.
func (c *Consolidator) AddToPending(content any, salience float64, opts *PendingOptions) {
	if opts == nil {
		opts = &PendingOptions{}
	}
	if opts.AccessCount == 0 {
		opts.AccessCount = 1
	}
	if opts.MemoryType == "" {
		opts.MemoryType = ltm.Episodic
	}
	if opts.Source == "" {
		opts.Source = "stm"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var tag *ltm.EmotionTag
	switch {
	case opts.EmotionTag != nil:
		tag = opts.EmotionTag
	case opts.EmotionState != nil:
		tag = opts.EmotionState.Tag()
	default:
		tag = c.currentEmotion
	}

	c.pending = append(c.pending, PendingItem{
		Content:     content,
		Salience:    salience,
		AccessCount: opts.AccessCount,
		ContextHash: opts.ContextHash,
		EmotionTag:  tag,
		MemoryType:  opts.MemoryType,
		Source:      opts.Source,
		AddedAt:     c.now(),
	})
	c.collector.SetPendingCount(len(c.pending))

	c.logger.Debug("consolidation: added pending item",
		"salience", salience,
		"emotion", emotionLabel(tag))
}

// UpdateEmotionContext replaces the ambient emotional context used to tag
// pending items that arrive without an explicit emotion state.
func (c *Consolidator) UpdateEmotionContext(state EmotionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentEmotion = state.Tag()
}

// RunCycle scores every pending item and promotes those meeting the
// threshold into the long-term store. The queue is swapped out atomically
// first, so items added while scoring runs land in the next cycle.
func (c *Consolidator) RunCycle() CycleResult {
	c.mu.Lock()
	items := c.pending
	c.pending = nil
	c.collector.SetPendingCount(0)
	c.mu.Unlock()

	now := c.now()
	started := time.Now()
	var result CycleResult
	decisions := make([]trace.DecisionRecord, 0, len(items))

	for _, item := range items {
		score := c.score(item, now)
		decision := trace.DecisionRecord{
			Source:    item.Source,
			Score:     score,
			Threshold: c.threshold,
		}

		if score >= c.threshold {
			memory := c.store.Store(item.Content, item.MemoryType, &ltm.StoreOptions{
				EmotionTag:  item.EmotionTag,
				ContextHash: item.ContextHash,
				Salience:    item.Salience,
				Source:      "consolidation_" + item.Source,
			})
			result.Consolidated++
			decision.MemoryID = memory.MemoryID
			decision.Promoted = true
			c.logger.Debug("consolidation: promoted item",
				"memory_id", shortID(memory.MemoryID),
				"score", fmt.Sprintf("%.2f", score))
		} else {
			result.Rejected++
		}
		decisions = append(decisions, decision)
	}

	c.mu.Lock()
	c.cycles++
	c.consolidated += int64(result.Consolidated)
	c.rejected += int64(result.Rejected)
	cycle := c.cycles
	c.mu.Unlock()

	c.collector.RecordCycle(result.Consolidated, result.Rejected)

	if err := c.tracer.Export(context.Background(), &trace.CycleRecord{
		Timestamp:    now,
		Cycle:        cycle,
		DurationMs:   time.Since(started).Milliseconds(),
		Consolidated: result.Consolidated,
		Rejected:     result.Rejected,
		Decisions:    decisions,
	}); err != nil {
		c.logger.Warn("consolidation: trace export failed", "error", err)
	}

	c.logger.Info("consolidation: cycle complete",
		"cycle", cycle,
		"consolidated", result.Consolidated,
		"rejected", result.Rejected)

	return result
}

// score computes the promotion score for a pending item:
//
//	score = salience
//	      + emotionBoost * |valence| * max(0.5, arousal)
//	      + min(0.2, (accessCount - accessThreshold) * 0.05)  [when over threshold]
//	      - 0.05                                              [when pending > 300s]
//
// clamped to [0, 1].
func (c *Consolidator) score(item PendingItem, now time.Time) float64 {
	score := item.Salience

	if item.EmotionTag != nil {
		arousal := item.EmotionTag.Arousal
		if arousal < 0.5 {
			arousal = 0.5
		}
		score += c.emotionBoost * math.Abs(item.EmotionTag.Valence) * arousal
	}

	if item.AccessCount >= c.accessThreshold {
		bonus := float64(item.AccessCount-c.accessThreshold) * accessBonusPerExtra
		if bonus > accessBonusCap {
			bonus = accessBonusCap
		}
		score += bonus
	}

	if now.Sub(item.AddedAt) > stalePendingAge {
		score -= stalePenalty
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ForceConsolidate bypasses scoring and writes content straight to the
// long-term store at salience 1.0, for externally flagged significant
// events. The given emotion tag is used when non-nil, else the ambient
// emotional context.
func (c *Consolidator) ForceConsolidate(content any, tag *ltm.EmotionTag) *ltm.ConsolidatedMemory {
	if tag == nil {
		c.mu.Lock()
		tag = c.currentEmotion
		c.mu.Unlock()
	}

	return c.store.Store(content, ltm.Episodic, &ltm.StoreOptions{
		EmotionTag: tag,
		Salience:   1.0,
		Source:     "forced_consolidation",
	})
}

// Start launches the background loop running RunCycle on the configured
// interval until Stop is called. Starting an already-running consolidator is
// a no-op.
func (c *Consolidator) Start() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.loopDone = make(chan struct{})

	go c.loop(ctx)
	c.logger.Info("consolidation: started", "interval", c.interval)
}

// Stop cancels the background loop and waits for it to exit. An in-flight
// cycle is allowed to finish; the queue swap in RunCycle keeps the pending
// list consistent either way. Stopping a stopped consolidator is a no-op.
func (c *Consolidator) Stop() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.cancel == nil {
		return
	}

	c.cancel()
	<-c.loopDone
	c.cancel = nil
	c.loopDone = nil

	c.logger.Info("consolidation: stopped")
}

// loop runs cycles on a fixed ticker. A fault inside one cycle is logged and
// does not end the loop; cancellation is the only expected exit.
func (c *Consolidator) loop(ctx context.Context) {
	defer close(c.loopDone)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.safeCycle()
		}
	}
}

// safeCycle isolates one cycle's faults from the scheduling loop.
func (c *Consolidator) safeCycle() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("consolidation: cycle failed", "panic", r)
		}
	}()
	c.RunCycle()
}

// PendingCount returns the current depth of the pending queue.
func (c *Consolidator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stats returns cycle counters, the consolidation rate, and nested store
// stats.
func (c *Consolidator) Stats() Stats {
	c.mu.Lock()
	cycles := c.cycles
	consolidated := c.consolidated
	rejected := c.rejected
	pending := len(c.pending)
	c.mu.Unlock()

	total := consolidated + rejected
	if total == 0 {
		total = 1
	}

	return Stats{
		Cycles:            cycles,
		ItemsConsolidated: consolidated,
		ItemsRejected:     rejected,
		PendingCount:      pending,
		ConsolidationRate: float64(consolidated) / float64(total),
		LTM:               c.store.Stats(),
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func emotionLabel(tag *ltm.EmotionTag) string {
	if tag == nil {
		return "none"
	}
	return tag.EmotionLabel
}
