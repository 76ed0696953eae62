// Package engram provides a biologically inspired long-term memory system
// for cognitive agents
package engram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mindsim/engram/pkg/activation"
	"github.com/mindsim/engram/pkg/consolidation"
	"github.com/mindsim/engram/pkg/events"
	"github.com/mindsim/engram/pkg/ltm"
	"github.com/mindsim/engram/pkg/metrics"
	"github.com/mindsim/engram/pkg/trace"
)

// Config holds configuration for the memory system
type Config struct {
	// MaxMemories caps the long-term store (default: 10000)
	MaxMemories int

	// ContentAddressedIDs makes storing identical content in the same
	// context reinforce the existing record instead of creating a new one
	ContentAddressedIDs bool

	// DecayRate is the power-law forgetting exponent (default: 0.5)
	DecayRate float64

	// RetrievalThreshold is the minimum activation for retrieval
	// (default: -1.0)
	RetrievalThreshold float64

	// ConsolidationThreshold is the minimum promotion score (default: 0.6)
	ConsolidationThreshold float64

	// EmotionBoost scales the emotional score contribution (default: 0.2)
	EmotionBoost float64

	// ConsolidationInterval is the background cycle period (default: 60s)
	ConsolidationInterval time.Duration

	// SnapshotPath enables JSON file persistence when set. For SQLite
	// persistence set Snapshots directly instead.
	SnapshotPath string

	// Snapshots overrides SnapshotPath with a custom persistence backend
	Snapshots ltm.SnapshotStore

	// Bus connects consolidation to an existing event bus. When nil, a
	// private in-process bus is created.
	Bus events.Bus

	// TracePath enables JSON Lines decision tracing when set
	TracePath string

	// Logger defaults to slog.Default()
	Logger *slog.Logger

	// Metrics defaults to the no-op collector
	Metrics metrics.Collector
}

// Engram is the main entry point for the memory system
type Engram struct {
	config       Config
	store        *ltm.Store
	consolidator *consolidation.Consolidator
	bus          events.Bus
	adapter      *events.ConsolidationAdapter
	tracer       trace.Exporter
	logger       *slog.Logger
}

// New creates a new Engram instance wired end to end: activation
// calculator, long-term store, consolidator, and the event-bus adapter.
func New(cfg Config) (*Engram, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopCollector()
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewInProcBus()
	}

	calc := activation.NewCalculator()
	if cfg.DecayRate != 0 {
		calc.DecayRate = cfg.DecayRate
	}
	if cfg.RetrievalThreshold != 0 {
		calc.RetrievalThreshold = cfg.RetrievalThreshold
	}

	snapshots := cfg.Snapshots
	if snapshots == nil && cfg.SnapshotPath != "" {
		snapshots = ltm.NewFileSnapshotStore(cfg.SnapshotPath)
	}

	store := ltm.NewStore(ltm.Config{
		MaxMemories:         cfg.MaxMemories,
		ContentAddressedIDs: cfg.ContentAddressedIDs,
		Calculator:          calc,
		Snapshots:           snapshots,
		Logger:              cfg.Logger,
		Metrics:             cfg.Metrics,
	})

	var tracer trace.Exporter = trace.NewNoopExporter()
	if cfg.TracePath != "" {
		fileTracer, err := trace.NewFileExporter(cfg.TracePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tracer = fileTracer
	}

	consolidator := consolidation.New(store, consolidation.Config{
		Threshold:    cfg.ConsolidationThreshold,
		EmotionBoost: cfg.EmotionBoost,
		Interval:     cfg.ConsolidationInterval,
		Logger:       cfg.Logger,
		Metrics:      cfg.Metrics,
		Trace:        tracer,
	})

	adapter := events.NewConsolidationAdapter(cfg.Bus, consolidator, cfg.Logger)
	adapter.Attach()

	return &Engram{
		config:       cfg,
		store:        store,
		consolidator: consolidator,
		bus:          cfg.Bus,
		adapter:      adapter,
		tracer:       tracer,
		logger:       cfg.Logger,
	}, nil
}

// Store returns the long-term memory store
func (e *Engram) Store() *ltm.Store {
	return e.store
}

// Consolidator returns the consolidation engine
func (e *Engram) Consolidator() *consolidation.Consolidator {
	return e.consolidator
}

// Bus returns the event bus the system is attached to
func (e *Engram) Bus() events.Bus {
	return e.bus
}

// Start launches the background consolidation loop
func (e *Engram) Start() {
	e.consolidator.Start()
}

// Stop halts the background loop, leaving the system attached to the bus
func (e *Engram) Stop() {
	e.consolidator.Stop()
}

// Close stops the loop, detaches from the bus, and saves a final snapshot
// when persistence is configured.
func (e *Engram) Close(ctx context.Context) error {
	e.consolidator.Stop()
	e.adapter.Detach()

	if err := e.store.SaveSnapshot(ctx); err != nil {
		return fmt.Errorf("failed to save final snapshot: %w", err)
	}
	if err := e.tracer.Close(); err != nil {
		return fmt.Errorf("failed to close trace exporter: %w", err)
	}
	return nil
}

// Stats returns consolidator statistics with nested store statistics
func (e *Engram) Stats() consolidation.Stats {
	return e.consolidator.Stats()
}
