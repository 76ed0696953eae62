// Package trace exports consolidation decision traces for offline
// analysis of what the agent remembers and why.
package trace

import (
	"context"
	"time"
)

// Exporter defines the interface for exporting consolidation traces.
// Implementations must be safe for concurrent use.
type Exporter interface {
	// Export writes a cycle record to the configured destination.
	Export(ctx context.Context, record *CycleRecord) error

	// Close flushes any buffered records and releases resources.
	// Should be called during graceful shutdown.
	Close() error
}

// CycleRecord captures one consolidation cycle. It contains NO memory
// content, only identifiers and scores.
type CycleRecord struct {
	// Timestamp is the cycle start time
	Timestamp time.Time `json:"timestamp"`

	// Cycle is the sequence number of this cycle
	Cycle int64 `json:"cycle"`

	// DurationMs is the cycle duration in milliseconds
	DurationMs int64 `json:"durationMs"`

	// Consolidated and Rejected count the cycle's outcomes
	Consolidated int `json:"consolidated"`
	Rejected     int `json:"rejected"`

	// Decisions holds the per-item scoring outcomes
	Decisions []DecisionRecord `json:"decisions,omitempty"`
}

// DecisionRecord is the scoring outcome for a single pending item.
type DecisionRecord struct {
	// MemoryID identifies the stored memory; empty for rejected items
	MemoryID string `json:"memoryId,omitempty"`

	// Source is where the item came from (stm, somatic_marker, ...)
	Source string `json:"source"`

	// Score and Threshold show how the decision fell
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`

	// Promoted indicates whether the item entered long-term memory
	Promoted bool `json:"promoted"`
}
