package metrics

// Collector is the interface for metrics collection across the memory
// subsystem. Implementations include the Prometheus-backed collector and the
// no-op collector used when metrics are disabled.
type Collector interface {
	// RecordStore counts a successful store call, labeled by memory type.
	RecordStore(memoryType string)

	// RecordRetrieval counts a retrieval call, labeled by retrieval kind
	// ("query", "emotion", "emotional", "linked"), with the result count.
	RecordRetrieval(kind string, results int)

	// RecordEviction counts a capacity-driven eviction.
	RecordEviction()

	// RecordCycle records the outcome of one consolidation cycle.
	RecordCycle(consolidated, rejected int)

	// SetMemoryCount sets the current number of memories in the store.
	SetMemoryCount(count int)

	// SetPendingCount sets the current consolidation pending-queue depth.
	SetPendingCount(count int)
}
