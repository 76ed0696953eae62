package metrics

// NoopCollector is a no-op implementation used when metrics are disabled.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordStore does nothing when metrics are disabled.
func (n *NoopCollector) RecordStore(memoryType string) {}

// RecordRetrieval does nothing when metrics are disabled.
func (n *NoopCollector) RecordRetrieval(kind string, results int) {}

// RecordEviction does nothing when metrics are disabled.
func (n *NoopCollector) RecordEviction() {}

// RecordCycle does nothing when metrics are disabled.
func (n *NoopCollector) RecordCycle(consolidated, rejected int) {}

// SetMemoryCount does nothing when metrics are disabled.
func (n *NoopCollector) SetMemoryCount(count int) {}

// SetPendingCount does nothing when metrics are disabled.
func (n *NoopCollector) SetPendingCount(count int) {}

// Compile-time interface checks
var (
	_ Collector = (*NoopCollector)(nil)
	_ Collector = (*PrometheusCollector)(nil)
)
