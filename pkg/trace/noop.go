package trace

import "context"

// NoopExporter is a zero-overhead exporter that does nothing. Used when
// tracing is not configured.
type NoopExporter struct{}

// NewNoopExporter creates a NoopExporter.
func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

// Export does nothing.
func (n *NoopExporter) Export(ctx context.Context, record *CycleRecord) error {
	return nil
}

// Close does nothing.
func (n *NoopExporter) Close() error {
	return nil
}

var (
	_ Exporter = (*NoopExporter)(nil)
	_ Exporter = (*FileExporter)(nil)
)
