package metrics

import (
	"context"
	"encoding/json"
	"fmt"
)

// Exporter consumes serialized metric events on the bus's background path.
// A slow exporter delays other exports but never the reporting producers.
type Exporter interface {
	Export(ctx context.Context, event Event) error
	Close() error
}

// LogExporter writes one structured log record per metric event.
type LogExporter struct{}

func NewLogExporter() *LogExporter { return &LogExporter{} }

func (e *LogExporter) Export(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize metric event: %w", err)
	}

	logger.InfoContext(ctx, "metric event collected",
		"type", event.MetricType(),
		"correlation_id", event.Correlation(),
		"record", string(payload),
	)
	return nil
}

func (e *LogExporter) Close() error { return nil }

// FuncExporter adapts a function into an Exporter; handy in tests.
type FuncExporter func(ctx context.Context, event Event) error

func (f FuncExporter) Export(ctx context.Context, event Event) error { return f(ctx, event) }
func (f FuncExporter) Close() error                                  { return nil }
