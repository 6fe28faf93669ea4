// Package metrics collects per-stage telemetry from the voice pipeline
// without ever blocking the audio path. Producers hand events to a bounded
// queue; a single background consumer serializes and exports them, so
// per-turn arrival order is preserved end to end.
package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueCapacity = 256

type Bus struct {
	queue chan Event

	dropped  atomic.Uint64
	reported atomic.Uint64

	exporters []Exporter

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

type BusOption func(*Bus)

func WithExporter(exporter Exporter) BusOption {
	return func(b *Bus) { b.exporters = append(b.exporters, exporter) }
}

func WithQueueCapacity(capacity int) BusOption {
	return func(b *Bus) {
		if capacity > 0 {
			b.queue = make(chan Event, capacity)
		}
	}
}

func NewBus(opts ...BusOption) *Bus {
	bus := &Bus{
		queue:   make(chan Event, defaultQueueCapacity),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(bus)
	}
	if len(bus.exporters) == 0 {
		bus.exporters = []Exporter{NewLogExporter()}
	}

	go bus.drain()

	return bus
}

// Report hands an event to the bus without blocking. Under sustained
// overload events are dropped and counted; the bus surfaces the count as an
// OverflowMetric once the queue has room again.
func (b *Bus) Report(event Event) {
	if b == nil || event == nil {
		return
	}

	select {
	case <-b.closing:
		b.dropped.Add(1)
		return
	default:
	}

	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to overflow so far.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Close stops accepting events, drains the queue, flushes a final overflow
// record if any drops have not been surfaced yet, and closes exporters.
func (b *Bus) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}

	var err error
	b.closeOnce.Do(func() {
		close(b.closing)
		select {
		case <-b.done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}

		for _, exporter := range b.exporters {
			err = errors.Join(err, exporter.Close())
		}
	})
	return err
}

func (b *Bus) drain() {
	defer close(b.done)

	for {
		b.surfaceOverflow()

		select {
		case event := <-b.queue:
			b.export(event)
		case <-b.closing:
			for {
				select {
				case event := <-b.queue:
					b.export(event)
				default:
					b.surfaceOverflow()
					return
				}
			}
		}
	}
}

// surfaceOverflow emits one OverflowMetric covering all drops not yet
// reported. Exported directly rather than queued so it cannot itself drop.
func (b *Bus) surfaceOverflow() {
	dropped := b.dropped.Load()
	reported := b.reported.Load()
	if dropped == reported {
		return
	}

	b.reported.Store(dropped)
	b.export(OverflowMetric{
		Label:        "metrics_bus",
		Timestamp:    Now(),
		DroppedCount: dropped - reported,
	})
}

func (b *Bus) export(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, exporter := range b.exporters {
		if err := exporter.Export(ctx, event); err != nil {
			logger.ErrorContext(ctx, "failed to export metric event",
				"type", event.MetricType(), "error", err)
		}
	}
}
