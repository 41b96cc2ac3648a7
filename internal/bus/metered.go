package bus

import (
	"context"
	"time"
)

// MetricsRecorder receives the latency and outcome of every published run event.
type MetricsRecorder interface {
	RecordBusPublish(topic string, latencyMs int64, err error)
}

// MeteredBus times every Publish of the wrapped bus.
type MeteredBus struct {
	Bus
	rec MetricsRecorder
}

// NewMeteredBus wraps inner. With a nil recorder inner is returned as is.
func NewMeteredBus(inner Bus, rec MetricsRecorder) Bus {
	if rec == nil {
		return inner
	}
	return &MeteredBus{Bus: inner, rec: rec}
}

func (b *MeteredBus) Publish(ctx context.Context, topic string, event Event) error {
	start := time.Now()
	err := b.Bus.Publish(ctx, topic, event)
	b.rec.RecordBusPublish(topic, time.Since(start).Milliseconds(), err)
	return err
}
