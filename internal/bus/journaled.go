package bus

import (
	"context"
	stderrors "errors"

	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// JournaledBus appends every run event the wrapped bus accepted to a JSONL
// journal, so a finished run can be replayed with EventLogger.RunEvents.
type JournaledBus struct {
	Bus
	journal *EventLogger
	log     *logger.Logger
}

// NewJournaledBus wraps inner with journal.
func NewJournaledBus(inner Bus, journal *EventLogger, log *logger.Logger) *JournaledBus {
	if log == nil {
		log = logger.Default()
	}
	return &JournaledBus{Bus: inner, journal: journal, log: log}
}

// Publish delegates, then journals the event. Journal failures are logged,
// not returned.
func (b *JournaledBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := b.Bus.Publish(ctx, topic, event); err != nil {
		return err
	}
	if err := b.journal.Log(topic, event); err != nil {
		b.log.WithError(err).Warn("Failed to journal run event",
			"topic", topic,
			"run", event.CorrelationID,
		)
	}
	return nil
}

// Close closes the wrapped bus and the journal.
func (b *JournaledBus) Close() error {
	return stderrors.Join(b.Bus.Close(), b.journal.Close())
}
