package bus

import (
	"context"
	"fmt"
	"strings"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration. A configured
// event log wraps the bus so every published event is also kept on disk.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	if log == nil {
		log = logger.Default()
	}

	var b Bus
	switch strings.ToLower(cfg.Type) {
	case "none":
		b = Nop{}

	case "memory", "":
		b = NewMemoryBus(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "rice-eval"
		}

		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			ClientID:      "rice-eval-bus",
		}, log)
		if err != nil {
			return nil, err
		}
		b = kb

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.EventLog != "" {
		eventLogger, err := NewEventLogger(cfg.EventLog, true)
		if err != nil {
			b.Close()
			return nil, errors.ConfigurationError("opening event log", err)
		}
		b = NewJournaledBus(b, eventLogger, log.WithComponent("event_log"))
	}

	return b, nil
}

// Nop discards every event.
type Nop struct{}

// Publish implements Bus.
func (Nop) Publish(context.Context, string, Event) error { return nil }

// Subscribe implements Bus.
func (Nop) Subscribe(context.Context, string, Handler) error { return nil }

// Close implements Bus.
func (Nop) Close() error { return nil }
