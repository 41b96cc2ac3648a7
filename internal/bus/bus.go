// Package bus publishes evaluation progress events.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type, equal to the topic it is published on.
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// CorrelationID links every event of one evaluation run.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// NewEvent creates an event of the given type for run runID.
func NewEvent(eventType, source, runID string, payload any) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UnixMilli(),
		CorrelationID: runID,
		Payload:       payload,
	}
}

// Topics for evaluation progress.
const (
	TopicEvaluationStarted  = "evaluation.started"
	TopicQueryCompleted     = "evaluation.query.completed"
	TopicEvaluationFinished = "evaluation.finished"
)

// EvaluationStarted is the payload of TopicEvaluationStarted.
type EvaluationStarted struct {
	Corpus       string   `json:"corpus"`
	Index        string   `json:"index"`
	Versions     []string `json:"versions"`
	Metrics      []string `json:"metrics"`
	TotalQueries int      `json:"total_queries"`
	Async        bool     `json:"async"`
}

// QueryCompleted is the payload of TopicQueryCompleted.
type QueryCompleted struct {
	Configuration string            `json:"configuration"`
	Topic         string            `json:"topic"`
	QueryGroup    string            `json:"query_group"`
	Query         string            `json:"query"`
	Statuses      map[string]string `json:"statuses"`
	Completed     int64             `json:"completed"`
	Total         int64             `json:"total"`
}

// EvaluationFinished is the payload of TopicEvaluationFinished.
type EvaluationFinished struct {
	Completed  int64                        `json:"completed"`
	Total      int64                        `json:"total"`
	Forced     bool                         `json:"forced"`
	DurationMs int64                        `json:"duration_ms"`
	Metrics    map[string]map[string]string `json:"metrics,omitempty"`
	Error      string                       `json:"error,omitempty"`
}
