package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics
const (
	TopicEntryAnalysis = "entries/analysis"
	TopicBatchSaved    = "batches/saved"
)

// Event is a published notification.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent creates an Event with the payload serialized as JSON.
func NewEvent(topic string, payload any) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Topic:     topic,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// UnmarshalPayload decodes the event payload into v.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// AnalysisOutcome is the payload of TopicEntryAnalysis.
type AnalysisOutcome struct {
	EntryID      uuid.UUID      `json:"entry_id"`
	BatchID      uuid.UUID      `json:"batch_id"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Attempts     int            `json:"attempts,omitempty"`
	Results      map[string]any `json:"results,omitempty"`
}

// BatchSaved is the payload of TopicBatchSaved.
type BatchSaved struct {
	BatchID      uuid.UUID `json:"batch_id"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
}

// Handler processes events delivered by the in-memory bus.
type Handler interface {
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Publisher sends events without reporting delivery failures to the caller.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, string, any) {}

// MultiPublisher fans an event out to several publishers.
type MultiPublisher []Publisher

// Publish implements Publisher.
func (m MultiPublisher) Publish(ctx context.Context, topic string, payload any) {
	for _, p := range m {
		p.Publish(ctx, topic, payload)
	}
}
