package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InMemoryBus delivers events to registered handlers asynchronously.
// Handler errors and panics are logged and dropped.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	wg       sync.WaitGroup
	logger   *slog.Logger
}

var _ Publisher = (*InMemoryBus)(nil)

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus(logger *slog.Logger) *InMemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		handlers: make(map[string][]Handler),
		logger:   logger.With("component", "event_bus"),
	}
}

// Subscribe registers handler for topic.
func (b *InMemoryBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	b.logger.Debug("registered event handler", "topic", topic, "handler_count", len(b.handlers[topic]))
}

// Publish implements Publisher.
func (b *InMemoryBus) Publish(ctx context.Context, topic string, payload any) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event, err := NewEvent(topic, payload)
	if err != nil {
		b.logger.Error("failed to encode event payload", "topic", topic, "error", err)
		return
	}

	ctx = context.WithoutCancel(ctx)
	for i, handler := range handlers {
		b.wg.Add(1)
		go func(i int, handler Handler) {
			defer b.wg.Done()
			if err := b.deliver(ctx, handler, event); err != nil {
				b.logger.Error("handler failed to process event",
					"error", err,
					"handler_index", i,
					"event_id", event.ID,
					"topic", event.Topic)
			}
		}(i, handler)
	}
}

func (b *InMemoryBus) deliver(ctx context.Context, handler Handler, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.HandleEvent(ctx, event)
}

// Wait blocks until every in-flight delivery has finished.
func (b *InMemoryBus) Wait() {
	b.wg.Wait()
}
