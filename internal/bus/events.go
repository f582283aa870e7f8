// Package bus fans processing outcomes out to in-process subscribers and keeps
// a short history of them for the admin API.
package bus

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"spdropbot/internal/domain"
)

const defaultMaxHistory = 200

// Event is one processing outcome as seen by subscribers.
type Event struct {
	Type      string // outcome.replied | outcome.failed | outcome.ignored_group | outcome.ignored_empty
	Outcome   domain.Outcome
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe hub. Subscribing to "*" receives every event.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
	nextID     int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

var _ domain.OutcomeSink = (*EventBus)(nil)

// NewEventBus creates a bus retaining the last maxHistory events (default 200).
func NewEventBus(maxHistory int, logger *slog.Logger) *EventBus {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: maxHistory,
	}
}

// EventType names the topic an outcome is published under.
func EventType(status domain.OutcomeStatus) string {
	return "outcome." + string(status)
}

// Record implements domain.OutcomeSink.
func (eb *EventBus) Record(_ context.Context, o domain.Outcome) {
	eb.Emit(Event{Type: EventType(o.Status), Outcome: o})
}

// On registers a handler and returns its ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit delivers the event synchronously; a panicking handler is logged and skipped.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = append(eb.history[:0], eb.history[1:]...)
	}
	eb.history = append(eb.history, event)
	handlers := append([]namedHandler(nil), eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns historical events of a type ("*" for all) since the given time.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// Recent returns up to n outcomes, newest first.
func (eb *EventBus) Recent(n int) []domain.Outcome {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if n <= 0 || n > len(eb.history) {
		n = len(eb.history)
	}
	out := make([]domain.Outcome, 0, n)
	for i := len(eb.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, eb.history[i].Outcome)
	}
	return out
}

// HistoryLen returns the current number of events in the history buffer.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}
