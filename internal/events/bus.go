package events

import (
	"sync"
	"time"

	"chart-trade-analyzer/internal/logging"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeCreated      EventType = "trade.created"
	EventExecutionLinked   EventType = "trade.execution_linked"
	EventOutcomeReported   EventType = "trade.outcome_reported"
	EventAnalysisCompleted EventType = "analysis.completed"
	EventPatternReport     EventType = "patterns.report"
	EventUploadsSwept      EventType = "uploads.swept"
	EventError             EventType = "error"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	UserID    string                 `json:"user_id,omitempty"`
	TradeID   string                 `json:"trade_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Publisher is implemented by the bus and anything wrapping it
type Publisher interface {
	Publish(event Event)
}

// EventBus fans events out to subscribers. Each delivery runs on its own
// goroutine and a panicking subscriber only loses that one event.
type EventBus struct {
	mu     sync.RWMutex
	byType map[EventType][]Subscriber
	any    []Subscriber
}

func NewEventBus() *EventBus {
	return &EventBus{byType: make(map[EventType][]Subscriber)}
}

// Subscribe registers fn for one event type
func (eb *EventBus) Subscribe(eventType EventType, fn Subscriber) {
	eb.mu.Lock()
	eb.byType[eventType] = append(eb.byType[eventType], fn)
	eb.mu.Unlock()
}

// SubscribeAll registers fn for every event type
func (eb *EventBus) SubscribeAll(fn Subscriber) {
	eb.mu.Lock()
	eb.any = append(eb.any, fn)
	eb.mu.Unlock()
}

// Publish stamps the event when it has no timestamp and delivers it
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	eb.mu.RLock()
	targets := make([]Subscriber, 0, len(eb.byType[event.Type])+len(eb.any))
	targets = append(targets, eb.byType[event.Type]...)
	targets = append(targets, eb.any...)
	eb.mu.RUnlock()

	for _, fn := range targets {
		go deliver(fn, event)
	}
}

func deliver(fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			l := logging.Default()
			l.Warn().Interface("panic", r).Str("event", string(event.Type)).Msg("Event subscriber panicked")
		}
	}()
	fn(event)
}

// PublishTradeCreated publishes a new pre-trade plan
func (eb *EventBus) PublishTradeCreated(userID, tradeID, instrument, pattern string, withinLimits bool) {
	eb.Publish(Event{
		Type:    EventTradeCreated,
		UserID:  userID,
		TradeID: tradeID,
		Data: map[string]interface{}{
			"instrument":    instrument,
			"pattern_type":  pattern,
			"within_limits": withinLimits,
		},
	})
}

// PublishExecutionLinked publishes the completion of a pre-trade plan
func (eb *EventBus) PublishExecutionLinked(userID, tradeID, executionID string, patterns []string, rrImpact float64) {
	eb.Publish(Event{
		Type:    EventExecutionLinked,
		UserID:  userID,
		TradeID: tradeID,
		Data: map[string]interface{}{
			"execution_id":       executionID,
			"execution_patterns": patterns,
			"rr_impact":          rrImpact,
		},
	})
}

// PublishOutcomeReported publishes a trade outcome
func (eb *EventBus) PublishOutcomeReported(userID, tradeID, outcome string, pnl float64) {
	eb.Publish(Event{
		Type:    EventOutcomeReported,
		UserID:  userID,
		TradeID: tradeID,
		Data: map[string]interface{}{
			"outcome": outcome,
			"pnl":     pnl,
		},
	})
}

// PublishAnalysisCompleted publishes the source of a finished analysis
func (eb *EventBus) PublishAnalysisCompleted(userID, source, failureKind string, confidence float64) {
	eb.Publish(Event{
		Type:   EventAnalysisCompleted,
		UserID: userID,
		Data: map[string]interface{}{
			"source":       source,
			"failure_kind": failureKind,
			"confidence":   confidence,
		},
	})
}

// PublishPatternReport publishes a scheduled learning summary
func (eb *EventBus) PublishPatternReport(report map[string]interface{}) {
	eb.Publish(Event{
		Type: EventPatternReport,
		Data: report,
	})
}

// PublishUploadsSwept publishes how many orphaned batches were removed
func (eb *EventBus) PublishUploadsSwept(removed int) {
	eb.Publish(Event{
		Type: EventUploadsSwept,
		Data: map[string]interface{}{
			"removed": removed,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
