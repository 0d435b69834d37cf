package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-time.After(time.Second):
			t.Fatalf("Expected %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestEventBusDelivery(t *testing.T) {
	bus := NewEventBus()
	typed := make(chan Event, 4)
	all := make(chan Event, 4)

	bus.Subscribe(EventTradeCreated, func(e Event) { typed <- e })
	bus.SubscribeAll(func(e Event) { all <- e })

	bus.PublishTradeCreated("u1", "t1", "NQ", "breakout", true)
	bus.PublishOutcomeReported("u1", "t1", "win", 800)

	got := collect(t, typed, 1)
	if got[0].TradeID != "t1" || got[0].Data["instrument"] != "NQ" {
		t.Errorf("Unexpected event: %+v", got[0])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
	collect(t, all, 2)
}

func TestEventBusSurvivesPanickingSubscriber(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)

	bus.Subscribe(EventError, func(Event) { panic("boom") })
	bus.Subscribe(EventError, func(e Event) { got <- e })

	bus.PublishError("test", "failed", errors.New("cause"))

	e := collect(t, got, 1)[0]
	assert.Equal(t, "cause", e.Data["error"])
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
	done chan struct{}
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	if w.done != nil {
		w.done <- struct{}{}
	}
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaForwarderWritesKeyedMessages(t *testing.T) {
	w := &fakeWriter{}
	f := NewKafkaForwarder(w, KafkaConfig{Topic: "trades"}, zerolog.Nop())

	event := Event{Type: EventExecutionLinked, TradeID: "t-9", Timestamp: time.Now(), Data: map[string]interface{}{"rr_impact": -0.5}}
	require.NoError(t, f.Forward(context.Background(), event))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "t-9", string(w.msgs[0].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, EventExecutionLinked, decoded.Type)
}

func TestKafkaForwarderAttachOnlyTradeEvents(t *testing.T) {
	w := &fakeWriter{done: make(chan struct{}, 4), err: errors.New("broker down")}
	f := NewKafkaForwarder(w, KafkaConfig{Topic: "trades"}, zerolog.Nop())
	bus := NewEventBus()
	f.Attach(bus)

	bus.PublishError("test", "ignored", nil)
	bus.PublishTradeCreated("u", "t", "ES", "flag", false)

	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("Expected trade event to be forwarded")
	}
	time.Sleep(20 * time.Millisecond)

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.msgs, 1)
}

func TestNewKafkaWriterValidation(t *testing.T) {
	if _, err := NewKafkaWriter(KafkaConfig{Topic: "x"}); err == nil {
		t.Error("Expected error without brokers")
	}
	if _, err := NewKafkaWriter(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Error("Expected error without topic")
	}
	w, err := NewKafkaWriter(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "trades"})
	require.NoError(t, err)
	assert.Equal(t, "trades", w.Topic)
}
