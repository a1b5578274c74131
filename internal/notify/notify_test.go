package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/event"
)

func TestHTTPSink_Deliver(t *testing.T) {
	var got Message
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/notifications" {
			t.Fatalf("path = %s, want /api/notifications", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewHTTPSink(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg := Message{
		EventID:  uuid.NewString(),
		Type:     string(event.TypeOrderCompleted),
		SourceID: "order:7:completed",
		Subject:  "Заказ завершён",
	}

	if err := sink.Deliver(ctx, msg); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	if got.SourceID != msg.SourceID {
		t.Fatalf("source id = %q, want %q", got.SourceID, msg.SourceID)
	}
	if got.Type != msg.Type {
		t.Fatalf("type = %q, want %q", got.Type, msg.Type)
	}
}

func TestHTTPSink_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewHTTPSink(ts.URL)
	sink.client.RetryWaitMin = time.Millisecond
	sink.client.RetryWaitMax = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sink.Deliver(ctx, Message{SourceID: "order:1:completed"}); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	if n := calls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

type captureSink struct {
	messages []Message
}

func (s *captureSink) Deliver(_ context.Context, msg Message) error {
	s.messages = append(s.messages, msg)
	return nil
}

func TestDispatcher_HandlesBusEvents(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, zap.NewNop())

	bus := event.NewBus(zap.NewNop())
	d.Register(bus)

	bus.Publish(context.Background(), event.TypeSubscriptionExpiring, "subscription:42",
		event.NotificationPayload{
			RecipientID: 42,
			Title:       "Подписка скоро закончится",
			Message:     "Тариф действует ещё 3 дня",
		})

	if len(sink.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(sink.messages))
	}

	msg := sink.messages[0]
	if msg.Subject != "Подписка скоро закончится" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if msg.SourceID != "subscription:42" {
		t.Fatalf("source id = %q", msg.SourceID)
	}
}
