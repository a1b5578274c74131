// Package notify доставляет уведомительные обязательства внешнему диспетчеру.
// Ядро публикует доменные события, диспетчер превращает их в сообщения
// и передаёт в сток. Доставка выполняется после фиксации транзакции
// и не влияет на исход операции.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/event"
)

// Message описывает уведомление для внешнего диспетчера.
type Message struct {
	EventID   string            `json:"event_id"`
	Type      string            `json:"type"`
	SourceID  string            `json:"source_id"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Extra     map[string]string `json:"extra,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// Sink доставляет уведомление получателю.
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// LogSink пишет уведомления в журнал. Используется, когда адрес
// внешнего диспетчера не задан.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink создаёт сток уведомлений поверх журнала.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Deliver записывает уведомление в журнал.
func (s *LogSink) Deliver(_ context.Context, msg Message) error {
	s.logger.Info("notification",
		zap.String("type", msg.Type),
		zap.String("source", msg.SourceID),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// HTTPSink отправляет уведомления внешнему диспетчеру по HTTP
// с повторными попытками на сетевых ошибках и 5xx-ответах.
type HTTPSink struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewHTTPSink создаёт HTTP-сток уведомлений для указанного адреса.
func NewHTTPSink(baseURL string) *HTTPSink {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	return &HTTPSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Deliver отправляет уведомление диспетчеру.
func (s *HTTPSink) Deliver(ctx context.Context, msg Message) error {
	base := s.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/api/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

// Dispatcher подписывается на доменные события и превращает их в уведомления.
type Dispatcher struct {
	sink   Sink
	logger *zap.Logger
}

// NewDispatcher создаёт диспетчер уведомлений поверх указанного стока.
func NewDispatcher(sink Sink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sink: sink, logger: logger}
}

// Register подписывает диспетчер на уведомительные события шины.
func (d *Dispatcher) Register(bus *event.Bus) {
	for _, t := range []event.Type{
		event.TypeOrderSelected,
		event.TypeOrderUpdated,
		event.TypeOrderCompleted,
		event.TypeResponseReceived,
		event.TypeSubscriptionPaid,
		event.TypeSubscriptionExpiring,
		event.TypeRewardPaid,
	} {
		bus.Subscribe(t, d.handle)
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev event.Event) error {
	msg := Message{
		EventID:   ev.ID.String(),
		Type:      string(ev.Type),
		SourceID:  ev.SourceID,
		Subject:   subjectFor(ev),
		CreatedAt: ev.OccurredAt.Format(time.RFC3339),
	}

	if p, ok := ev.Payload.(event.NotificationPayload); ok {
		msg.Subject = p.Title
		msg.Body = p.Message
		msg.Extra = p.Extra
	}

	if err := d.sink.Deliver(ctx, msg); err != nil {
		d.logger.Error("deliver notification", zap.Error(err),
			zap.String("type", string(ev.Type)), zap.String("source", ev.SourceID))
		return err
	}

	return nil
}

func subjectFor(ev event.Event) string {
	switch ev.Type {
	case event.TypeOrderSelected:
		return "Вы выбраны исполнителем заказа"
	case event.TypeOrderUpdated:
		return "Статус заказа изменился"
	case event.TypeOrderCompleted:
		return "Заказ завершён"
	case event.TypeResponseReceived:
		return "Новый отклик на заказ"
	case event.TypeSubscriptionPaid:
		return "Подписка оплачена"
	case event.TypeSubscriptionExpiring:
		return "Подписка скоро закончится"
	case event.TypeRewardPaid:
		return "Партнёрское вознаграждение выплачено"
	}
	return string(ev.Type)
}
