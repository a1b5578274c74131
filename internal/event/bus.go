// Package event реализует внутреннюю шину доменных событий.
// Машины состояний публикуют события после фиксации транзакции,
// подписчики (движок вознаграждений, диспетчер уведомлений) обрабатывают
// их независимо друг от друга.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type определяет тип доменного события.
type Type string

const (
	TypeOrderSelected        Type = "order.selected"
	TypeOrderUpdated         Type = "order.updated"
	TypeOrderCompleted       Type = "order.completed"
	TypeResponseReceived     Type = "response.received"
	TypeSubscriptionPaid     Type = "subscription.paid"
	TypeSubscriptionExpiring Type = "subscription.expiring"
	TypeRewardPaid           Type = "reward.paid"
)

// Event описывает доменное событие. ID идентифицирует доставку,
// SourceID — само событие: повторные доставки несут одинаковый SourceID,
// по нему подписчики обеспечивают идемпотентность.
type Event struct {
	ID         uuid.UUID
	Type       Type
	SourceID   string
	OccurredAt time.Time
	Payload    any
}

// OrderPayload содержит данные событий жизненного цикла заказа.
type OrderPayload struct {
	OrderID    int64
	AuthorID   int64
	ExecutorID int64
	Amount     int64
	Currency   string
}

// SubscriptionPayload содержит данные события оплаты подписки.
type SubscriptionPayload struct {
	UserID     int64
	TariffID   int64
	Amount     int64
	PaymentRef string
}

// NotificationPayload содержит данные уведомительных событий.
type NotificationPayload struct {
	RecipientID int64
	Title       string
	Message     string
	Extra       map[string]string
}

// Handler обрабатывает доменное событие. Ошибка обработчика логируется,
// но не прерывает доставку остальным подписчикам.
type Handler func(ctx context.Context, ev Event) error

// Bus реализует синхронную шину событий с подпиской по типу.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	logger   *zap.Logger
}

// NewBus создаёт новую шину событий.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
		logger:   logger,
	}
}

// Subscribe регистрирует обработчик для указанного типа события.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish доставляет событие всем подписчикам типа. Вызывается после
// фиксации транзакции, породившей событие.
func (b *Bus) Publish(ctx context.Context, t Type, sourceID string, payload any) {
	ev := Event{
		ID:         uuid.New(),
		Type:       t,
		SourceID:   sourceID,
		OccurredAt: time.Now(),
		Payload:    payload,
	}

	b.mu.RLock()
	handlers := b.handlers[t]
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			b.logger.Error("event handler error",
				zap.String("type", string(t)),
				zap.String("source_id", sourceID),
				zap.Error(err),
			)
		}
	}
}
