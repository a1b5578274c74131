package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/event"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/repository"
)

// Назначения платежа, допустимые во входящих событиях провайдера.
const (
	PurposeWalletTopup          = "wallet_topup"
	PurposeSubscriptionPurchase = "subscription_purchase"
)

// IntakeEvent описывает нормализованное событие платёжного провайдера.
type IntakeEvent struct {
	EventType               string         `json:"event_type"`
	ProviderSessionID       string         `json:"provider_session_id"`
	ProviderPaymentIntentID string         `json:"provider_payment_intent_id"`
	Metadata                IntakeMetadata `json:"metadata"`
}

// IntakeMetadata содержит полезную нагрузку события провайдера.
type IntakeMetadata struct {
	UserID   int64  `json:"user_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Purpose  string `json:"purpose"`
	TariffID *int64 `json:"tariff_id,omitempty"`
}

// IntakeService нормализует вебхуки платёжного провайдера в операции журнала
// кошелька и активации подписки. Провайдер доставляет события не менее
// одного раза: дедупликация по идентификаторам сессии и платежа выполняется
// в той же транзакции, что и сами операции.
type IntakeService struct {
	storage Storage
	bus     *event.Bus
	logger  *zap.Logger
	now     func() time.Time
}

// Process обрабатывает событие провайдера. Повторная доставка уже
// обработанного события — успешный no-op.
func (s *IntakeService) Process(ctx context.Context, ev IntakeEvent) error {
	if ev.ProviderPaymentIntentID == "" {
		return model.NewValidationError("provider_payment_intent_id", "must not be empty")
	}
	if ev.Metadata.UserID == 0 {
		return model.NewValidationError("metadata.user_id", "must not be empty")
	}
	if ev.Metadata.Amount <= 0 {
		return model.NewValidationError("metadata.amount", "must be positive")
	}
	switch ev.Metadata.Purpose {
	case PurposeWalletTopup:
	case PurposeSubscriptionPurchase:
		if ev.Metadata.TariffID == nil {
			return model.NewValidationError("metadata.tariff_id", "required for subscription purchase")
		}
	default:
		return model.NewValidationError("metadata.purpose", "unknown purpose")
	}

	var subscription *event.SubscriptionPayload

	err := withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			fresh, err := st.MarkWebhookProcessed(ctx, ev.dedupeKey())
			if err != nil {
				return err
			}
			if !fresh {
				s.logger.Info("duplicate webhook event ignored",
					zap.String("provider_payment_intent_id", ev.ProviderPaymentIntentID))
				return nil
			}

			txn, err := depositTx(ctx, st, ev.Metadata.UserID, ev.Metadata.Amount,
				ev.Metadata.Currency, ev.ProviderPaymentIntentID, "provider payment", nil)
			if err != nil {
				return err
			}

			if ev.Metadata.Purpose != PurposeSubscriptionPurchase {
				return nil
			}

			tariff, err := st.GetTariff(ctx, *ev.Metadata.TariffID)
			if err != nil {
				return err
			}
			if !tariff.Active {
				return model.NewValidationError("metadata.tariff_id", "tariff is not active")
			}

			// Пополнение уже зачислено выше; стоимость тарифа списывается
			// с него той же транзакцией.
			u, err := st.GetUserForUpdate(ctx, ev.Metadata.UserID)
			if err != nil {
				return err
			}
			if u.Balance < tariff.Price {
				return &model.InsufficientFundsError{Balance: u.Balance, Required: tariff.Price}
			}

			var paymentTxnID int64 = txn.ID
			if tariff.Price > 0 {
				paymentTxnID, err = st.AppendWalletTransaction(ctx, &model.WalletTransaction{
					UserID:        u.ID,
					Type:          model.TransactionSubscription,
					Amount:        tariff.Price,
					BalanceBefore: u.Balance,
					BalanceAfter:  u.Balance - tariff.Price,
					Currency:      u.Currency,
					Reason:        fmt.Sprintf("tariff %q purchase", tariff.Name),
				})
				if err != nil {
					return err
				}
			}

			startedAt, endsAt := subscriptionWindow(tariff, s.now(), nil)
			if err := st.UpdateSubscription(ctx, u.ID, tariff.ID, startedAt, endsAt, true); err != nil {
				return err
			}

			subscription = &event.SubscriptionPayload{
				UserID:     u.ID,
				TariffID:   tariff.ID,
				Amount:     tariff.Price,
				PaymentRef: strconv.FormatInt(paymentTxnID, 10),
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	if subscription != nil {
		s.bus.Publish(ctx, event.TypeSubscriptionPaid,
			"payment:"+subscription.PaymentRef, *subscription)
	}
	return nil
}

// dedupeKey возвращает ключ дедупликации события. Идентификатор платежа
// первичен, идентификатор сессии служит запасным ключом.
func (ev IntakeEvent) dedupeKey() string {
	if ev.ProviderPaymentIntentID != "" {
		return ev.ProviderPaymentIntentID
	}
	return ev.ProviderSessionID
}
