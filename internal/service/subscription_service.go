package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/event"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/repository"
)

// FreeTariffID — идентификатор бесплатного тарифа, создаваемого миграцией.
// Бесплатный тариф служит нижней границей: на него пользователь откатывается
// при истечении оплаченной подписки.
const FreeTariffID int64 = 1

// expiryNotifyWindow определяет, за какой срок до окончания подписки
// отправляется напоминание.
const expiryNotifyWindow = 3 * 24 * time.Hour

// SubscriptionService управляет тарифами и контролирует квоты подписки.
type SubscriptionService struct {
	storage Storage
	bus     *event.Bus
	logger  *zap.Logger
	now     func() time.Time

	notifyMu sync.Mutex
	notified map[string]time.Time
}

// effectiveTariff возвращает действующий тариф пользователя на момент now.
// Истечение подписки оценивается лениво в точке проверки: если оплаченный
// период закончился, действующим считается бесплатный тариф.
func effectiveTariff(ctx context.Context, st repository.Store, u *model.User, now time.Time) (*model.Tariff, error) {
	tariffID := u.TariffID
	if u.SubscriptionExpired(now) {
		tariffID = FreeTariffID
	}

	t, err := st.GetTariff(ctx, tariffID)
	if err != nil {
		return nil, fmt.Errorf("get tariff %d: %w", tariffID, err)
	}
	return t, nil
}

// checkOrderQuota проверяет, позволяет ли тариф открыть ещё один заказ.
// Nil-лимит означает отсутствие ограничения.
func checkOrderQuota(t *model.Tariff, activeOrders int) error {
	if t.MaxOrders == nil {
		return nil
	}
	if activeOrders >= *t.MaxOrders {
		return &model.QuotaExceededError{Resource: "orders", Limit: *t.MaxOrders, Used: activeOrders}
	}
	return nil
}

// checkContactQuota проверяет, позволяет ли тариф открыть ещё один контакт
// в текущем периоде.
func checkContactQuota(t *model.Tariff, contactsOpened int) error {
	if t.MaxContacts == nil {
		return nil
	}
	if contactsOpened >= *t.MaxContacts {
		return &model.QuotaExceededError{Resource: "contacts", Limit: *t.MaxContacts, Used: contactsOpened}
	}
	return nil
}

// subscriptionWindow вычисляет окно подписки для тарифа. Бессрочный тариф
// не имеет даты окончания.
func subscriptionWindow(t *model.Tariff, now time.Time, customDurationDays *int) (time.Time, *time.Time) {
	days := t.DurationDays
	if customDurationDays != nil {
		days = *customDurationDays
	}
	if days == 0 {
		return now, nil
	}
	ends := now.Add(time.Duration(days) * 24 * time.Hour)
	return now, &ends
}

// CanOpenOrder сообщает, позволит ли гард квот выбрать исполнителя для нового
/// заказа. Ответ справочный: решение при переходе перечитывается под блокировкой.
func (s *SubscriptionService) CanOpenOrder(ctx context.Context, executorID int64) (bool, error) {
	u, err := s.storage.GetUser(ctx, executorID)
	if err != nil {
		return false, err
	}
	t, err := effectiveTariff(ctx, s.storage, u, s.now())
	if err != nil {
		return false, err
	}
	active, err := s.storage.CountActiveOrdersByExecutor(ctx, executorID)
	if err != nil {
		return false, err
	}
	return checkOrderQuota(t, active) == nil, nil
}

// CanRespond сообщает, позволит ли гард квот отправить отклик или открыть
// контакт. Ответ справочный, как и у CanOpenOrder.
func (s *SubscriptionService) CanRespond(ctx context.Context, executorID int64) (bool, error) {
	u, err := s.storage.GetUser(ctx, executorID)
	if err != nil {
		return false, err
	}
	t, err := effectiveTariff(ctx, s.storage, u, s.now())
	if err != nil {
		return false, err
	}
	return checkContactQuota(t, u.PeriodContactsOpened) == nil, nil
}

// ActivateTariff устанавливает тариф пользователю и открывает новый период
// подписки со сброшенными счётчиками использования. Используется при
// административной выдаче тарифа.
func (s *SubscriptionService) ActivateTariff(ctx context.Context, actor model.Actor, userID, tariffID int64, customDurationDays *int) error {
	if !actor.IsAdmin() {
		return model.ErrPermissionDenied
	}

	return withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			if _, err := st.GetUserForUpdate(ctx, userID); err != nil {
				return err
			}
			t, err := st.GetTariff(ctx, tariffID)
			if err != nil {
				return err
			}
			if !t.Active {
				return model.NewValidationError("tariff_id", "tariff is not active")
			}

			startedAt, endsAt := subscriptionWindow(t, s.now(), customDurationDays)
			return st.UpdateSubscription(ctx, userID, tariffID, startedAt, endsAt, true)
		})
	})
}

// BuyTariff покупает тариф с баланса кошелька: списание стоимости и активация
// подписки выполняются в одной транзакции. После фиксации публикуется событие
// оплаты подписки для движка вознаграждений.
func (s *SubscriptionService) BuyTariff(ctx context.Context, actor model.Actor, tariffID int64) (txnID int64, err error) {
	var price int64
	err = withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			u, err := st.GetUserForUpdate(ctx, actor.ID)
			if err != nil {
				return err
			}
			t, err := st.GetTariff(ctx, tariffID)
			if err != nil {
				return err
			}
			if !t.Active {
				return model.NewValidationError("tariff_id", "tariff is not active")
			}
			if u.Balance < t.Price {
				return &model.InsufficientFundsError{Balance: u.Balance, Required: t.Price}
			}

			price = t.Price
			if t.Price > 0 {
				txnID, err = st.AppendWalletTransaction(ctx, &model.WalletTransaction{
					UserID:        u.ID,
					Type:          model.TransactionSubscription,
					Amount:        t.Price,
					BalanceBefore: u.Balance,
					BalanceAfter:  u.Balance - t.Price,
					Currency:      u.Currency,
					Reason:        fmt.Sprintf("tariff %q purchase", t.Name),
					ActorID:       &actor.ID,
				})
				if err != nil {
					return err
				}
			}

			startedAt, endsAt := subscriptionWindow(t, s.now(), nil)
			return st.UpdateSubscription(ctx, u.ID, t.ID, startedAt, endsAt, true)
		})
	})
	if err != nil {
		return 0, err
	}

	if txnID != 0 {
		s.bus.Publish(ctx, event.TypeSubscriptionPaid, "payment:"+strconv.FormatInt(txnID, 10), event.SubscriptionPayload{
			UserID:     actor.ID,
			TariffID:   tariffID,
			Amount:     price,
			PaymentRef: strconv.FormatInt(txnID, 10),
		})
	}

	return txnID, nil
}

// Extend продлевает оплаченную подписку на указанное число дней.
// Бесплатный и бессрочный тарифы продлению не подлежат.
func (s *SubscriptionService) Extend(ctx context.Context, actor model.Actor, userID int64, days int) error {
	if actor.ID != userID && !actor.IsAdmin() {
		return model.ErrPermissionDenied
	}
	if days <= 0 {
		return model.NewValidationError("days", "must be positive")
	}

	return withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			u, err := st.GetUserForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			t, err := st.GetTariff(ctx, u.TariffID)
			if err != nil {
				return err
			}
			if t.Unlimited() || u.SubscriptionEndsAt == nil {
				return &model.ExtendNotApplicableError{TariffName: t.Name}
			}

			ends := u.SubscriptionEndsAt.Add(time.Duration(days) * 24 * time.Hour)
			return st.UpdateSubscription(ctx, userID, u.TariffID, u.SubscriptionStartedAt, &ends, false)
		})
	})
}

// ListTariffs возвращает каталог действующих тарифов.
func (s *SubscriptionService) ListTariffs(ctx context.Context) ([]model.Tariff, error) {
	return s.storage.ListTariffs(ctx, true)
}

// CreateTariff добавляет тариф в каталог. Справочник тарифов меняют только
// администраторы.
func (s *SubscriptionService) CreateTariff(ctx context.Context, actor model.Actor, t *model.Tariff) (int64, error) {
	if !actor.IsAdmin() {
		return 0, model.ErrPermissionDenied
	}
	if t.Name == "" {
		return 0, model.NewValidationError("name", "must not be empty")
	}
	if t.Price < 0 {
		return 0, model.NewValidationError("price", "must not be negative")
	}
	return s.storage.CreateTariff(ctx, t)
}

// UpdateTariff обновляет параметры тарифа.
func (s *SubscriptionService) UpdateTariff(ctx context.Context, actor model.Actor, t *model.Tariff) error {
	if !actor.IsAdmin() {
		return model.ErrPermissionDenied
	}
	return s.storage.UpdateTariff(ctx, t)
}

// StartExpiryNotifier периодически публикует напоминания об окончании
// подписки и блокирует до отмены контекста. Сам гард квот от этого
// процесса не зависит: истечение оценивается лениво при каждой проверке.
func (s *SubscriptionService) StartExpiryNotifier(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.notifyExpiring(ctx)
		}
	}
}

func (s *SubscriptionService) notifyExpiring(ctx context.Context) {
	users, err := s.storage.ListExpiringSubscriptions(ctx, s.now().Add(expiryNotifyWindow))
	if err != nil {
		s.logger.Error("list expiring subscriptions", zap.Error(err))
		return
	}

	now := s.now()

	s.notifyMu.Lock()
	if s.notified == nil {
		s.notified = make(map[string]time.Time)
	}
	// записи об уже истёкших подписках больше не понадобятся
	for key, ends := range s.notified {
		if ends.Before(now) {
			delete(s.notified, key)
		}
	}
	s.notifyMu.Unlock()

	for _, u := range users {
		key := fmt.Sprintf("user:%d:expiring:%s", u.ID, u.SubscriptionEndsAt.Format(time.RFC3339))

		s.notifyMu.Lock()
		_, seen := s.notified[key]
		if !seen {
			s.notified[key] = *u.SubscriptionEndsAt
		}
		s.notifyMu.Unlock()

		if seen {
			continue
		}

		s.bus.Publish(ctx, event.TypeSubscriptionExpiring, key, event.NotificationPayload{
			RecipientID: u.ID,
			Title:       "Подписка заканчивается",
			Message:     fmt.Sprintf("Подписка действует до %s", u.SubscriptionEndsAt.Format("02.01.2006")),
		})
	}
}
