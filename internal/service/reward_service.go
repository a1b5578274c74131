package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/event"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/repository"
)

// RewardService вычисляет партнёрские вознаграждения по событиям завершения
// заказов и оплаты подписок. Вычисление идемпотентно: ключом служит пара
// (партнёр, исходное событие), повторная доставка события не создаёт
// второй записи.
type RewardService struct {
	storage Storage
	bus     *event.Bus
	logger  *zap.Logger
}

// Register подписывает движок на события ядра.
func (s *RewardService) Register(bus *event.Bus) {
	bus.Subscribe(event.TypeOrderCompleted, s.handleOrderCompleted)
	bus.Subscribe(event.TypeSubscriptionPaid, s.handleSubscriptionPaid)
}

func (s *RewardService) handleOrderCompleted(ctx context.Context, ev event.Event) error {
	payload, ok := ev.Payload.(event.OrderPayload)
	if !ok {
		return fmt.Errorf("unexpected payload for %s", ev.Type)
	}
	return s.accrue(ctx, payload.AuthorID, ev.SourceID, payload.Amount, &payload.OrderID)
}

func (s *RewardService) handleSubscriptionPaid(ctx context.Context, ev event.Event) error {
	payload, ok := ev.Payload.(event.SubscriptionPayload)
	if !ok {
		return fmt.Errorf("unexpected payload for %s", ev.Type)
	}
	return s.accrue(ctx, payload.UserID, ev.SourceID, payload.Amount, nil)
}

// accrue начисляет вознаграждение партнёру, приведшему пользователя.
// Пользователь без партнёра вознаграждений не порождает.
func (s *RewardService) accrue(ctx context.Context, userID int64, sourceEventID string, basis int64, orderID *int64) error {
	return withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			u, err := st.GetUser(ctx, userID)
			if err != nil {
				return err
			}
			if u.PartnerID == nil {
				return nil
			}

			partner, err := st.GetPartner(ctx, *u.PartnerID)
			if err != nil {
				return err
			}

			volume, err := st.SumApprovedRewards(ctx, partner.ID)
			if err != nil {
				return err
			}

			amount := rewardAmount(partner, volume, basis)
			if amount <= 0 {
				return nil
			}

			_, created, err := st.CreatePartnerReward(ctx, &model.PartnerReward{
				PartnerID:     partner.ID,
				SourceEventID: sourceEventID,
				OrderID:       orderID,
				Amount:        amount,
				Status:        model.RewardPending,
			})
			if err != nil {
				return err
			}
			if created {
				s.logger.Info("partner reward accrued",
					zap.Int64("partner_id", partner.ID),
					zap.String("source_event_id", sourceEventID),
					zap.Int64("amount", amount),
				)
			}
			return nil
		})
	})
}

// rewardAmount вычисляет сумму вознаграждения. Накопленный объём одобренных
// выплат открывает более высокие ступени ставки партнёра.
func rewardAmount(p *model.Partner, volume, basis int64) int64 {
	value := p.RewardValue
	for _, tier := range p.Tiers {
		if volume >= tier.MinVolume {
			value = tier.Value
		}
	}

	switch p.RewardType {
	case model.RewardPercentage:
		return basis * value / 100
	case model.RewardFixed:
		return value
	default:
		return 0
	}
}

// CreatePartner регистрирует пользователя в партнёрской программе.
// Счетом выплат по умолчанию служит собственный счёт партнёра.
func (s *RewardService) CreatePartner(ctx context.Context, actor model.Actor, p *model.Partner) (int64, error) {
	if !actor.IsAdmin() {
		return 0, model.ErrPermissionDenied
	}
	switch p.RewardType {
	case model.RewardPercentage, model.RewardFixed:
	default:
		return 0, model.NewValidationError("reward_type", "unknown reward type")
	}
	if p.RewardValue <= 0 {
		return 0, model.NewValidationError("reward_value", "must be positive")
	}
	if p.RewardType == model.RewardPercentage && p.RewardValue > 100 {
		return 0, model.NewValidationError("reward_value", "percentage must not exceed 100")
	}
	for i, tier := range p.Tiers {
		if tier.Value <= 0 {
			return 0, model.NewValidationError("tiers", "tier value must be positive")
		}
		if i > 0 && tier.MinVolume <= p.Tiers[i-1].MinVolume {
			return 0, model.NewValidationError("tiers", "tiers must have ascending min_volume")
		}
	}

	if _, err := s.storage.GetUser(ctx, p.UserID); err != nil {
		return 0, err
	}
	if p.PayoutUserID == 0 {
		p.PayoutUserID = p.UserID
	} else if _, err := s.storage.GetUser(ctx, p.PayoutUserID); err != nil {
		return 0, err
	}

	return s.storage.CreatePartner(ctx, p)
}

// Approve одобряет вознаграждение. Повторное одобрение — успешный no-op.
func (s *RewardService) Approve(ctx context.Context, actor model.Actor, rewardID int64) error {
	if !actor.IsAdmin() {
		return model.ErrPermissionDenied
	}

	return withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			r, err := st.GetPartnerRewardForUpdate(ctx, rewardID)
			if err != nil {
				return err
			}
			switch r.Status {
			case model.RewardApproved:
				return nil
			case model.RewardPending:
				return st.UpdatePartnerRewardStatus(ctx, rewardID, model.RewardApproved)
			default:
				return &model.InvalidTransitionError{
					Entity: "reward", From: string(r.Status), To: string(model.RewardApproved),
				}
			}
		})
	})
}

// Pay выплачивает одобренное вознаграждение зачислением на счёт выплат
// партнёра. Смена статуса и запись журнала кошелька выполняются в одной
// транзакции; внешний идентификатор по вознаграждению защищает от
// повторной выплаты.
func (s *RewardService) Pay(ctx context.Context, actor model.Actor, rewardID int64) error {
	if !actor.IsAdmin() {
		return model.ErrPermissionDenied
	}

	var paid event.NotificationPayload

	err := withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			r, err := st.GetPartnerRewardForUpdate(ctx, rewardID)
			if err != nil {
				return err
			}
			if r.Status == model.RewardPaid {
				return nil
			}
			if r.Status != model.RewardApproved {
				return &model.InvalidTransitionError{
					Entity: "reward", From: string(r.Status), To: string(model.RewardPaid),
				}
			}

			partner, err := st.GetPartner(ctx, r.PartnerID)
			if err != nil {
				return err
			}

			providerRef := fmt.Sprintf("reward:%d", rewardID)
			if _, err := depositTx(ctx, st, partner.PayoutUserID, r.Amount, "", providerRef,
				"partner reward payout", &actor.ID); err != nil {
				return err
			}

			if err := st.UpdatePartnerRewardStatus(ctx, rewardID, model.RewardPaid); err != nil {
				return err
			}

			paid = event.NotificationPayload{
				RecipientID: partner.UserID,
				Title:       "Вознаграждение выплачено",
				Message:     fmt.Sprintf("Выплачено вознаграждение на сумму %d", r.Amount),
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	if paid.RecipientID != 0 {
		s.bus.Publish(ctx, event.TypeRewardPaid, fmt.Sprintf("reward:%d:paid", rewardID), paid)
	}
	return nil
}

// ListRewards возвращает вознаграждения партнёра. Доступно самому партнёру
// и администратору.
func (s *RewardService) ListRewards(ctx context.Context, actor model.Actor, partnerID int64) ([]model.PartnerReward, error) {
	partner, err := s.storage.GetPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if partner.UserID != actor.ID && !actor.IsAdmin() {
		return nil, model.ErrPermissionDenied
	}
	return s.storage.ListRewardsByPartner(ctx, partnerID)
}

// GetPartnerByUser возвращает запись партнёра для пользователя.
func (s *RewardService) GetPartnerByUser(ctx context.Context, userID int64) (*model.Partner, error) {
	return s.storage.GetPartnerByUser(ctx, userID)
}
