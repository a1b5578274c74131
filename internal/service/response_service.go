package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/event"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/repository"
)

// ResponseService реализует машину состояний отклика исполнителя.
// Отправка отклика и выбор исполнителя по одному заказу сериализуются
// блокировкой строки заказа, поэтому отклик не может проскочить мимо
// происходящего выбора.
type ResponseService struct {
	storage Storage
	bus     *event.Bus
	now     func() time.Time
}

// Submit создаёт отклик исполнителя на заказ. Квота откликов проверяется
// под блокировкой строки исполнителя; повторный неудалённый отклик на тот
// же заказ отклоняется.
func (s *ResponseService) Submit(ctx context.Context, actor model.Actor, orderID int64) (*model.OrderResponse, error) {
	var created *model.OrderResponse
	var notify event.NotificationPayload

	err := withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			o, err := st.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.Status != model.OrderSearchExecutor && o.Status != model.OrderSelectingExecutor {
				return &model.InvalidTransitionError{
					Entity: "order", From: o.Status.String(), To: "accepting responses",
				}
			}
			if o.AuthorID == actor.ID {
				return model.NewValidationError("order_id", "author cannot respond to own order")
			}

			if _, err := st.GetOpenResponseByOrderExecutor(ctx, orderID, actor.ID); err == nil {
				return &model.DuplicateResponseError{OrderID: orderID, ExecutorID: actor.ID}
			} else if !errors.Is(err, repository.ErrResponseNotFound) {
				return err
			}

			executor, err := st.GetUserForUpdate(ctx, actor.ID)
			if err != nil {
				return err
			}
			tariff, err := effectiveTariff(ctx, st, executor, s.now())
			if err != nil {
				return err
			}
			if err := checkContactQuota(tariff, executor.PeriodContactsOpened); err != nil {
				return err
			}

			resp := &model.OrderResponse{
				OrderID:    orderID,
				ExecutorID: actor.ID,
				Status:     model.ResponseSent,
			}
			id, err := st.CreateResponse(ctx, resp)
			if err != nil {
				return err
			}
			resp.ID = id
			created = resp

			notify = event.NotificationPayload{
				RecipientID: o.AuthorID,
				Title:       "Новый отклик",
				Message:     fmt.Sprintf("На заказ %q получен отклик", o.Title),
				Extra:       map[string]string{"order_id": fmt.Sprint(orderID)},
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, event.TypeResponseReceived,
		fmt.Sprintf("response:%d:received", created.ID), notify)
	return created, nil
}

// SendCustomerContact передаёт исполнителю контакт заказчика.
// Операцию выполняет только автор заказа.
func (s *ResponseService) SendCustomerContact(ctx context.Context, actor model.Actor, responseID int64) error {
	return s.transition(ctx, responseID, model.ResponseContactReceived,
		func(o *model.Order, resp *model.OrderResponse) error {
			if o.AuthorID != actor.ID {
				return model.ErrPermissionDenied
			}
			return nil
		},
		func(o *model.Order, resp *model.OrderResponse, st repository.Store) error {
			if resp.Status != model.ResponseSent {
				return &model.InvalidTransitionError{
					Entity: "response", From: resp.Status.String(), To: model.ResponseContactReceived.String(),
				}
			}
			return nil
		})
}

// OpenExecutorContact открывает контакт заказчика исполнителю. Это
// тарифицируемое событие: проверка квоты и инкремент счётчика контактов
// выполняются одним блокированным чтением-изменением, чтобы два
// конкурирующих открытия не прошли по одной и той же квоте.
func (s *ResponseService) OpenExecutorContact(ctx context.Context, actor model.Actor, responseID int64) error {
	return withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			resp, err := st.GetResponseForUpdate(ctx, responseID)
			if err != nil {
				return err
			}
			if resp.ExecutorID != actor.ID {
				return model.ErrPermissionDenied
			}
			if resp.Status == model.ResponseContactOpenedByExecutor {
				return nil
			}
			if resp.Status != model.ResponseContactReceived {
				return &model.InvalidTransitionError{
					Entity: "response", From: resp.Status.String(), To: model.ResponseContactOpenedByExecutor.String(),
				}
			}

			executor, err := st.GetUserForUpdate(ctx, actor.ID)
			if err != nil {
				return err
			}
			tariff, err := effectiveTariff(ctx, st, executor, s.now())
			if err != nil {
				return err
			}
			if err := checkContactQuota(tariff, executor.PeriodContactsOpened); err != nil {
				return err
			}

			if err := st.UpdateResponseStatus(ctx, responseID, model.ResponseContactOpenedByExecutor); err != nil {
				return err
			}
			return st.IncrementContactsOpened(ctx, actor.ID)
		})
	})
}

// Revoke отзывает отклик исполнителем. Отзыв возможен, пока контакт не открыт.
func (s *ResponseService) Revoke(ctx context.Context, actor model.Actor, responseID int64) error {
	return s.transition(ctx, responseID, model.ResponseRejected,
		func(o *model.Order, resp *model.OrderResponse) error {
			if resp.ExecutorID != actor.ID {
				return model.ErrPermissionDenied
			}
			return nil
		},
		func(o *model.Order, resp *model.OrderResponse, st repository.Store) error {
			if resp.Status != model.ResponseSent && resp.Status != model.ResponseContactReceived {
				return &model.InvalidTransitionError{
					Entity: "response", From: resp.Status.String(), To: model.ResponseRejected.String(),
				}
			}
			return nil
		})
}

// Reject отклоняет невыбранный отклик автором заказа.
func (s *ResponseService) Reject(ctx context.Context, actor model.Actor, responseID int64) error {
	return s.transition(ctx, responseID, model.ResponseRejected,
		func(o *model.Order, resp *model.OrderResponse) error {
			if o.AuthorID != actor.ID {
				return model.ErrPermissionDenied
			}
			return nil
		},
		func(o *model.Order, resp *model.OrderResponse, st repository.Store) error {
			if o.ExecutorID != nil && *o.ExecutorID == resp.ExecutorID {
				return &model.InvalidTransitionError{
					Entity: "response", From: resp.Status.String(), To: model.ResponseRejected.String(),
				}
			}
			if !resp.Status.Open() {
				return &model.InvalidTransitionError{
					Entity: "response", From: resp.Status.String(), To: model.ResponseRejected.String(),
				}
			}
			return nil
		})
}

// ListByOrder возвращает отклики на заказ. Доступно автору, посреднику
// заказа и администратору.
func (s *ResponseService) ListByOrder(ctx context.Context, actor model.Actor, orderID int64) ([]model.OrderResponse, error) {
	o, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	allowed := o.AuthorID == actor.ID || actor.IsAdmin() ||
		(o.MediatorID != nil && *o.MediatorID == actor.ID)
	if !allowed {
		return nil, model.ErrPermissionDenied
	}
	return s.storage.ListResponsesByOrder(ctx, orderID)
}

// transition выполняет переход отклика в target внутри одной транзакции.
// Блокировки берутся в порядке заказ -> отклик. Права инициатора проверяются
// до ветки идемпотентного повтора: повтор уже применённого перехода
// завершается успешно только для того, кому переход разрешён.
func (s *ResponseService) transition(ctx context.Context, responseID int64, target model.ResponseStatus, authorize func(o *model.Order, resp *model.OrderResponse) error, check func(o *model.Order, resp *model.OrderResponse, st repository.Store) error) error {
	return withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			resp, err := st.GetResponse(ctx, responseID)
			if err != nil {
				return err
			}

			o, err := st.GetOrderForUpdate(ctx, resp.OrderID)
			if err != nil {
				return err
			}
			resp, err = st.GetResponseForUpdate(ctx, responseID)
			if err != nil {
				return err
			}
			if err := authorize(o, resp); err != nil {
				return err
			}
			if resp.Status == target {
				return nil
			}

			if err := check(o, resp, st); err != nil {
				return err
			}
			return st.UpdateResponseStatus(ctx, responseID, target)
		})
	})
}
