package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/event"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/repository"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/validation"
)

// OrderService реализует машину состояний заказа. Каждый переход выполняется
// в одной транзакции с блокировкой строки заказа; повторный вызов уже
// применённого перехода завершается успешно без побочных эффектов, что
// позволяет вызывающему слою доставлять команды не менее одного раза.
type OrderService struct {
	storage Storage
	bus     *event.Bus
	now     func() time.Time
}

// CreateOrderInput содержит данные нового заказа.
type CreateOrderInput struct {
	Title     string
	Direction string
	City      string
	MaxAmount int64
	Currency  string
}

// CreateOrder создаёт заказ в статусе поиска исполнителя.
func (s *OrderService) CreateOrder(ctx context.Context, actor model.Actor, in CreateOrderInput) (*model.Order, error) {
	if err := validation.ValidateOrderInput(in.Title, in.Direction, in.City, in.MaxAmount); err != nil {
		return nil, err
	}
	if in.Currency == "" {
		in.Currency = "RUB"
	}

	o := &model.Order{
		AuthorID:  actor.ID,
		Title:     in.Title,
		Direction: in.Direction,
		City:      in.City,
		MaxAmount: in.MaxAmount,
		Currency:  in.Currency,
		Status:    model.OrderSearchExecutor,
	}

	id, err := s.storage.CreateOrder(ctx, o)
	if err != nil {
		return nil, err
	}
	o.ID = id
	o.CreatedAt = s.now()

	return o, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return s.storage.GetOrder(ctx, id)
}

// ListByAuthor возвращает заказы клиента.
func (s *OrderService) ListByAuthor(ctx context.Context, authorID int64) ([]model.Order, error) {
	return s.storage.ListOrdersByAuthor(ctx, authorID)
}

// ListByExecutor возвращает заказы исполнителя.
func (s *OrderService) ListByExecutor(ctx context.Context, executorID int64) ([]model.Order, error) {
	return s.storage.ListOrdersByExecutor(ctx, executorID)
}

// SelectExecutor выбирает отклик исполнителя для заказа. В одной транзакции
// проверяется квота исполнителя, отклоняются конкурирующие отклики, выбранный
// отклик помечается полученным заказом и заказ переходит в ExecutorSelected.
// Отказ квоты отклоняет выбор, а не ставит его в очередь.
func (s *OrderService) SelectExecutor(ctx context.Context, actor model.Actor, orderID, responseID int64) error {
	var selected event.OrderPayload

	err := withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			o, err := st.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.AuthorID != actor.ID && !actor.IsAdmin() {
				return model.ErrPermissionDenied
			}

			resp, err := st.GetResponseForUpdate(ctx, responseID)
			if err != nil {
				return err
			}
			if resp.OrderID != orderID {
				return model.NewValidationError("response_id", "response belongs to another order")
			}

			// повтор уже применённого выбора
			if o.Status == model.OrderExecutorSelected && o.ExecutorID != nil && *o.ExecutorID == resp.ExecutorID {
				return nil
			}

			if o.Status != model.OrderSearchExecutor && o.Status != model.OrderSelectingExecutor {
				return &model.InvalidTransitionError{
					Entity: "order", From: o.Status.String(), To: model.OrderExecutorSelected.String(),
				}
			}
			if !resp.Status.Open() {
				return &model.InvalidTransitionError{
					Entity: "response", From: resp.Status.String(), To: model.ResponseOrderReceived.String(),
				}
			}

			executor, err := st.GetUserForUpdate(ctx, resp.ExecutorID)
			if err != nil {
				return err
			}
			tariff, err := effectiveTariff(ctx, st, executor, s.now())
			if err != nil {
				return err
			}
			active, err := st.CountActiveOrdersByExecutor(ctx, executor.ID)
			if err != nil {
				return err
			}
			if err := checkOrderQuota(tariff, active); err != nil {
				return err
			}

			if _, err := st.RejectOpenResponses(ctx, orderID, responseID); err != nil {
				return err
			}
			if resp.Status != model.ResponseOrderReceived {
				if err := st.UpdateResponseStatus(ctx, responseID, model.ResponseOrderReceived); err != nil {
					return err
				}
			}
			if err := st.UpdateOrder(ctx, orderID, model.OrderExecutorSelected, &resp.ExecutorID); err != nil {
				return err
			}
			if err := st.IncrementOrdersOpened(ctx, executor.ID); err != nil {
				return err
			}

			selected = event.OrderPayload{
				OrderID:    o.ID,
				AuthorID:   o.AuthorID,
				ExecutorID: resp.ExecutorID,
				Amount:     o.MaxAmount,
				Currency:   o.Currency,
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	if selected.OrderID != 0 {
		s.bus.Publish(ctx, event.TypeOrderSelected, fmt.Sprintf("order:%d:selected", orderID), selected)
	}
	return nil
}

// TakeIntoWork переводит заказ в работу. Вызвать может только выбранный
// исполнитель.
func (s *OrderService) TakeIntoWork(ctx context.Context, actor model.Actor, orderID int64) error {
	return s.transition(ctx, orderID, model.OrderInWork, func(o *model.Order) error {
		if o.ExecutorID == nil || *o.ExecutorID != actor.ID {
			return model.ErrPermissionDenied
		}
		return nil
	}, func(o *model.Order, st repository.Store) error {
		if o.Status != model.OrderExecutorSelected {
			return &model.InvalidTransitionError{
				Entity: "order", From: o.Status.String(), To: model.OrderInWork.String(),
			}
		}

		resp, err := st.GetOpenResponseByOrderExecutor(ctx, orderID, actor.ID)
		if err != nil {
			return err
		}
		if resp.Status != model.ResponseTakenIntoWork {
			if err := st.UpdateResponseStatus(ctx, resp.ID, model.ResponseTakenIntoWork); err != nil {
				return err
			}
		}
		return nil
	})
}

// RequestCompletion запрашивает подтверждение завершения у автора заказа.
func (s *OrderService) RequestCompletion(ctx context.Context, actor model.Actor, orderID int64) error {
	return s.transition(ctx, orderID, model.OrderAwaitingConfirmation, func(o *model.Order) error {
		if o.ExecutorID == nil || *o.ExecutorID != actor.ID {
			return model.ErrPermissionDenied
		}
		return nil
	}, func(o *model.Order, st repository.Store) error {
		if o.Status != model.OrderInWork && o.Status != model.OrderRejected {
			return &model.InvalidTransitionError{
				Entity: "order", From: o.Status.String(), To: model.OrderAwaitingConfirmation.String(),
			}
		}
		return nil
	})
}

// ConfirmCompletion подтверждает завершение заказа. После фиксации
// транзакции публикуется событие завершения для движка вознаграждений.
func (s *OrderService) ConfirmCompletion(ctx context.Context, actor model.Actor, orderID int64) error {
	var completed event.OrderPayload

	err := s.transition(ctx, orderID, model.OrderCompleted, func(o *model.Order) error {
		if o.AuthorID != actor.ID {
			return model.ErrPermissionDenied
		}
		return nil
	}, func(o *model.Order, st repository.Store) error {
		if o.Status != model.OrderAwaitingConfirmation {
			return &model.InvalidTransitionError{
				Entity: "order", From: o.Status.String(), To: model.OrderCompleted.String(),
			}
		}

		var executorID int64
		if o.ExecutorID != nil {
			executorID = *o.ExecutorID
		}
		completed = event.OrderPayload{
			OrderID:    o.ID,
			AuthorID:   o.AuthorID,
			ExecutorID: executorID,
			Amount:     o.MaxAmount,
			Currency:   o.Currency,
		}
		return nil
	})
	if err != nil {
		return err
	}

	if completed.OrderID != 0 {
		s.bus.Publish(ctx, event.TypeOrderCompleted, fmt.Sprintf("order:%d:completed", orderID), completed)
	}
	return nil
}

// RejectCompletion возвращает заказ из ожидания подтверждения в работу.
func (s *OrderService) RejectCompletion(ctx context.Context, actor model.Actor, orderID int64) error {
	return s.transition(ctx, orderID, model.OrderInWork, func(o *model.Order) error {
		if o.AuthorID != actor.ID {
			return model.ErrPermissionDenied
		}
		return nil
	}, func(o *model.Order, st repository.Store) error {
		if o.Status != model.OrderAwaitingConfirmation {
			return &model.InvalidTransitionError{
				Entity: "order", From: o.Status.String(), To: model.OrderInWork.String(),
			}
		}
		return nil
	})
}

// Cancel отменяет заказ. Отмена возможна только пока исполнитель не выбран.
func (s *OrderService) Cancel(ctx context.Context, actor model.Actor, orderID int64) error {
	return s.transition(ctx, orderID, model.OrderCancelled, func(o *model.Order) error {
		if o.AuthorID != actor.ID && !actor.IsAdmin() {
			return model.ErrPermissionDenied
		}
		return nil
	}, func(o *model.Order, st repository.Store) error {
		if o.Status != model.OrderSearchExecutor && o.Status != model.OrderSelectingExecutor {
			return &model.InvalidTransitionError{
				Entity: "order", From: o.Status.String(), To: model.OrderCancelled.String(),
			}
		}
		return nil
	})
}

// SoftDelete помечает заказ удалённым. Физически заказ не удаляется, пока на
// него ссылаются отклики. Если исполнитель был назначен, его открытый отклик
// отклоняется и слот исполнителя освобождается, чтобы учёт квот остался верным.
func (s *OrderService) SoftDelete(ctx context.Context, actor model.Actor, orderID int64) error {
	return withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			o, err := st.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.AuthorID != actor.ID && !actor.IsAdmin() {
				return model.ErrPermissionDenied
			}
			if o.Status == model.OrderDeleted {
				return nil
			}
			if o.Status.Terminal() {
				return &model.InvalidTransitionError{
					Entity: "order", From: o.Status.String(), To: model.OrderDeleted.String(),
				}
			}

			if o.ExecutorID != nil {
				resp, err := st.GetOpenResponseByOrderExecutor(ctx, orderID, *o.ExecutorID)
				if err == nil && resp.Status.Open() {
					if err := st.UpdateResponseStatus(ctx, resp.ID, model.ResponseRejected); err != nil {
						return err
					}
				} else if err != nil && !errors.Is(err, repository.ErrResponseNotFound) {
					return err
				}
			}

			return st.UpdateOrder(ctx, orderID, model.OrderDeleted, nil)
		})
	})
}

// AssignMediator передаёт заказ посреднику и открывает посреднический процесс.
func (s *OrderService) AssignMediator(ctx context.Context, actor model.Actor, orderID, mediatorID int64) error {
	return withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			o, err := st.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.AuthorID != actor.ID && !actor.IsAdmin() {
				return model.ErrPermissionDenied
			}
			if o.Status == model.OrderMediatorStep1 && o.MediatorID != nil && *o.MediatorID == mediatorID {
				return nil
			}
			if !o.Status.CanTransitionTo(model.OrderMediatorStep1) {
				return &model.InvalidTransitionError{
					Entity: "order", From: o.Status.String(), To: model.OrderMediatorStep1.String(),
				}
			}

			mediator, err := st.GetUser(ctx, mediatorID)
			if err != nil {
				return err
			}
			if mediator.Role != model.RoleMediator {
				return model.NewValidationError("mediator_id", "user is not a mediator")
			}

			return st.SetOrderMediator(ctx, orderID, mediatorID, model.OrderMediatorStep1)
		})
	})
}

// AdvanceMediatorStep продвигает посреднический заказ на следующий шаг.
// Последний шаг архивирует заказ.
func (s *OrderService) AdvanceMediatorStep(ctx context.Context, actor model.Actor, orderID int64) error {
	next := map[model.OrderStatus]model.OrderStatus{
		model.OrderMediatorStep1: model.OrderMediatorStep2,
		model.OrderMediatorStep2: model.OrderMediatorStep3,
		model.OrderMediatorStep3: model.OrderMediatorArchived,
	}

	return withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			o, err := st.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.MediatorID == nil || *o.MediatorID != actor.ID {
				return model.ErrPermissionDenied
			}

			target, ok := next[o.Status]
			if !ok {
				return &model.InvalidTransitionError{
					Entity: "order", From: o.Status.String(), To: "next mediator step",
				}
			}
			return st.UpdateOrder(ctx, orderID, target, o.ExecutorID)
		})
	})
}

// SelectExecutorDirect выбирает исполнителя в посредническом процессе без
// предварительного отклика: отклик создаётся сразу в статусе полученного
// заказа с той же проверкой квоты, что и обычный выбор.
func (s *OrderService) SelectExecutorDirect(ctx context.Context, actor model.Actor, orderID, executorID int64) error {
	return withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			o, err := st.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.MediatorID == nil || *o.MediatorID != actor.ID {
				return model.ErrPermissionDenied
			}
			if o.ExecutorID != nil && *o.ExecutorID == executorID {
				return nil
			}

			switch o.Status {
			case model.OrderMediatorStep1, model.OrderMediatorStep2, model.OrderMediatorStep3:
			default:
				return &model.InvalidTransitionError{
					Entity: "order", From: o.Status.String(), To: "direct executor selection",
				}
			}

			executor, err := st.GetUserForUpdate(ctx, executorID)
			if err != nil {
				return err
			}
			tariff, err := effectiveTariff(ctx, st, executor, s.now())
			if err != nil {
				return err
			}
			active, err := st.CountActiveOrdersByExecutor(ctx, executorID)
			if err != nil {
				return err
			}
			if err := checkOrderQuota(tariff, active); err != nil {
				return err
			}

			if _, err := st.CreateResponse(ctx, &model.OrderResponse{
				OrderID:    orderID,
				ExecutorID: executorID,
				Status:     model.ResponseOrderReceived,
			}); err != nil {
				return err
			}
			if err := st.UpdateOrder(ctx, orderID, o.Status, &executorID); err != nil {
				return err
			}
			return st.IncrementOrdersOpened(ctx, executorID)
		})
	})
}

// transition выполняет переход заказа в target внутри одной транзакции.
// Права инициатора проверяются до ветки идемпотентного повтора: повтор уже
// применённого перехода завершается успешно только для того, кому переход
// разрешён.
func (s *OrderService) transition(ctx context.Context, orderID int64, target model.OrderStatus, authorize func(o *model.Order) error, check func(o *model.Order, st repository.Store) error) error {
	var payload event.OrderPayload

	err := withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			o, err := st.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if err := authorize(o); err != nil {
				return err
			}
			if o.Status == target {
				return nil
			}

			if err := check(o, st); err != nil {
				return err
			}

			// исполнитель допустим лишь в части статусов
			if o.ExecutorID != nil && !target.AllowsExecutor() {
				return &model.InvalidTransitionError{
					Entity: "order", From: o.Status.String(), To: target.String(),
				}
			}

			if err := st.UpdateOrder(ctx, orderID, target, o.ExecutorID); err != nil {
				return err
			}

			var executorID int64
			if o.ExecutorID != nil {
				executorID = *o.ExecutorID
			}
			payload = event.OrderPayload{
				OrderID:    o.ID,
				AuthorID:   o.AuthorID,
				ExecutorID: executorID,
				Amount:     o.MaxAmount,
				Currency:   o.Currency,
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	if payload.OrderID != 0 {
		s.bus.Publish(ctx, event.TypeOrderUpdated,
			fmt.Sprintf("order:%d:%s", orderID, target.String()), payload)
	}
	return nil
}
