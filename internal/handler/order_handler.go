package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/service"
)

type createOrderRequest struct {
	Title     string `json:"title"`
	Direction string `json:"direction"`
	City      string `json:"city"`
	MaxAmount int64  `json:"max_amount"`
	Currency  string `json:"currency"`
}

type orderResponse struct {
	ID         int64  `json:"id"`
	AuthorID   int64  `json:"author_id"`
	ExecutorID *int64 `json:"executor_id,omitempty"`
	MediatorID *int64 `json:"mediator_id,omitempty"`
	Title      string `json:"title"`
	Direction  string `json:"direction"`
	City       string `json:"city"`
	MaxAmount  int64  `json:"max_amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:         o.ID,
		AuthorID:   o.AuthorID,
		ExecutorID: o.ExecutorID,
		MediatorID: o.MediatorID,
		Title:      o.Title,
		Direction:  o.Direction,
		City:       o.City,
		MaxAmount:  o.MaxAmount,
		Currency:   o.Currency,
		Status:     o.Status.String(),
		CreatedAt:  o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  o.UpdatedAt.Format(time.RFC3339),
	}
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// CreateOrder создаёт новый заказ от имени текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), actor, service.CreateOrderInput{
		Title:     req.Title,
		Direction: req.Direction,
		City:      req.City,
		MaxAmount: req.MaxAmount,
		Currency:  req.Currency,
	})
	if err != nil {
		h.writeError(w, err, "create order")
		return
	}

	h.writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// GetOrders возвращает заказы текущего пользователя: для заказчика созданные
// им, для исполнителя назначенные ему.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var (
		orders []model.Order
		err    error
	)
	if actor.Role == model.RoleExecutor {
		orders, err = h.orders.ListByExecutor(r.Context(), actor.ID)
	} else {
		orders, err = h.orders.ListByAuthor(r.Context(), actor.ID)
	}
	if err != nil {
		h.writeError(w, err, "list orders")
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}

	orderID, err := urlID(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err, "get order")
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type selectExecutorRequest struct {
	ResponseID int64 `json:"response_id"`
}

// SelectExecutor назначает исполнителя заказа по его отклику.
func (h *Handler) SelectExecutor(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	orderID, err := urlID(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req selectExecutorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.orders.SelectExecutor(r.Context(), actor, orderID, req.ResponseID); err != nil {
		h.writeError(w, err, "select executor")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// orderAction выполняет переход заказа одной из операций жизненного цикла.
func (h *Handler) orderAction(action func(r *http.Request, actor model.Actor, orderID int64) error, msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}

		orderID, err := urlID(r, "id")
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		if err := action(r, actor, orderID); err != nil {
			h.writeError(w, err, msg)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

// TakeIntoWork переводит заказ в работу от имени исполнителя.
func (h *Handler) TakeIntoWork(w http.ResponseWriter, r *http.Request) {
	h.orderAction(func(r *http.Request, actor model.Actor, orderID int64) error {
		return h.orders.TakeIntoWork(r.Context(), actor, orderID)
	}, "take into work")(w, r)
}

// RequestCompletion запрашивает подтверждение завершения у заказчика.
func (h *Handler) RequestCompletion(w http.ResponseWriter, r *http.Request) {
	h.orderAction(func(r *http.Request, actor model.Actor, orderID int64) error {
		return h.orders.RequestCompletion(r.Context(), actor, orderID)
	}, "request completion")(w, r)
}

// ConfirmCompletion подтверждает завершение заказа заказчиком.
func (h *Handler) ConfirmCompletion(w http.ResponseWriter, r *http.Request) {
	h.orderAction(func(r *http.Request, actor model.Actor, orderID int64) error {
		return h.orders.ConfirmCompletion(r.Context(), actor, orderID)
	}, "confirm completion")(w, r)
}

// RejectCompletion возвращает заказ в работу после отклонённого запроса завершения.
func (h *Handler) RejectCompletion(w http.ResponseWriter, r *http.Request) {
	h.orderAction(func(r *http.Request, actor model.Actor, orderID int64) error {
		return h.orders.RejectCompletion(r.Context(), actor, orderID)
	}, "reject completion")(w, r)
}

// CancelOrder отменяет заказ.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction(func(r *http.Request, actor model.Actor, orderID int64) error {
		return h.orders.Cancel(r.Context(), actor, orderID)
	}, "cancel order")(w, r)
}

// DeleteOrder выполняет мягкое удаление заказа.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction(func(r *http.Request, actor model.Actor, orderID int64) error {
		return h.orders.SoftDelete(r.Context(), actor, orderID)
	}, "delete order")(w, r)
}

type assignMediatorRequest struct {
	MediatorID int64 `json:"mediator_id"`
}

// AssignMediator назначает посредника на заказ.
func (h *Handler) AssignMediator(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	orderID, err := urlID(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req assignMediatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.orders.AssignMediator(r.Context(), actor, orderID, req.MediatorID); err != nil {
		h.writeError(w, err, "assign mediator")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// AdvanceMediatorStep переводит заказ на следующий шаг посреднического сценария.
func (h *Handler) AdvanceMediatorStep(w http.ResponseWriter, r *http.Request) {
	h.orderAction(func(r *http.Request, actor model.Actor, orderID int64) error {
		return h.orders.AdvanceMediatorStep(r.Context(), actor, orderID)
	}, "advance mediator step")(w, r)
}

type selectExecutorDirectRequest struct {
	ExecutorID int64 `json:"executor_id"`
}

// SelectExecutorDirect назначает исполнителя напрямую, минуя отклик.
func (h *Handler) SelectExecutorDirect(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	orderID, err := urlID(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req selectExecutorDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.orders.SelectExecutorDirect(r.Context(), actor, orderID, req.ExecutorID); err != nil {
		h.writeError(w, err, "select executor direct")
		return
	}

	w.WriteHeader(http.StatusOK)
}
