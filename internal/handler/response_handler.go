package handler

import (
	"net/http"
	"time"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
)

type responseView struct {
	ID         int64  `json:"id"`
	OrderID    int64  `json:"order_id"`
	ExecutorID int64  `json:"executor_id"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

func toResponseView(resp *model.OrderResponse) responseView {
	return responseView{
		ID:         resp.ID,
		OrderID:    resp.OrderID,
		ExecutorID: resp.ExecutorID,
		Status:     resp.Status.String(),
		CreatedAt:  resp.CreatedAt.Format(time.RFC3339),
	}
}

// SubmitResponse создаёт отклик исполнителя на заказ.
func (h *Handler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	orderID, err := urlID(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	resp, err := h.responses.Submit(r.Context(), actor, orderID)
	if err != nil {
		h.writeError(w, err, "submit response")
		return
	}

	h.writeJSON(w, http.StatusCreated, toResponseView(resp))
}

// ListResponses возвращает отклики на заказ. Доступно автору заказа.
func (h *Handler) ListResponses(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	orderID, err := urlID(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	responses, err := h.responses.ListByOrder(r.Context(), actor, orderID)
	if err != nil {
		h.writeError(w, err, "list responses")
		return
	}

	if len(responses) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	views := make([]responseView, 0, len(responses))
	for i := range responses {
		views = append(views, toResponseView(&responses[i]))
	}

	h.writeJSON(w, http.StatusOK, views)
}

// responseAction выполняет переход отклика одной из операций жизненного цикла.
func (h *Handler) responseAction(action func(r *http.Request, actor model.Actor, responseID int64) error, msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}

		responseID, err := urlID(r, "id")
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		if err := action(r, actor, responseID); err != nil {
			h.writeError(w, err, msg)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

// SendCustomerContact передаёт контакт заказчика исполнителю по отклику.
func (h *Handler) SendCustomerContact(w http.ResponseWriter, r *http.Request) {
	h.responseAction(func(r *http.Request, actor model.Actor, responseID int64) error {
		return h.responses.SendCustomerContact(r.Context(), actor, responseID)
	}, "send customer contact")(w, r)
}

// OpenExecutorContact открывает контакт исполнителя заказчику. Операция
// тарифицируемая: списывает единицу квоты контактов.
func (h *Handler) OpenExecutorContact(w http.ResponseWriter, r *http.Request) {
	h.responseAction(func(r *http.Request, actor model.Actor, responseID int64) error {
		return h.responses.OpenExecutorContact(r.Context(), actor, responseID)
	}, "open executor contact")(w, r)
}

// RevokeResponse отзывает отклик исполнителем.
func (h *Handler) RevokeResponse(w http.ResponseWriter, r *http.Request) {
	h.responseAction(func(r *http.Request, actor model.Actor, responseID int64) error {
		return h.responses.Revoke(r.Context(), actor, responseID)
	}, "revoke response")(w, r)
}

// RejectResponse отклоняет отклик автором заказа.
func (h *Handler) RejectResponse(w http.ResponseWriter, r *http.Request) {
	h.responseAction(func(r *http.Request, actor model.Actor, responseID int64) error {
		return h.responses.Reject(r.Context(), actor, responseID)
	}, "reject response")(w, r)
}
