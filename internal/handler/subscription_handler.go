package handler

import (
	"encoding/json"
	"net/http"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
)

type tariffView struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	DurationDays int    `json:"duration_days"`
	MaxOrders    *int   `json:"max_orders,omitempty"`
	MaxContacts  *int   `json:"max_contacts,omitempty"`
	Active       bool   `json:"active"`
}

func toTariffView(t *model.Tariff) tariffView {
	return tariffView{
		ID:           t.ID,
		Name:         t.Name,
		Price:        t.Price,
		DurationDays: t.DurationDays,
		MaxOrders:    t.MaxOrders,
		MaxContacts:  t.MaxContacts,
		Active:       t.Active,
	}
}

// ListTariffs возвращает каталог активных тарифов.
func (h *Handler) ListTariffs(w http.ResponseWriter, r *http.Request) {
	tariffs, err := h.subscriptions.ListTariffs(r.Context())
	if err != nil {
		h.writeError(w, err, "list tariffs")
		return
	}

	views := make([]tariffView, 0, len(tariffs))
	for i := range tariffs {
		views = append(views, toTariffView(&tariffs[i]))
	}

	h.writeJSON(w, http.StatusOK, views)
}

type buyTariffRequest struct {
	TariffID int64 `json:"tariff_id"`
}

// BuySubscription покупает тариф за счёт средств кошелька текущего пользователя.
func (h *Handler) BuySubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req buyTariffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	txnID, err := h.subscriptions.BuyTariff(r.Context(), actor, req.TariffID)
	if err != nil {
		h.writeError(w, err, "buy tariff")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"transaction_id": txnID})
}

type extendRequest struct {
	UserID int64 `json:"user_id"`
	Days   int   `json:"days"`
}

// ExtendSubscription продлевает действующую подписку на указанное число дней.
func (h *Handler) ExtendSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID := req.UserID
	if userID == 0 {
		userID = actor.ID
	}

	if err := h.subscriptions.Extend(r.Context(), actor, userID, req.Days); err != nil {
		h.writeError(w, err, "extend subscription")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type activateRequest struct {
	UserID       int64 `json:"user_id"`
	TariffID     int64 `json:"tariff_id"`
	DurationDays *int  `json:"duration_days,omitempty"`
}

// ActivateSubscription назначает тариф пользователю без списания средств.
func (h *Handler) ActivateSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.subscriptions.ActivateTariff(r.Context(), actor, req.UserID, req.TariffID, req.DurationDays); err != nil {
		h.writeError(w, err, "activate subscription")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type tariffRequest struct {
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	DurationDays int    `json:"duration_days"`
	MaxOrders    *int   `json:"max_orders,omitempty"`
	MaxContacts  *int   `json:"max_contacts,omitempty"`
	Active       bool   `json:"active"`
}

// CreateTariff добавляет тариф в каталог.
func (h *Handler) CreateTariff(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req tariffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tariff := &model.Tariff{
		Name:         req.Name,
		Price:        req.Price,
		DurationDays: req.DurationDays,
		MaxOrders:    req.MaxOrders,
		MaxContacts:  req.MaxContacts,
		Active:       req.Active,
	}

	id, err := h.subscriptions.CreateTariff(r.Context(), actor, tariff)
	if err != nil {
		h.writeError(w, err, "create tariff")
		return
	}

	tariff.ID = id
	h.writeJSON(w, http.StatusCreated, toTariffView(tariff))
}

// UpdateTariff изменяет параметры тарифа.
func (h *Handler) UpdateTariff(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	tariffID, err := urlID(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req tariffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tariff := &model.Tariff{
		ID:           tariffID,
		Name:         req.Name,
		Price:        req.Price,
		DurationDays: req.DurationDays,
		MaxOrders:    req.MaxOrders,
		MaxContacts:  req.MaxContacts,
		Active:       req.Active,
	}

	if err := h.subscriptions.UpdateTariff(r.Context(), actor, tariff); err != nil {
		h.writeError(w, err, "update tariff")
		return
	}

	h.writeJSON(w, http.StatusOK, toTariffView(tariff))
}
