package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
)

type transactionView struct {
	ID            int64  `json:"id"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toTransactionView(t *model.WalletTransaction) transactionView {
	return transactionView{
		ID:            t.ID,
		Type:          string(t.Type),
		Amount:        t.Amount,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		Currency:      t.Currency,
		Reason:        t.Reason,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
	}
}

// GetBalance возвращает баланс кошелька текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	balance, err := h.wallet.GetBalance(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, err, "get balance")
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

// GetWalletTransactions возвращает историю операций по кошельку текущего пользователя.
func (h *Handler) GetWalletTransactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	txns, err := h.wallet.ListTransactions(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, err, "list wallet transactions")
		return
	}

	if len(txns) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	views := make([]transactionView, 0, len(txns))
	for i := range txns {
		views = append(views, toTransactionView(&txns[i]))
	}

	h.writeJSON(w, http.StatusOK, views)
}

type adjustRequest struct {
	UserID int64  `json:"user_id"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

// AdjustBalance выполняет административную корректировку баланса пользователя.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	txn, err := h.wallet.AdminAdjust(r.Context(), actor, req.UserID, req.Delta, req.Reason)
	if err != nil {
		h.writeError(w, err, "adjust balance")
		return
	}

	h.writeJSON(w, http.StatusOK, toTransactionView(txn))
}
