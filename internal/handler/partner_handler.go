package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
)

type createPartnerRequest struct {
	UserID       int64              `json:"user_id"`
	PayoutUserID int64              `json:"payout_user_id,omitempty"`
	RewardType   string             `json:"reward_type"`
	RewardValue  int64              `json:"reward_value"`
	Tiers        []model.RewardTier `json:"tiers,omitempty"`
}

type rewardView struct {
	ID            int64  `json:"id"`
	PartnerID     int64  `json:"partner_id"`
	SourceEventID string `json:"source_event_id"`
	OrderID       *int64 `json:"order_id,omitempty"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

func toRewardView(rw *model.PartnerReward) rewardView {
	return rewardView{
		ID:            rw.ID,
		PartnerID:     rw.PartnerID,
		SourceEventID: rw.SourceEventID,
		OrderID:       rw.OrderID,
		Amount:        rw.Amount,
		Status:        string(rw.Status),
		CreatedAt:     rw.CreatedAt.Format(time.RFC3339),
	}
}

// CreatePartner регистрирует пользователя в партнёрской программе.
func (h *Handler) CreatePartner(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req createPartnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.rewards.CreatePartner(r.Context(), actor, &model.Partner{
		UserID:       req.UserID,
		PayoutUserID: req.PayoutUserID,
		RewardType:   model.RewardType(req.RewardType),
		RewardValue:  req.RewardValue,
		Tiers:        req.Tiers,
	})
	if err != nil {
		h.writeError(w, err, "create partner")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// GetPartnerRewards возвращает вознаграждения партнёра текущего пользователя.
func (h *Handler) GetPartnerRewards(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	partner, err := h.rewards.GetPartnerByUser(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, err, "get partner")
		return
	}

	rewards, err := h.rewards.ListRewards(r.Context(), actor, partner.ID)
	if err != nil {
		h.writeError(w, err, "list rewards")
		return
	}

	if len(rewards) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	views := make([]rewardView, 0, len(rewards))
	for i := range rewards {
		views = append(views, toRewardView(&rewards[i]))
	}

	h.writeJSON(w, http.StatusOK, views)
}

// ApproveReward подтверждает начисленное вознаграждение.
func (h *Handler) ApproveReward(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	rewardID, err := urlID(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.rewards.Approve(r.Context(), actor, rewardID); err != nil {
		h.writeError(w, err, "approve reward")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// PayReward выплачивает подтверждённое вознаграждение на кошелёк партнёра.
func (h *Handler) PayReward(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	rewardID, err := urlID(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.rewards.Pay(r.Context(), actor, rewardID); err != nil {
		h.writeError(w, err, "pay reward")
		return
	}

	w.WriteHeader(http.StatusOK)
}
