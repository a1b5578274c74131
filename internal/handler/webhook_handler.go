package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/service"
)

// PaymentWebhook принимает событие платёжного провайдера. Повторная доставка
// того же события безопасна: дедупликация выполняется на уровне сервиса.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var ev service.IntakeEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.intake.Process(r.Context(), ev); err != nil {
		var validationErr *model.ValidationError
		if errors.As(err, &validationErr) {
			http.Error(w, validationErr.Error(), http.StatusBadRequest)
			return
		}
		// Провайдер повторит доставку при любом не-2xx ответе.
		h.logger.Error("process payment webhook", zap.Error(err),
			zap.String("intent", ev.ProviderPaymentIntentID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
