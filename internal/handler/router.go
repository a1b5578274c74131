package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/middleware"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса маркетплейса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/balance", h.GetBalance)
			r.Get("/wallet", h.GetWalletTransactions)

			r.Post("/subscription", h.BuySubscription)
			r.Post("/subscription/extend", h.ExtendSubscription)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.RequireRole(model.RoleAdmin))

				r.Post("/wallet/adjust", h.AdjustBalance)
				r.Post("/subscription/activate", h.ActivateSubscription)
			})
		})
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/", h.CreateOrder)
		r.Get("/", h.GetOrders)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Delete("/", h.DeleteOrder)

			r.Post("/select", h.SelectExecutor)
			r.Post("/take", h.TakeIntoWork)
			r.Post("/complete-request", h.RequestCompletion)
			r.Post("/complete-confirm", h.ConfirmCompletion)
			r.Post("/complete-reject", h.RejectCompletion)
			r.Post("/cancel", h.CancelOrder)

			r.Post("/responses", h.SubmitResponse)
			r.Get("/responses", h.ListResponses)

			r.With(h.authMiddleware.RequireRole(model.RoleAdmin)).
				Post("/mediator", h.AssignMediator)
			r.With(h.authMiddleware.RequireRole(model.RoleMediator, model.RoleAdmin)).
				Post("/mediator/advance", h.AdvanceMediatorStep)
			r.With(h.authMiddleware.RequireRole(model.RoleMediator, model.RoleAdmin)).
				Post("/executor", h.SelectExecutorDirect)
		})
	})

	r.Route("/api/responses/{id}", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/send-contact", h.SendCustomerContact)
		r.Post("/open-contact", h.OpenExecutorContact)
		r.Post("/revoke", h.RevokeResponse)
		r.Post("/reject", h.RejectResponse)
	})

	r.Route("/api/tariffs", func(r chi.Router) {
		r.Get("/", h.ListTariffs)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(h.authMiddleware.RequireRole(model.RoleAdmin))

			r.Post("/", h.CreateTariff)
			r.Put("/{id}", h.UpdateTariff)
		})
	})

	r.Route("/api/partner", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/rewards", h.GetPartnerRewards)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.RequireRole(model.RoleAdmin))

			r.Post("/", h.CreatePartner)
			r.Post("/rewards/{id}/approve", h.ApproveReward)
			r.Post("/rewards/{id}/pay", h.PayReward)
		})
	})

	r.Post("/api/webhooks/payment", h.PaymentWebhook)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
