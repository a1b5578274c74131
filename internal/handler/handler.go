// Package handler содержит HTTP-обработчики API маркетплейса услуг.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/middleware"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/repository"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/service"
)

// AuthService определяет контракт регистрации и аутентификации.
type AuthService interface {
	RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
}

// OrderService определяет контракт операций над заказами.
type OrderService interface {
	CreateOrder(ctx context.Context, actor model.Actor, in service.CreateOrderInput) (*model.Order, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	ListByAuthor(ctx context.Context, authorID int64) ([]model.Order, error)
	ListByExecutor(ctx context.Context, executorID int64) ([]model.Order, error)
	SelectExecutor(ctx context.Context, actor model.Actor, orderID, responseID int64) error
	TakeIntoWork(ctx context.Context, actor model.Actor, orderID int64) error
	RequestCompletion(ctx context.Context, actor model.Actor, orderID int64) error
	ConfirmCompletion(ctx context.Context, actor model.Actor, orderID int64) error
	RejectCompletion(ctx context.Context, actor model.Actor, orderID int64) error
	Cancel(ctx context.Context, actor model.Actor, orderID int64) error
	SoftDelete(ctx context.Context, actor model.Actor, orderID int64) error
	AssignMediator(ctx context.Context, actor model.Actor, orderID, mediatorID int64) error
	AdvanceMediatorStep(ctx context.Context, actor model.Actor, orderID int64) error
	SelectExecutorDirect(ctx context.Context, actor model.Actor, orderID, executorID int64) error
}

// ResponseService определяет контракт операций над откликами.
type ResponseService interface {
	Submit(ctx context.Context, actor model.Actor, orderID int64) (*model.OrderResponse, error)
	SendCustomerContact(ctx context.Context, actor model.Actor, responseID int64) error
	OpenExecutorContact(ctx context.Context, actor model.Actor, responseID int64) error
	Revoke(ctx context.Context, actor model.Actor, responseID int64) error
	Reject(ctx context.Context, actor model.Actor, responseID int64) error
	ListByOrder(ctx context.Context, actor model.Actor, orderID int64) ([]model.OrderResponse, error)
}

// WalletService определяет контракт операций над кошельком.
type WalletService interface {
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	ListTransactions(ctx context.Context, userID int64) ([]model.WalletTransaction, error)
	AdminAdjust(ctx context.Context, actor model.Actor, userID, delta int64, reason string) (*model.WalletTransaction, error)
}

// SubscriptionService определяет контракт операций над тарифами и подписками.
type SubscriptionService interface {
	ListTariffs(ctx context.Context) ([]model.Tariff, error)
	BuyTariff(ctx context.Context, actor model.Actor, tariffID int64) (int64, error)
	Extend(ctx context.Context, actor model.Actor, userID int64, days int) error
	ActivateTariff(ctx context.Context, actor model.Actor, userID, tariffID int64, customDurationDays *int) error
	CreateTariff(ctx context.Context, actor model.Actor, t *model.Tariff) (int64, error)
	UpdateTariff(ctx context.Context, actor model.Actor, t *model.Tariff) error
}

// RewardService определяет контракт операций над партнёрскими вознаграждениями.
type RewardService interface {
	CreatePartner(ctx context.Context, actor model.Actor, p *model.Partner) (int64, error)
	ListRewards(ctx context.Context, actor model.Actor, partnerID int64) ([]model.PartnerReward, error)
	Approve(ctx context.Context, actor model.Actor, rewardID int64) error
	Pay(ctx context.Context, actor model.Actor, rewardID int64) error
	GetPartnerByUser(ctx context.Context, userID int64) (*model.Partner, error)
}

// IntakeService определяет контракт приёма платёжных вебхуков.
type IntakeService interface {
	Process(ctx context.Context, ev service.IntakeEvent) error
}

// Handler реализует HTTP-обработчики API маркетплейса.
type Handler struct {
	auth          AuthService
	orders        OrderService
	responses     ResponseService
	wallet        WalletService
	subscriptions SubscriptionService
	rewards       RewardService
	intake        IntakeService

	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s *service.Services, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		auth:           s.Auth,
		orders:         s.Orders,
		responses:      s.Responses,
		wallet:         s.Wallet,
		subscriptions:  s.Subscription,
		rewards:        s.Rewards,
		intake:         s.Intake,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError переводит доменную ошибку в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	var (
		validationErr *model.ValidationError
		transitionErr *model.InvalidTransitionError
		quotaErr      *model.QuotaExceededError
		fundsErr      *model.InsufficientFundsError
		duplicateErr  *model.DuplicateResponseError
		conflictErr   *model.ConcurrentModificationError
		extendErr     *model.ExtendNotApplicableError
	)

	switch {
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrPermissionDenied):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, repository.ErrUserExists):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrResponseNotFound),
		errors.Is(err, repository.ErrTariffNotFound),
		errors.Is(err, repository.ErrPartnerNotFound),
		errors.Is(err, repository.ErrRewardNotFound),
		errors.Is(err, repository.ErrTransactionNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.As(err, &quotaErr):
		http.Error(w, quotaErr.Error(), http.StatusPaymentRequired)
	case errors.As(err, &fundsErr):
		http.Error(w, fundsErr.Error(), http.StatusPaymentRequired)
	case errors.As(err, &transitionErr):
		http.Error(w, transitionErr.Error(), http.StatusConflict)
	case errors.As(err, &duplicateErr):
		http.Error(w, duplicateErr.Error(), http.StatusConflict)
	case errors.As(err, &extendErr):
		http.Error(w, extendErr.Error(), http.StatusConflict)
	case errors.As(err, &conflictErr):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	default:
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func actorFrom(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return actor, ok
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	role := model.Role(req.Role)
	if req.Role == "" {
		role = model.RoleCustomer
	}

	userID, err := h.auth.RegisterUser(r.Context(), req.Login, req.Password, role)
	if err != nil {
		h.writeError(w, err, "register user")
		return
	}

	h.authMiddleware.SetAuthCookie(w, model.Actor{ID: userID, Role: role})
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.auth.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, model.Actor{ID: user.ID, Role: user.Role})
	w.WriteHeader(http.StatusOK)
}
