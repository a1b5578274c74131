// Package service реализует транзакционное ядро маркетплейса: машины
// состояний заказа и отклика, журнал кошелька, контроль квот подписки
// и расчёт партнёрских вознаграждений.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/event"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/repository"
)

// Storage описывает контракт доступа к данным, используемый сервисами.
// Операции ядра выполняются внутри InTransaction: переходы машин состояний,
// записи журнала и проверки квот применяются целиком либо откатываются.
type Storage interface {
	repository.Store
	InTransaction(ctx context.Context, fn func(s repository.Store) error) error
	Close() error
}

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// withConflictRetry повторяет операцию при ConcurrentModificationError.
// Такая ошибка сигнализирует о транзиентной гонке, а не о нарушении
// бизнес-правила, поэтому ограниченный автоматический повтор безопасен.
func withConflictRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		var conflict *model.ConcurrentModificationError
		if errors.As(err, &conflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// Services объединяет сервисы ядра, построенные над одним хранилищем
// и одной шиной событий.
type Services struct {
	Auth         *AuthService
	Orders       *OrderService
	Responses    *ResponseService
	Wallet       *WalletService
	Subscription *SubscriptionService
	Rewards      *RewardService
	Intake       *IntakeService

	storage Storage
}

// NewServices создаёт сервисы ядра и подписывает движок вознаграждений
// на события завершения заказов и оплаты подписок.
func NewServices(storage Storage, bus *event.Bus, logger *zap.Logger) *Services {
	now := time.Now

	wallet := &WalletService{storage: storage}
	subscription := &SubscriptionService{storage: storage, bus: bus, logger: logger, now: now}
	rewards := &RewardService{storage: storage, bus: bus, logger: logger}
	rewards.Register(bus)

	return &Services{
		Auth:         &AuthService{storage: storage},
		Orders:       &OrderService{storage: storage, bus: bus, now: now},
		Responses:    &ResponseService{storage: storage, bus: bus, now: now},
		Wallet:       wallet,
		Subscription: subscription,
		Rewards:      rewards,
		Intake:       &IntakeService{storage: storage, bus: bus, logger: logger, now: now},
		storage:      storage,
	}
}

// Close закрывает ресурсы сервисов.
func (s *Services) Close() error {
	if s.storage != nil {
		return s.storage.Close()
	}
	return nil
}

// AuthService отвечает за регистрацию и аутентификацию пользователей.
type AuthService struct {
	storage Storage
}

// RegisterUser регистрирует нового пользователя с указанной ролью.
func (s *AuthService) RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error) {
	if login == "" {
		return 0, model.NewValidationError("login", "must not be empty")
	}
	if password == "" {
		return 0, model.NewValidationError("password", "must not be empty")
	}
	switch role {
	case model.RoleCustomer, model.RoleExecutor, model.RoleMediator:
	default:
		return 0, model.NewValidationError("role", "unknown role")
	}

	hashed := hashPassword(login, password)
	return s.storage.CreateUser(ctx, login, hashed, role)
}

// AuthenticateUser проверяет логин и пароль и возвращает пользователя.
func (s *AuthService) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.storage.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// GetActor возвращает инициатора операции по идентификатору пользователя.
func (s *AuthService) GetActor(ctx context.Context, userID int64) (model.Actor, error) {
	u, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return model.Actor{}, err
	}
	return model.Actor{ID: u.ID, Role: u.Role}, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}
