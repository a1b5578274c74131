// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrResponseNotFound возвращается, если отклик не найден.
	ErrResponseNotFound = errors.New("response not found")
	// ErrTariffNotFound возвращается, если тариф не найден.
	ErrTariffNotFound = errors.New("tariff not found")
	// ErrPartnerNotFound возвращается, если партнёр не найден.
	ErrPartnerNotFound = errors.New("partner not found")
	// ErrRewardNotFound возвращается, если вознаграждение не найдено.
	ErrRewardNotFound = errors.New("reward not found")
	// ErrTransactionNotFound возвращается, если транзакция кошелька не найдена.
	ErrTransactionNotFound = errors.New("wallet transaction not found")
)

// Store описывает набор операций над данными, доступный как на пуле соединений,
// так и внутри открытой транзакции.
type Store interface {
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserForUpdate(ctx context.Context, id int64) (*model.User, error)
	UpdateSubscription(ctx context.Context, userID, tariffID int64, startedAt time.Time, endsAt *time.Time, resetCounters bool) error
	IncrementOrdersOpened(ctx context.Context, userID int64) error
	IncrementContactsOpened(ctx context.Context, userID int64) error
	ListExpiringSubscriptions(ctx context.Context, before time.Time) ([]model.User, error)

	CreateOrder(ctx context.Context, o *model.Order) (int64, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*model.Order, error)
	UpdateOrder(ctx context.Context, id int64, status model.OrderStatus, executorID *int64) error
	SetOrderMediator(ctx context.Context, orderID, mediatorID int64, status model.OrderStatus) error
	ListOrdersByAuthor(ctx context.Context, authorID int64) ([]model.Order, error)
	ListOrdersByExecutor(ctx context.Context, executorID int64) ([]model.Order, error)
	CountActiveOrdersByExecutor(ctx context.Context, executorID int64) (int, error)

	CreateResponse(ctx context.Context, resp *model.OrderResponse) (int64, error)
	GetResponse(ctx context.Context, id int64) (*model.OrderResponse, error)
	GetResponseForUpdate(ctx context.Context, id int64) (*model.OrderResponse, error)
	GetOpenResponseByOrderExecutor(ctx context.Context, orderID, executorID int64) (*model.OrderResponse, error)
	ListResponsesByOrder(ctx context.Context, orderID int64) ([]model.OrderResponse, error)
	UpdateResponseStatus(ctx context.Context, id int64, status model.ResponseStatus) error
	RejectOpenResponses(ctx context.Context, orderID, exceptID int64) (int64, error)

	AppendWalletTransaction(ctx context.Context, t *model.WalletTransaction) (int64, error)
	GetWalletTransaction(ctx context.Context, id int64) (*model.WalletTransaction, error)
	GetWalletTransactionByProviderRef(ctx context.Context, ref string) (*model.WalletTransaction, error)
	ListWalletTransactions(ctx context.Context, userID int64) ([]model.WalletTransaction, error)
	SumRefundsBySource(ctx context.Context, sourceID int64) (int64, error)

	GetTariff(ctx context.Context, id int64) (*model.Tariff, error)
	ListTariffs(ctx context.Context, activeOnly bool) ([]model.Tariff, error)
	CreateTariff(ctx context.Context, t *model.Tariff) (int64, error)
	UpdateTariff(ctx context.Context, t *model.Tariff) error

	GetPartner(ctx context.Context, id int64) (*model.Partner, error)
	GetPartnerByUser(ctx context.Context, userID int64) (*model.Partner, error)
	CreatePartner(ctx context.Context, p *model.Partner) (int64, error)
	CreatePartnerReward(ctx context.Context, r *model.PartnerReward) (int64, bool, error)
	GetPartnerRewardForUpdate(ctx context.Context, id int64) (*model.PartnerReward, error)
	UpdatePartnerRewardStatus(ctx context.Context, id int64, status model.RewardStatus) error
	ListRewardsByPartner(ctx context.Context, partnerID int64) ([]model.PartnerReward, error)
	SumApprovedRewards(ctx context.Context, partnerID int64) (int64, error)

	MarkWebhookProcessed(ctx context.Context, providerEventID string) (bool, error)
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	queries
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		queries: queries{db: pool},
		pool:    pool,
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// InTransaction выполняет fn внутри одной транзакции БД. Все переходы машин
// состояний и записи журнала кошелька проходят через эту обёртку: операция
// либо применяется целиком, либо откатывается. Сбои сериализации и дедлоки
// транслируются в ConcurrentModificationError, пригодную для ограниченного
// повтора вызывающим слоем.
func (r *PostgresRepository) InTransaction(ctx context.Context, fn func(s Store) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
			return &model.ConcurrentModificationError{Entity: "transaction"}
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
