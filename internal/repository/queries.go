package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
)

// ErrProviderRefExists возвращается при попытке записать транзакцию
// с уже использованным внешним идентификатором платежа.
var ErrProviderRefExists = errors.New("provider reference already recorded")

// db покрывает общие методы pgxpool.Pool и pgx.Tx: одни и те же запросы
// выполняются как на пуле, так и внутри транзакции.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db db
}

const userColumns = `id, login, password_hash, role, balance, currency, partner_id,
	tariff_id, subscription_started_at, subscription_ends_at,
	period_orders_opened, period_contacts_opened, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.Balance, &u.Currency,
		&u.PartnerID, &u.TariffID, &u.SubscriptionStartedAt, &u.SubscriptionEndsAt,
		&u.PeriodOrdersOpened, &u.PeriodContactsOpened, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// CreateUser создаёт нового пользователя.
func (q *queries) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUser возвращает пользователя по идентификатору.
func (q *queries) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(q.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByLogin возвращает пользователя по логину.
func (q *queries) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return scanUser(q.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE login = $1`, login))
}

// GetUserForUpdate возвращает пользователя, блокируя его строку до конца
// транзакции. Через эту блокировку сериализуются операции над кошельком
// и счётчиками подписки.
func (q *queries) GetUserForUpdate(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(q.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

// UpdateSubscription устанавливает тариф и окно подписки пользователя.
// При resetCounters счётчики использования нового периода обнуляются.
func (q *queries) UpdateSubscription(ctx context.Context, userID, tariffID int64, startedAt time.Time, endsAt *time.Time, resetCounters bool) error {
	var err error
	if resetCounters {
		_, err = q.db.Exec(ctx,
			`UPDATE users SET tariff_id = $2, subscription_started_at = $3, subscription_ends_at = $4,
			 period_orders_opened = 0, period_contacts_opened = 0 WHERE id = $1`,
			userID, tariffID, startedAt, endsAt)
	} else {
		_, err = q.db.Exec(ctx,
			`UPDATE users SET tariff_id = $2, subscription_started_at = $3, subscription_ends_at = $4 WHERE id = $1`,
			userID, tariffID, startedAt, endsAt)
	}
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

// IncrementOrdersOpened увеличивает счётчик открытых заказов периода.
func (q *queries) IncrementOrdersOpened(ctx context.Context, userID int64) error {
	_, err := q.db.Exec(ctx,
		`UPDATE users SET period_orders_opened = period_orders_opened + 1 WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("increment orders opened: %w", err)
	}
	return nil
}

// IncrementContactsOpened увеличивает счётчик открытых контактов периода.
func (q *queries) IncrementContactsOpened(ctx context.Context, userID int64) error {
	_, err := q.db.Exec(ctx,
		`UPDATE users SET period_contacts_opened = period_contacts_opened + 1 WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("increment contacts opened: %w", err)
	}
	return nil
}

// ListExpiringSubscriptions возвращает пользователей, подписка которых
// заканчивается до указанного момента.
func (q *queries) ListExpiringSubscriptions(ctx context.Context, before time.Time) ([]model.User, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE subscription_ends_at IS NOT NULL AND subscription_ends_at > now() AND subscription_ends_at < $1`,
		before)
	if err != nil {
		return nil, fmt.Errorf("select expiring subscriptions: %w", err)
	}
	defer rows.Close()

	var res []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	return res, rows.Err()
}

const orderColumns = `id, author_id, executor_id, mediator_id, title, direction, city,
	max_amount, currency, status, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status int
	err := row.Scan(&o.ID, &o.AuthorID, &o.ExecutorID, &o.MediatorID, &o.Title, &o.Direction,
		&o.City, &o.MaxAmount, &o.Currency, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// CreateOrder сохраняет новый заказ и возвращает его идентификатор.
func (q *queries) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO orders (author_id, mediator_id, title, direction, city, max_amount, currency, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		o.AuthorID, o.MediatorID, o.Title, o.Direction, o.City, o.MaxAmount, o.Currency, int(o.Status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return id, nil
}

// GetOrder возвращает заказ по идентификатору.
func (q *queries) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return scanOrder(q.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetOrderForUpdate возвращает заказ, блокируя его строку до конца транзакции.
// Блокировка заказа берётся первой: порядок заказ -> отклик -> пользователь
// исключает взаимные блокировки пересекающихся операций.
func (q *queries) GetOrderForUpdate(ctx context.Context, id int64) (*model.Order, error) {
	return scanOrder(q.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

// UpdateOrder устанавливает статус и исполнителя заказа.
func (q *queries) UpdateOrder(ctx context.Context, id int64, status model.OrderStatus, executorID *int64) error {
	_, err := q.db.Exec(ctx,
		`UPDATE orders SET status = $2, executor_id = $3, updated_at = now() WHERE id = $1`,
		id, int(status), executorID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// SetOrderMediator назначает заказу посредника и переводит его в указанный статус.
func (q *queries) SetOrderMediator(ctx context.Context, orderID, mediatorID int64, status model.OrderStatus) error {
	_, err := q.db.Exec(ctx,
		`UPDATE orders SET mediator_id = $2, status = $3, updated_at = now() WHERE id = $1`,
		orderID, mediatorID, int(status))
	if err != nil {
		return fmt.Errorf("set order mediator: %w", err)
	}
	return nil
}

func (q *queries) listOrders(ctx context.Context, query string, arg any) ([]model.Order, error) {
	rows, err := q.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *o)
	}
	return res, rows.Err()
}

// ListOrdersByAuthor возвращает заказы клиента.
func (q *queries) ListOrdersByAuthor(ctx context.Context, authorID int64) ([]model.Order, error) {
	return q.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE author_id = $1 ORDER BY created_at DESC`, authorID)
}

// ListOrdersByExecutor возвращает заказы исполнителя.
func (q *queries) ListOrdersByExecutor(ctx context.Context, executorID int64) ([]model.Order, error) {
	return q.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE executor_id = $1 ORDER BY created_at DESC`, executorID)
}

// CountActiveOrdersByExecutor возвращает число заказов, открытых у исполнителя
// в данный момент. Учитываются статусы от выбора исполнителя до подтверждения.
func (q *queries) CountActiveOrdersByExecutor(ctx context.Context, executorID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE executor_id = $1 AND status IN ($2, $3, $4)`,
		executorID,
		int(model.OrderExecutorSelected), int(model.OrderInWork), int(model.OrderAwaitingConfirmation),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active orders: %w", err)
	}
	return n, nil
}

const responseColumns = `id, order_id, executor_id, status, review_id, created_at, updated_at`

func scanResponse(row pgx.Row) (*model.OrderResponse, error) {
	var r model.OrderResponse
	var status int
	err := row.Scan(&r.ID, &r.OrderID, &r.ExecutorID, &status, &r.ReviewID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResponseNotFound
		}
		return nil, fmt.Errorf("scan response: %w", err)
	}
	r.Status = model.ResponseStatus(status)
	return &r, nil
}

// CreateResponse сохраняет новый отклик. Частичный уникальный индекс по
// (order_id, executor_id) отклоняет повторный неудалённый отклик.
func (q *queries) CreateResponse(ctx context.Context, resp *model.OrderResponse) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO order_responses (order_id, executor_id, status) VALUES ($1, $2, $3) RETURNING id`,
		resp.OrderID, resp.ExecutorID, int(resp.Status),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, &model.DuplicateResponseError{OrderID: resp.OrderID, ExecutorID: resp.ExecutorID}
		}
		return 0, fmt.Errorf("insert response: %w", err)
	}
	return id, nil
}

// GetResponse возвращает отклик по идентификатору.
func (q *queries) GetResponse(ctx context.Context, id int64) (*model.OrderResponse, error) {
	return scanResponse(q.db.QueryRow(ctx,
		`SELECT `+responseColumns+` FROM order_responses WHERE id = $1`, id))
}

// GetResponseForUpdate возвращает отклик, блокируя его строку до конца транзакции.
func (q *queries) GetResponseForUpdate(ctx context.Context, id int64) (*model.OrderResponse, error) {
	return scanResponse(q.db.QueryRow(ctx,
		`SELECT `+responseColumns+` FROM order_responses WHERE id = $1 FOR UPDATE`, id))
}

// GetOpenResponseByOrderExecutor возвращает неудалённый отклик исполнителя на заказ.
func (q *queries) GetOpenResponseByOrderExecutor(ctx context.Context, orderID, executorID int64) (*model.OrderResponse, error) {
	return scanResponse(q.db.QueryRow(ctx,
		`SELECT `+responseColumns+` FROM order_responses
		 WHERE order_id = $1 AND executor_id = $2 AND status <> $3`,
		orderID, executorID, int(model.ResponseDeleted)))
}

// ListResponsesByOrder возвращает отклики на заказ.
func (q *queries) ListResponsesByOrder(ctx context.Context, orderID int64) ([]model.OrderResponse, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+responseColumns+` FROM order_responses WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select responses: %w", err)
	}
	defer rows.Close()

	var res []model.OrderResponse
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *r)
	}
	return res, rows.Err()
}

// UpdateResponseStatus устанавливает статус отклика.
func (q *queries) UpdateResponseStatus(ctx context.Context, id int64, status model.ResponseStatus) error {
	_, err := q.db.Exec(ctx,
		`UPDATE order_responses SET status = $2, updated_at = now() WHERE id = $1`,
		id, int(status))
	if err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	return nil
}

// RejectOpenResponses отклоняет все действующие отклики заказа, кроме указанного,
// одним запросом внутри текущей транзакции.
func (q *queries) RejectOpenResponses(ctx context.Context, orderID, exceptID int64) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE order_responses SET status = $3, updated_at = now()
		 WHERE order_id = $1 AND id <> $2 AND status NOT IN ($3, $4)`,
		orderID, exceptID, int(model.ResponseRejected), int(model.ResponseDeleted))
	if err != nil {
		return 0, fmt.Errorf("reject responses: %w", err)
	}
	return tag.RowsAffected(), nil
}

const txnColumns = `id, user_id, type, amount, balance_before, balance_after, currency,
	provider_ref, source_id, reason, actor_id, created_at`

func scanTransaction(row pgx.Row) (*model.WalletTransaction, error) {
	var t model.WalletTransaction
	var typ string
	err := row.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
		&t.Currency, &t.ProviderRef, &t.SourceID, &t.Reason, &t.ActorID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	t.Type = model.TransactionType(typ)
	return &t, nil
}

// AppendWalletTransaction добавляет запись журнала кошелька и продвигает баланс
// счёта. Баланс обновляется сравнением с balance_before записи: если строка
// пользователя ушла вперёд конкурентной транзакцией, операция завершается
// ConcurrentModificationError и откатывается целиком.
func (q *queries) AppendWalletTransaction(ctx context.Context, t *model.WalletTransaction) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET balance = $3 WHERE id = $1 AND balance = $2`,
		t.UserID, t.BalanceBefore, t.BalanceAfter)
	if err != nil {
		return 0, fmt.Errorf("advance balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, &model.ConcurrentModificationError{Entity: "wallet_account", ID: t.UserID}
	}

	var id int64
	err = q.db.QueryRow(ctx,
		`INSERT INTO wallet_transactions
		 (user_id, type, amount, balance_before, balance_after, currency, provider_ref, source_id, reason, actor_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		t.UserID, string(t.Type), t.Amount, t.BalanceBefore, t.BalanceAfter,
		t.Currency, t.ProviderRef, t.SourceID, t.Reason, t.ActorID,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, ErrProviderRefExists
		}
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

// GetWalletTransaction возвращает транзакцию кошелька по идентификатору.
func (q *queries) GetWalletTransaction(ctx context.Context, id int64) (*model.WalletTransaction, error) {
	return scanTransaction(q.db.QueryRow(ctx,
		`SELECT `+txnColumns+` FROM wallet_transactions WHERE id = $1`, id))
}

// GetWalletTransactionByProviderRef возвращает транзакцию по внешнему
// идентификатору платежа.
func (q *queries) GetWalletTransactionByProviderRef(ctx context.Context, ref string) (*model.WalletTransaction, error) {
	return scanTransaction(q.db.QueryRow(ctx,
		`SELECT `+txnColumns+` FROM wallet_transactions WHERE provider_ref = $1`, ref))
}

// ListWalletTransactions возвращает историю операций кошелька пользователя.
func (q *queries) ListWalletTransactions(ctx context.Context, userID int64) ([]model.WalletTransaction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+txnColumns+` FROM wallet_transactions WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.WalletTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}
	return res, rows.Err()
}

// SumRefundsBySource возвращает сумму возвратов по исходной транзакции.
func (q *queries) SumRefundsBySource(ctx context.Context, sourceID int64) (int64, error) {
	var sum int64
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE source_id = $1 AND type = $2`,
		sourceID, string(model.TransactionRefund),
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum refunds: %w", err)
	}
	return sum, nil
}

const tariffColumns = `id, name, price, duration_days, max_orders, max_contacts, active`

func scanTariff(row pgx.Row) (*model.Tariff, error) {
	var t model.Tariff
	err := row.Scan(&t.ID, &t.Name, &t.Price, &t.DurationDays, &t.MaxOrders, &t.MaxContacts, &t.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTariffNotFound
		}
		return nil, fmt.Errorf("scan tariff: %w", err)
	}
	return &t, nil
}

// GetTariff возвращает тариф по идентификатору.
func (q *queries) GetTariff(ctx context.Context, id int64) (*model.Tariff, error) {
	return scanTariff(q.db.QueryRow(ctx,
		`SELECT `+tariffColumns+` FROM tariffs WHERE id = $1`, id))
}

// ListTariffs возвращает список тарифов.
func (q *queries) ListTariffs(ctx context.Context, activeOnly bool) ([]model.Tariff, error) {
	query := `SELECT ` + tariffColumns + ` FROM tariffs ORDER BY id`
	if activeOnly {
		query = `SELECT ` + tariffColumns + ` FROM tariffs WHERE active ORDER BY id`
	}

	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select tariffs: %w", err)
	}
	defer rows.Close()

	var res []model.Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}
	return res, rows.Err()
}

// CreateTariff сохраняет новый тариф.
func (q *queries) CreateTariff(ctx context.Context, t *model.Tariff) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO tariffs (name, price, duration_days, max_orders, max_contacts, active)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		t.Name, t.Price, t.DurationDays, t.MaxOrders, t.MaxContacts, t.Active,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert tariff: %w", err)
	}
	return id, nil
}

// UpdateTariff обновляет параметры тарифа.
func (q *queries) UpdateTariff(ctx context.Context, t *model.Tariff) error {
	_, err := q.db.Exec(ctx,
		`UPDATE tariffs SET name = $2, price = $3, duration_days = $4,
		 max_orders = $5, max_contacts = $6, active = $7 WHERE id = $1`,
		t.ID, t.Name, t.Price, t.DurationDays, t.MaxOrders, t.MaxContacts, t.Active)
	if err != nil {
		return fmt.Errorf("update tariff: %w", err)
	}
	return nil
}

const partnerColumns = `id, user_id, payout_user_id, reward_type, reward_value, tiers, created_at`

func scanPartner(row pgx.Row) (*model.Partner, error) {
	var p model.Partner
	var rewardType string
	var tiers []byte
	err := row.Scan(&p.ID, &p.UserID, &p.PayoutUserID, &rewardType, &p.RewardValue, &tiers, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPartnerNotFound
		}
		return nil, fmt.Errorf("scan partner: %w", err)
	}
	p.RewardType = model.RewardType(rewardType)
	if len(tiers) > 0 {
		if err := json.Unmarshal(tiers, &p.Tiers); err != nil {
			return nil, fmt.Errorf("unmarshal tiers: %w", err)
		}
	}
	return &p, nil
}

// GetPartner возвращает партнёра по идентификатору.
func (q *queries) GetPartner(ctx context.Context, id int64) (*model.Partner, error) {
	return scanPartner(q.db.QueryRow(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE id = $1`, id))
}

// GetPartnerByUser возвращает партнёра по идентификатору пользователя.
func (q *queries) GetPartnerByUser(ctx context.Context, userID int64) (*model.Partner, error) {
	return scanPartner(q.db.QueryRow(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE user_id = $1`, userID))
}

// CreatePartner сохраняет нового партнёра.
func (q *queries) CreatePartner(ctx context.Context, p *model.Partner) (int64, error) {
	tiers, err := json.Marshal(p.Tiers)
	if err != nil {
		return 0, fmt.Errorf("marshal tiers: %w", err)
	}
	if p.Tiers == nil {
		tiers = []byte("[]")
	}

	var id int64
	err = q.db.QueryRow(ctx,
		`INSERT INTO partners (user_id, payout_user_id, reward_type, reward_value, tiers)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.UserID, p.PayoutUserID, string(p.RewardType), p.RewardValue, tiers,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert partner: %w", err)
	}
	return id, nil
}

// CreatePartnerReward сохраняет вознаграждение, если событие ещё не учтено.
// Уникальность пары (партнёр, исходное событие) обеспечивает идемпотентность
// при повторной доставке события завершения.
func (q *queries) CreatePartnerReward(ctx context.Context, r *model.PartnerReward) (int64, bool, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO partner_rewards (partner_id, source_event_id, order_id, amount, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (partner_id, source_event_id) DO NOTHING
		 RETURNING id`,
		r.PartnerID, r.SourceEventID, r.OrderID, r.Amount, string(r.Status),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert reward: %w", err)
	}
	return id, true, nil
}

func scanReward(row pgx.Row) (*model.PartnerReward, error) {
	var r model.PartnerReward
	var status string
	err := row.Scan(&r.ID, &r.PartnerID, &r.SourceEventID, &r.OrderID, &r.Amount, &status, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("scan reward: %w", err)
	}
	r.Status = model.RewardStatus(status)
	return &r, nil
}

// GetPartnerRewardForUpdate возвращает вознаграждение, блокируя его строку.
func (q *queries) GetPartnerRewardForUpdate(ctx context.Context, id int64) (*model.PartnerReward, error) {
	return scanReward(q.db.QueryRow(ctx,
		`SELECT id, partner_id, source_event_id, order_id, amount, status, created_at
		 FROM partner_rewards WHERE id = $1 FOR UPDATE`, id))
}

// UpdatePartnerRewardStatus устанавливает статус вознаграждения.
func (q *queries) UpdatePartnerRewardStatus(ctx context.Context, id int64, status model.RewardStatus) error {
	_, err := q.db.Exec(ctx,
		`UPDATE partner_rewards SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update reward: %w", err)
	}
	return nil
}

// ListRewardsByPartner возвращает вознаграждения партнёра.
func (q *queries) ListRewardsByPartner(ctx context.Context, partnerID int64) ([]model.PartnerReward, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, partner_id, source_event_id, order_id, amount, status, created_at
		 FROM partner_rewards WHERE partner_id = $1 ORDER BY created_at DESC`, partnerID)
	if err != nil {
		return nil, fmt.Errorf("select rewards: %w", err)
	}
	defer rows.Close()

	var res []model.PartnerReward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *r)
	}
	return res, rows.Err()
}

// SumApprovedRewards возвращает накопленный объём одобренных и выплаченных
// вознаграждений партнёра. По нему выбирается ступень вознаграждения.
func (q *queries) SumApprovedRewards(ctx context.Context, partnerID int64) (int64, error) {
	var sum int64
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM partner_rewards
		 WHERE partner_id = $1 AND status IN ($2, $3)`,
		partnerID, string(model.RewardApproved), string(model.RewardPaid),
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum rewards: %w", err)
	}
	return sum, nil
}

// MarkWebhookProcessed фиксирует обработку входящего события платёжного
// провайдера. Возвращает false, если событие уже встречалось.
func (q *queries) MarkWebhookProcessed(ctx context.Context, providerEventID string) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`INSERT INTO processed_webhook_events (provider_event_id) VALUES ($1)
		 ON CONFLICT (provider_event_id) DO NOTHING`,
		providerEventID)
	if err != nil {
		return false, fmt.Errorf("mark webhook processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
