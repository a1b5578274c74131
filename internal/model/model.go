// Package model содержит доменные сущности маркетплейса услуг.
package model

import "time"

// Role определяет роль пользователя в системе.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleExecutor Role = "executor"
	RoleMediator Role = "mediator"
	RoleAdmin    Role = "admin"
)

// Actor описывает инициатора операции. Все операции ядра принимают
// действующего пользователя явно, без обращения к глобальному контексту.
type Actor struct {
	ID   int64
	Role Role
}

// Valid сообщает, является ли значение известной ролью.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleExecutor, RoleMediator, RoleAdmin:
		return true
	}
	return false
}

// IsAdmin сообщает, обладает ли инициатор административными правами.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// User представляет пользователя системы вместе с кошельком и подпиской.
// Баланс и счётчики использования меняются только через транзакции кошелька
// и проверки квот, прямой записи этих полей нет.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role

	Balance  int64
	Currency string

	PartnerID *int64

	TariffID              int64
	SubscriptionStartedAt time.Time
	SubscriptionEndsAt    *time.Time
	PeriodOrdersOpened    int
	PeriodContactsOpened  int

	CreatedAt time.Time
}

// SubscriptionExpired сообщает, истёк ли оплаченный период подписки
// на момент now. Подписка без даты окончания бессрочна.
func (u *User) SubscriptionExpired(now time.Time) bool {
	return u.SubscriptionEndsAt != nil && now.After(*u.SubscriptionEndsAt)
}

// Order описывает заказ клиента.
type Order struct {
	ID         int64
	AuthorID   int64
	ExecutorID *int64
	MediatorID *int64
	Title      string
	Direction  string
	City       string
	MaxAmount  int64
	Currency   string
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderResponse описывает отклик исполнителя на заказ.
// На пару (заказ, исполнитель) существует не более одного неудалённого отклика.
type OrderResponse struct {
	ID         int64
	OrderID    int64
	ExecutorID int64
	Status     ResponseStatus
	ReviewID   *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Tariff описывает тарифный план подписки исполнителя.
// Nil-лимит означает отсутствие ограничения, нулевая длительность — бессрочность.
type Tariff struct {
	ID           int64
	Name         string
	Price        int64
	DurationDays int
	MaxOrders    *int
	MaxContacts  *int
	Active       bool
}

// Unlimited сообщает, является ли тариф бессрочным.
func (t *Tariff) Unlimited() bool { return t.DurationDays == 0 }

// TransactionType определяет тип операции по кошельку.
type TransactionType string

const (
	TransactionDeposit         TransactionType = "deposit"
	TransactionSubscription    TransactionType = "subscription_payment"
	TransactionAdminAdjustment TransactionType = "admin_adjustment"
	TransactionCharge          TransactionType = "charge"
	TransactionRefund          TransactionType = "refund"
)

// Debit сообщает, уменьшает ли операция баланс счёта.
func (t TransactionType) Debit() bool {
	return t == TransactionCharge || t == TransactionSubscription
}

// WalletTransaction описывает неизменяемую запись журнала кошелька.
// Запись фиксирует баланс до и после операции; цепочка записей одного счёта
// обязана быть монотонной: balance_before очередной записи равен
// balance_after предыдущей.
type WalletTransaction struct {
	ID            int64
	UserID        int64
	Type          TransactionType
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Currency      string
	ProviderRef   *string
	SourceID      *int64
	Reason        string
	ActorID       *int64
	CreatedAt     time.Time
}

// RewardType определяет способ расчёта партнёрского вознаграждения.
type RewardType string

const (
	RewardPercentage RewardType = "percentage"
	RewardFixed      RewardType = "fixed"
)

// RewardTier описывает ступень вознаграждения, открывающуюся при достижении
// накопленного объёма одобренных выплат.
type RewardTier struct {
	MinVolume int64 `json:"min_volume"`
	Value     int64 `json:"value"`
}

// Partner описывает партнёра программы вознаграждений.
type Partner struct {
	ID           int64
	UserID       int64
	PayoutUserID int64
	RewardType   RewardType
	RewardValue  int64
	Tiers        []RewardTier
	CreatedAt    time.Time
}

// RewardStatus определяет статус партнёрского вознаграждения.
type RewardStatus string

const (
	RewardPending  RewardStatus = "pending"
	RewardApproved RewardStatus = "approved"
	RewardPaid     RewardStatus = "paid"
)

// PartnerReward описывает начисленное партнёру вознаграждение.
// Пара (партнёр, исходное событие) уникальна: повторная доставка события
// завершения не создаёт второй записи.
type PartnerReward struct {
	ID            int64
	PartnerID     int64
	SourceEventID string
	OrderID       *int64
	Amount        int64
	Status        RewardStatus
	CreatedAt     time.Time
}

// Balance содержит баланс кошелька пользователя в минимальных единицах валюты.
type Balance struct {
	Current  int64  `json:"current"`
	Currency string `json:"currency"`
}
