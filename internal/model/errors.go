package model

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied возвращается, когда инициатор не вправе выполнять операцию.
var ErrPermissionDenied = errors.New("permission denied")

// ValidationError описывает ошибку валидации входных данных.
type ValidationError struct {
	Field   string
	Message string
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s - %s", e.Field, e.Message)
}

// NewValidationError создаёт ошибку валидации для указанного поля.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InvalidTransitionError описывает недопустимый переход машины состояний.
// Текущий и целевой статусы включаются в сообщение, чтобы вызывающий слой
// мог объяснить пользователю причину отказа.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

// Error реализует интерфейс error.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: transition %s -> %s is not allowed", e.Entity, e.From, e.To)
}

// QuotaExceededError сигнализирует об исчерпании лимита тарифа.
type QuotaExceededError struct {
	Resource string
	Limit    int
	Used     int
}

// Error реализует интерфейс error.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("tariff quota exceeded: %s limit %d, used %d", e.Resource, e.Limit, e.Used)
}

// InsufficientFundsError сигнализирует о нехватке средств на кошельке.
type InsufficientFundsError struct {
	Balance  int64
	Required int64
}

// Error реализует интерфейс error.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d, required %d", e.Balance, e.Required)
}

// DuplicateResponseError возвращается при повторном отклике исполнителя на заказ.
type DuplicateResponseError struct {
	OrderID    int64
	ExecutorID int64
}

// Error реализует интерфейс error.
func (e *DuplicateResponseError) Error() string {
	return fmt.Sprintf("executor %d already responded to order %d", e.ExecutorID, e.OrderID)
}

// ConcurrentModificationError сигнализирует о гонке записи: цепочка журнала
// кошелька разорвана или строка изменена конкурентной транзакцией. Операция
// откатывается целиком и может быть безопасно повторена вызывающим слоем.
type ConcurrentModificationError struct {
	Entity string
	ID     int64
}

// Error реализует интерфейс error.
func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification of %s %d", e.Entity, e.ID)
}

// ExtendNotApplicableError возвращается при попытке продлить бесплатный
// или бессрочный тариф.
type ExtendNotApplicableError struct {
	TariffName string
}

// Error реализует интерфейс error.
func (e *ExtendNotApplicableError) Error() string {
	return fmt.Sprintf("tariff %q cannot be extended", e.TariffName)
}
