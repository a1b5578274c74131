package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/repository"
)

// WalletService реализует журнал кошелька. Баланс счёта меняется только
// добавлением записи журнала: каждая запись фиксирует баланс до и после,
// цепочка записей восстанавливает текущий баланс полностью.
type WalletService struct {
	storage Storage
}

// Deposit зачисляет средства на счёт. Операция идемпотентна по providerRef:
// повторный вызов с тем же внешним идентификатором возвращает ранее
// созданную запись без побочных эффектов, что делает повторную доставку
// вебхуков безопасной.
func (s *WalletService) Deposit(ctx context.Context, userID, amount int64, currency, providerRef, reason string) (*model.WalletTransaction, error) {
	if amount <= 0 {
		return nil, model.NewValidationError("amount", "must be positive")
	}

	var result *model.WalletTransaction
	err := withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			var err error
			result, err = depositTx(ctx, st, userID, amount, currency, providerRef, reason, nil)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// depositTx выполняет зачисление внутри уже открытой транзакции.
// Используется также адаптером платёжных вебхуков и выплатой вознаграждений,
// чтобы зачисление разделяло транзакцию с сопутствующими изменениями.
// Счёт одновалютный: зачисление в чужой валюте отклоняется.
func depositTx(ctx context.Context, st repository.Store, userID, amount int64, currency, providerRef, reason string, actorID *int64) (*model.WalletTransaction, error) {
	if providerRef != "" {
		existing, err := st.GetWalletTransactionByProviderRef(ctx, providerRef)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, err
		}
	}

	u, err := st.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if currency == "" {
		currency = u.Currency
	} else if currency != u.Currency {
		return nil, model.NewValidationError("currency", "does not match account currency")
	}

	txn := &model.WalletTransaction{
		UserID:        userID,
		Type:          model.TransactionDeposit,
		Amount:        amount,
		BalanceBefore: u.Balance,
		BalanceAfter:  u.Balance + amount,
		Currency:      currency,
		Reason:        reason,
		ActorID:       actorID,
	}
	if providerRef != "" {
		txn.ProviderRef = &providerRef
	}

	id, err := st.AppendWalletTransaction(ctx, txn)
	if err != nil {
		// Гонка двух доставок одного платежа: запись уже создана конкурентом.
		if errors.Is(err, repository.ErrProviderRefExists) && providerRef != "" {
			return st.GetWalletTransactionByProviderRef(ctx, providerRef)
		}
		return nil, err
	}
	txn.ID = id
	return txn, nil
}

// Charge списывает средства со счёта. При нехватке средств возвращается
// InsufficientFundsError с текущим балансом и требуемой суммой.
func (s *WalletService) Charge(ctx context.Context, userID, amount int64, reason string) (*model.WalletTransaction, error) {
	if amount <= 0 {
		return nil, model.NewValidationError("amount", "must be positive")
	}

	var result *model.WalletTransaction
	err := withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			u, err := st.GetUserForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			if u.Balance < amount {
				return &model.InsufficientFundsError{Balance: u.Balance, Required: amount}
			}

			txn := &model.WalletTransaction{
				UserID:        userID,
				Type:          model.TransactionCharge,
				Amount:        amount,
				BalanceBefore: u.Balance,
				BalanceAfter:  u.Balance - amount,
				Currency:      u.Currency,
				Reason:        reason,
			}
			id, err := st.AppendWalletTransaction(ctx, txn)
			if err != nil {
				return err
			}
			txn.ID = id
			result = txn
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdminAdjust выполняет знаковую административную корректировку баланса.
// Корректировка разрешена всегда и фиксируется с идентификатором
// администратора для аудита.
func (s *WalletService) AdminAdjust(ctx context.Context, actor model.Actor, userID, delta int64, reason string) (*model.WalletTransaction, error) {
	if !actor.IsAdmin() {
		return nil, model.ErrPermissionDenied
	}
	if delta == 0 {
		return nil, model.NewValidationError("delta", "must not be zero")
	}
	if reason == "" {
		return nil, model.NewValidationError("reason", "must not be empty")
	}

	amount := delta
	if amount < 0 {
		amount = -amount
	}

	var result *model.WalletTransaction
	err := withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			u, err := st.GetUserForUpdate(ctx, userID)
			if err != nil {
				return err
			}

			txn := &model.WalletTransaction{
				UserID:        userID,
				Type:          model.TransactionAdminAdjustment,
				Amount:        amount,
				BalanceBefore: u.Balance,
				BalanceAfter:  u.Balance + delta,
				Currency:      u.Currency,
				Reason:        reason,
				ActorID:       &actor.ID,
			}
			id, err := st.AppendWalletTransaction(ctx, txn)
			if err != nil {
				return err
			}
			txn.ID = id
			result = txn
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refund возвращает средства по ранее выполненному списанию. Сумма возврата
// вместе с прежними возвратами той же исходной транзакции не может превышать
// списанную сумму.
func (s *WalletService) Refund(ctx context.Context, userID, amount, sourceTxnID int64) (*model.WalletTransaction, error) {
	if amount <= 0 {
		return nil, model.NewValidationError("amount", "must be positive")
	}

	var result *model.WalletTransaction
	err := withConflictRetry(ctx, func() error {
		return s.storage.InTransaction(ctx, func(st repository.Store) error {
			source, err := st.GetWalletTransaction(ctx, sourceTxnID)
			if err != nil {
				return err
			}
			if source.UserID != userID {
				return model.NewValidationError("source", "transaction belongs to another account")
			}
			if !source.Type.Debit() {
				return model.NewValidationError("source", "only charges can be refunded")
			}

			u, err := st.GetUserForUpdate(ctx, userID)
			if err != nil {
				return err
			}

			refunded, err := st.SumRefundsBySource(ctx, sourceTxnID)
			if err != nil {
				return err
			}
			if refunded+amount > source.Amount {
				return model.NewValidationError("amount",
					fmt.Sprintf("refund exceeds charged amount: charged %d, already refunded %d", source.Amount, refunded))
			}

			txn := &model.WalletTransaction{
				UserID:        userID,
				Type:          model.TransactionRefund,
				Amount:        amount,
				BalanceBefore: u.Balance,
				BalanceAfter:  u.Balance + amount,
				Currency:      u.Currency,
				SourceID:      &sourceTxnID,
				Reason:        fmt.Sprintf("refund of transaction %d", sourceTxnID),
			}
			id, err := st.AppendWalletTransaction(ctx, txn)
			if err != nil {
				return err
			}
			txn.ID = id
			result = txn
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetBalance возвращает текущий баланс кошелька пользователя.
func (s *WalletService) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	u, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{Current: u.Balance, Currency: u.Currency}, nil
}

// ListTransactions возвращает историю операций кошелька пользователя.
func (s *WalletService) ListTransactions(ctx context.Context, userID int64) ([]model.WalletTransaction, error) {
	return s.storage.ListWalletTransactions(ctx, userID)
}

// VerifyChain проигрывает журнал счёта в порядке создания записей и сверяет
// цепочку с текущим балансом. Разрыв цепочки означает потерянное обновление.
func (s *WalletService) VerifyChain(ctx context.Context, userID int64) error {
	u, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	txns, err := s.storage.ListWalletTransactions(ctx, userID)
	if err != nil {
		return err
	}

	var balance int64
	for _, t := range txns {
		if t.BalanceBefore != balance {
			return &model.ConcurrentModificationError{Entity: "wallet_account", ID: userID}
		}
		if t.BalanceAfter != expectedAfter(t) {
			return fmt.Errorf("transaction %d: balance delta does not match amount", t.ID)
		}
		balance = t.BalanceAfter
	}

	if balance != u.Balance {
		return fmt.Errorf("ledger replay mismatch: replayed %d, account %d", balance, u.Balance)
	}
	return nil
}

func expectedAfter(t model.WalletTransaction) int64 {
	switch {
	case t.Type == model.TransactionAdminAdjustment:
		// корректировка знаковая, знак восстанавливается из дельты балансов
		if t.BalanceAfter >= t.BalanceBefore {
			return t.BalanceBefore + t.Amount
		}
		return t.BalanceBefore - t.Amount
	case t.Type.Debit():
		return t.BalanceBefore - t.Amount
	default:
		return t.BalanceBefore + t.Amount
	}
}
