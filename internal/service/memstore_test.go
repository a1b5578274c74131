package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/repository"
)

// memStore хранит данные в памяти и воспроизводит контрактное поведение
// репозитория: сторожевую проверку баланса, идемпотентные вставки и
// сигнальные ошибки. Транзакции сериализуются отдельным мьютексом.
type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	users     map[int64]*model.User
	orders    map[int64]*model.Order
	responses map[int64]*model.OrderResponse
	txns      map[int64]*model.WalletTransaction
	tariffs   map[int64]*model.Tariff
	partners  map[int64]*model.Partner
	rewards   map[int64]*model.PartnerReward
	webhooks  map[string]struct{}

	nextID int64
}

func newMemStore() *memStore {
	s := &memStore{
		users:     make(map[int64]*model.User),
		orders:    make(map[int64]*model.Order),
		responses: make(map[int64]*model.OrderResponse),
		txns:      make(map[int64]*model.WalletTransaction),
		tariffs:   make(map[int64]*model.Tariff),
		partners:  make(map[int64]*model.Partner),
		rewards:   make(map[int64]*model.PartnerReward),
		webhooks:  make(map[string]struct{}),
	}
	// Базовый бесплатный тариф, как в сидах миграций.
	one := 1
	three := 3
	s.tariffs[FreeTariffID] = &model.Tariff{
		ID: FreeTariffID, Name: "free", Price: 0, DurationDays: 0,
		MaxOrders: &one, MaxContacts: &three, Active: true,
	}
	s.nextID = 100
	return s
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) InTransaction(_ context.Context, fn func(st repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

func (s *memStore) Close() error { return nil }

func (s *memStore) CreateUser(_ context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Login == login {
			return 0, repository.ErrUserExists
		}
	}
	id := s.id()
	s.users[id] = &model.User{
		ID: id, Login: login, PasswordHash: passwordHash, Role: role,
		Currency: "RUB", TariffID: FreeTariffID,
		SubscriptionStartedAt: time.Now(), CreatedAt: time.Now(),
	}
	return id, nil
}

func (s *memStore) GetUser(_ context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Login == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (s *memStore) GetUserForUpdate(ctx context.Context, id int64) (*model.User, error) {
	return s.GetUser(ctx, id)
}

func (s *memStore) UpdateSubscription(_ context.Context, userID, tariffID int64, startedAt time.Time, endsAt *time.Time, resetCounters bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.TariffID = tariffID
	u.SubscriptionStartedAt = startedAt
	u.SubscriptionEndsAt = endsAt
	if resetCounters {
		u.PeriodOrdersOpened = 0
		u.PeriodContactsOpened = 0
	}
	return nil
}

func (s *memStore) IncrementOrdersOpened(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PeriodOrdersOpened++
	return nil
}

func (s *memStore) IncrementContactsOpened(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PeriodContactsOpened++
	return nil
}

func (s *memStore) ListExpiringSubscriptions(_ context.Context, before time.Time) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var res []model.User
	for _, u := range s.users {
		if u.SubscriptionEndsAt != nil && u.SubscriptionEndsAt.After(now) && u.SubscriptionEndsAt.Before(before) {
			res = append(res, *u)
		}
	}
	return res, nil
}

func (s *memStore) CreateOrder(_ context.Context, o *model.Order) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	cp := *o
	cp.ID = id
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.orders[id] = &cp
	return id, nil
}

func (s *memStore) GetOrder(_ context.Context, id int64) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) GetOrderForUpdate(ctx context.Context, id int64) (*model.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *memStore) UpdateOrder(_ context.Context, id int64, status model.OrderStatus, executorID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.Status = status
	o.ExecutorID = executorID
	o.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) SetOrderMediator(_ context.Context, orderID, mediatorID int64, status model.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.MediatorID = &mediatorID
	o.Status = status
	o.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) ListOrdersByAuthor(_ context.Context, authorID int64) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Order
	for _, o := range s.orders {
		if o.AuthorID == authorID {
			res = append(res, *o)
		}
	}
	return res, nil
}

func (s *memStore) ListOrdersByExecutor(_ context.Context, executorID int64) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Order
	for _, o := range s.orders {
		if o.ExecutorID != nil && *o.ExecutorID == executorID {
			res = append(res, *o)
		}
	}
	return res, nil
}

func (s *memStore) CountActiveOrdersByExecutor(_ context.Context, executorID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if o.ExecutorID == nil || *o.ExecutorID != executorID {
			continue
		}
		switch o.Status {
		case model.OrderExecutorSelected, model.OrderInWork, model.OrderAwaitingConfirmation:
			n++
		}
	}
	return n, nil
}

func (s *memStore) CreateResponse(_ context.Context, resp *model.OrderResponse) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	cp := *resp
	cp.ID = id
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.responses[id] = &cp
	return id, nil
}

func (s *memStore) GetResponse(_ context.Context, id int64) (*model.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[id]
	if !ok {
		return nil, repository.ErrResponseNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) GetResponseForUpdate(ctx context.Context, id int64) (*model.OrderResponse, error) {
	return s.GetResponse(ctx, id)
}

func (s *memStore) GetOpenResponseByOrderExecutor(_ context.Context, orderID, executorID int64) (*model.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.OrderID == orderID && r.ExecutorID == executorID && r.Status != model.ResponseDeleted {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrResponseNotFound
}

func (s *memStore) ListResponsesByOrder(_ context.Context, orderID int64) ([]model.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.OrderResponse
	for _, r := range s.responses {
		if r.OrderID == orderID {
			res = append(res, *r)
		}
	}
	return res, nil
}

func (s *memStore) UpdateResponseStatus(_ context.Context, id int64, status model.ResponseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[id]
	if !ok {
		return repository.ErrResponseNotFound
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) RejectOpenResponses(_ context.Context, orderID, exceptID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.responses {
		if r.OrderID == orderID && r.ID != exceptID && r.Status.Open() {
			r.Status = model.ResponseRejected
			r.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *memStore) AppendWalletTransaction(_ context.Context, t *model.WalletTransaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ProviderRef != nil {
		for _, prev := range s.txns {
			if prev.ProviderRef != nil && *prev.ProviderRef == *t.ProviderRef {
				return 0, repository.ErrProviderRefExists
			}
		}
	}

	u, ok := s.users[t.UserID]
	if !ok || u.Balance != t.BalanceBefore {
		return 0, &model.ConcurrentModificationError{Entity: "wallet_account", ID: t.UserID}
	}
	u.Balance = t.BalanceAfter

	id := s.id()
	cp := *t
	cp.ID = id
	cp.CreatedAt = time.Now()
	s.txns[id] = &cp
	return id, nil
}

func (s *memStore) GetWalletTransaction(_ context.Context, id int64) (*model.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) GetWalletTransactionByProviderRef(_ context.Context, ref string) (*model.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txns {
		if t.ProviderRef != nil && *t.ProviderRef == ref {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrTransactionNotFound
}

func (s *memStore) ListWalletTransactions(_ context.Context, userID int64) ([]model.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.WalletTransaction
	for _, t := range s.txns {
		if t.UserID == userID {
			res = append(res, *t)
		}
	}
	// Порядок журнала: по идентификатору, как по created_at в БД.
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *memStore) SumRefundsBySource(_ context.Context, sourceID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, t := range s.txns {
		if t.SourceID != nil && *t.SourceID == sourceID && t.Type == model.TransactionRefund {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (s *memStore) GetTariff(_ context.Context, id int64) (*model.Tariff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tariffs[id]
	if !ok {
		return nil, repository.ErrTariffNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) ListTariffs(_ context.Context, activeOnly bool) ([]model.Tariff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Tariff
	for _, t := range s.tariffs {
		if activeOnly && !t.Active {
			continue
		}
		res = append(res, *t)
	}
	return res, nil
}

func (s *memStore) CreateTariff(_ context.Context, t *model.Tariff) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	cp := *t
	cp.ID = id
	s.tariffs[id] = &cp
	return id, nil
}

func (s *memStore) UpdateTariff(_ context.Context, t *model.Tariff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tariffs[t.ID]; !ok {
		return repository.ErrTariffNotFound
	}
	cp := *t
	s.tariffs[t.ID] = &cp
	return nil
}

func (s *memStore) GetPartner(_ context.Context, id int64) (*model.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[id]
	if !ok {
		return nil, repository.ErrPartnerNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) GetPartnerByUser(_ context.Context, userID int64) (*model.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.partners {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrPartnerNotFound
}

func (s *memStore) CreatePartner(_ context.Context, p *model.Partner) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	cp := *p
	cp.ID = id
	cp.CreatedAt = time.Now()
	s.partners[id] = &cp
	return id, nil
}

func (s *memStore) CreatePartnerReward(_ context.Context, r *model.PartnerReward) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, prev := range s.rewards {
		if prev.PartnerID == r.PartnerID && prev.SourceEventID == r.SourceEventID {
			return 0, false, nil
		}
	}
	id := s.id()
	cp := *r
	cp.ID = id
	cp.CreatedAt = time.Now()
	s.rewards[id] = &cp
	return id, true, nil
}

func (s *memStore) GetPartnerRewardForUpdate(_ context.Context, id int64) (*model.PartnerReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rewards[id]
	if !ok {
		return nil, repository.ErrRewardNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) UpdatePartnerRewardStatus(_ context.Context, id int64, status model.RewardStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rewards[id]
	if !ok {
		return repository.ErrRewardNotFound
	}
	r.Status = status
	return nil
}

func (s *memStore) ListRewardsByPartner(_ context.Context, partnerID int64) ([]model.PartnerReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.PartnerReward
	for _, r := range s.rewards {
		if r.PartnerID == partnerID {
			res = append(res, *r)
		}
	}
	return res, nil
}

func (s *memStore) SumApprovedRewards(_ context.Context, partnerID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, r := range s.rewards {
		if r.PartnerID == partnerID && (r.Status == model.RewardApproved || r.Status == model.RewardPaid) {
			sum += r.Amount
		}
	}
	return sum, nil
}

func (s *memStore) MarkWebhookProcessed(_ context.Context, providerEventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.webhooks[providerEventID]; ok {
		return false, nil
	}
	s.webhooks[providerEventID] = struct{}{}
	return true, nil
}
