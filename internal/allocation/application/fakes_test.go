package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
)

// fakeStore is an in-memory backend implementing every repository port plus
// the transaction manager and event publisher. A single mutex serializes
// AdjustCollateral the way the conditional UPDATE does in MySQL.
type fakeStore struct {
	mu         sync.Mutex
	requisites map[string]*domain.Requisite
	traders    map[string]*domain.Trader
	txs        map[string]*domain.Transaction
	agreements []*domain.FeeAgreement
	disputes   map[string]*domain.Dispute
	merchants  map[string]*domain.Merchant
	lastTouch  map[string]time.Time
	events     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requisites: make(map[string]*domain.Requisite),
		traders:    make(map[string]*domain.Trader),
		txs:        make(map[string]*domain.Transaction),
		disputes:   make(map[string]*domain.Dispute),
		merchants:  make(map[string]*domain.Merchant),
		lastTouch:  make(map[string]time.Time),
	}
}

// --- RequisiteRepository ---

func (f *fakeStore) Create(ctx context.Context, r *domain.Requisite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requisites[r.RequisiteID] = r
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, requisiteID string) (*domain.Requisite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requisites[requisiteID]
	if !ok {
		return nil, domain.ErrRequisiteNotFound
	}
	return r, nil
}

func (f *fakeStore) Update(ctx context.Context, r *domain.Requisite) error {
	return f.Create(ctx, r)
}

func (f *fakeStore) ListEligible(ctx context.Context, methodType domain.MethodType) ([]*domain.Requisite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Requisite
	for _, r := range f.requisites {
		if !r.Archived && r.MethodType == methodType {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, iOK := f.lastTouch[out[i].RequisiteID]
		tj, jOK := f.lastTouch[out[j].RequisiteID]
		if iOK != jOK {
			return !iOK
		}
		if !iOK {
			return out[i].RequisiteID < out[j].RequisiteID
		}
		return ti.Before(tj)
	})
	return out, nil
}

func (f *fakeStore) Touch(ctx context.Context, requisiteID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTouch[requisiteID] = at
	return nil
}

// --- TraderRepository ---

type fakeTraderRepo struct{ *fakeStore }

func (f fakeTraderRepo) Create(ctx context.Context, t *domain.Trader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traders[t.TraderID] = t
	return nil
}

func (f fakeTraderRepo) GetByID(ctx context.Context, traderID string) (*domain.Trader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.traders[traderID]
	if !ok {
		return nil, domain.ErrTraderNotFound
	}
	copied := *t
	return &copied, nil
}

func (f fakeTraderRepo) GetByIDs(ctx context.Context, traderIDs []string) (map[string]*domain.Trader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*domain.Trader, len(traderIDs))
	for _, id := range traderIDs {
		if t, ok := f.traders[id]; ok {
			copied := *t
			out[id] = &copied
		}
	}
	return out, nil
}

func (f fakeTraderRepo) AdjustCollateral(ctx context.Context, traderID string, adj domain.CollateralAdjustment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.traders[traderID]
	if !ok {
		return domain.ErrTraderNotFound
	}
	newFrozen := t.FrozenAmount.Add(adj.FreezeDelta)
	newTrust := t.TrustBalance.Add(adj.TrustDelta)
	if newFrozen.IsNegative() || newFrozen.GreaterThan(newTrust) {
		return domain.ErrInsufficientCollateral
	}
	t.FrozenAmount = newFrozen
	t.TrustBalance = newTrust
	t.ProfitFromDeals = t.ProfitFromDeals.Add(adj.ProfitDelta)
	return nil
}

// --- TransactionRepository ---

type fakeTxRepo struct{ *fakeStore }

func (f fakeTxRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.txs {
		if existing.MerchantID == tx.MerchantID && existing.OrderID == tx.OrderID {
			return domain.ErrDuplicateOrder
		}
	}
	tx.CreatedAt = time.Now()
	f.txs[tx.TransactionID] = tx
	return nil
}

func (f fakeTxRepo) GetByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[transactionID]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (f fakeTxRepo) GetByMerchantOrder(ctx context.Context, merchantID, orderID string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.MerchantID == merchantID && tx.OrderID == orderID {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (f fakeTxRepo) Update(ctx context.Context, tx *domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *tx
	f.txs[tx.TransactionID] = &copied
	return nil
}

func (f fakeTxRepo) UsageByRequisites(ctx context.Context, requisiteIDs []string, dayStart, monthStart time.Time) (map[string]*domain.RequisiteUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byID := make(map[string]bool, len(requisiteIDs))
	for _, id := range requisiteIDs {
		byID[id] = true
	}
	out := make(map[string]*domain.RequisiteUsage)
	for _, tx := range f.txs {
		if !byID[tx.RequisiteID] {
			continue
		}
		u, ok := out[tx.RequisiteID]
		if !ok {
			u = &domain.RequisiteUsage{RequisiteID: tx.RequisiteID}
			out[tx.RequisiteID] = u
		}
		// The cool-down timestamp counts every allocation; turnover sums
		// exclude canceled and expired transactions.
		if u.LastAllocatedAt == nil || tx.CreatedAt.After(*u.LastAllocatedAt) {
			at := tx.CreatedAt
			u.LastAllocatedAt = &at
		}
		if tx.Status == domain.StatusCanceled || tx.Status == domain.StatusExpired {
			continue
		}
		if !tx.CreatedAt.Before(monthStart) {
			u.MonthTotal = u.MonthTotal.Add(tx.Amount)
		}
		if !tx.CreatedAt.Before(dayStart) {
			u.DayTotal = u.DayTotal.Add(tx.Amount)
			u.InFlightCount++
		}
	}
	return out, nil
}

func (f fakeTxRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Transaction
	for _, tx := range f.txs {
		if tx.IsExpired(now) {
			copied := *tx
			out = append(out, &copied)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// --- FeeAgreementRepository ---

type fakeAgreementRepo struct{ *fakeStore }

func (f fakeAgreementRepo) Create(ctx context.Context, a *domain.FeeAgreement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agreements = append(f.agreements, a)
	return nil
}

func (f fakeAgreementRepo) GetByMerchantAndTraders(ctx context.Context, merchantID string, traderIDs []string, methodType domain.MethodType) (map[string]*domain.FeeAgreement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byID := make(map[string]bool, len(traderIDs))
	for _, id := range traderIDs {
		byID[id] = true
	}
	out := make(map[string]*domain.FeeAgreement)
	for _, a := range f.agreements {
		if a.MerchantID == merchantID && byID[a.TraderID] && a.MethodType == methodType && !a.Disabled {
			out[a.TraderID] = a
		}
	}
	return out, nil
}

// --- DisputeRepository ---

type fakeDisputeRepo struct{ *fakeStore }

func (f fakeDisputeRepo) Create(ctx context.Context, d *domain.Dispute) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disputes[d.DisputeID] = d
	return nil
}

func (f fakeDisputeRepo) GetByID(ctx context.Context, disputeID string) (*domain.Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.disputes[disputeID]
	if !ok {
		return nil, domain.ErrDisputeNotFound
	}
	copied := *d
	return &copied, nil
}

func (f fakeDisputeRepo) GetOpenByTransactionID(ctx context.Context, transactionID string) (*domain.Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.disputes {
		if d.TransactionID == transactionID && d.IsOpen() {
			copied := *d
			return &copied, nil
		}
	}
	return nil, domain.ErrDisputeNotFound
}

func (f fakeDisputeRepo) Update(ctx context.Context, d *domain.Dispute) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *d
	f.disputes[d.DisputeID] = &copied
	return nil
}

func (f fakeDisputeRepo) CountOpenByTraders(ctx context.Context, traderIDs []string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byID := make(map[string]bool, len(traderIDs))
	for _, id := range traderIDs {
		byID[id] = true
	}
	out := make(map[string]int64)
	for _, d := range f.disputes {
		if d.IsOpen() && byID[d.TraderID] {
			out[d.TraderID]++
		}
	}
	return out, nil
}

// --- MerchantRepository ---

type fakeMerchantRepo struct{ *fakeStore }

func (f fakeMerchantRepo) Create(ctx context.Context, m *domain.Merchant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merchants[m.MerchantID] = m
	return nil
}

func (f fakeMerchantRepo) GetByID(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.merchants[merchantID]
	if !ok {
		return nil, domain.ErrMerchantNotFound
	}
	copied := *m
	return &copied, nil
}

func (f fakeMerchantRepo) CreditBalance(ctx context.Context, merchantID string, delta decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.merchants[merchantID]
	if !ok {
		return domain.ErrMerchantNotFound
	}
	m.Balance = m.Balance.Add(delta)
	return nil
}

// --- TxManager and EventPublisher ---

type fakeTxManager struct{}

func (fakeTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) record(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, name)
	return nil
}

func (p *fakePublisher) PublishTransactionCreated(ctx context.Context, e domain.TransactionCreatedEvent) error {
	return p.record("TransactionCreated")
}

func (p *fakePublisher) PublishTransactionReady(ctx context.Context, e domain.TransactionReadyEvent) error {
	return p.record("TransactionReady")
}

func (p *fakePublisher) PublishTransactionCanceled(ctx context.Context, e domain.TransactionCanceledEvent) error {
	return p.record("TransactionCanceled")
}

func (p *fakePublisher) PublishTransactionExpired(ctx context.Context, e domain.TransactionExpiredEvent) error {
	return p.record("TransactionExpired")
}

func (p *fakePublisher) PublishTransactionCompleted(ctx context.Context, e domain.TransactionCompletedEvent) error {
	return p.record("TransactionCompleted")
}

func (p *fakePublisher) PublishDisputeOpened(ctx context.Context, e domain.DisputeOpenedEvent) error {
	return p.record("DisputeOpened")
}

func (p *fakePublisher) PublishDisputeResolved(ctx context.Context, e domain.DisputeResolvedEvent) error {
	return p.record("DisputeResolved")
}

func (p *fakePublisher) PublishCollateralChanged(ctx context.Context, e domain.CollateralChangedEvent) error {
	return p.record("CollateralChanged")
}

func (p *fakePublisher) has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e == name {
			return true
		}
	}
	return false
}

type fakeRates struct {
	rate decimal.Decimal
	err  error
}

func (f fakeRates) GetRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.rate, nil
}
