package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RequisiteUsage is the per-requisite aggregate the allocator checks limits
// against. Canceled and expired transactions do not count toward the sums,
// but LastAllocatedAt covers every allocation so the cool-down interval
// cannot be bypassed by canceling.
type RequisiteUsage struct {
	RequisiteID     string
	DayTotal        decimal.Decimal
	MonthTotal      decimal.Decimal
	InFlightCount   int64
	LastAllocatedAt *time.Time
}

// CollateralAdjustment is a single balance mutation applied to a trader. All
// deltas apply atomically in one statement so the frozen <= trust invariant
// can never be observed broken.
type CollateralAdjustment struct {
	// Change to the frozen amount (positive freezes, negative releases)
	FreezeDelta decimal.Decimal
	// Change to the trust balance (negative on consumption)
	TrustDelta decimal.Decimal
	// Change to accumulated profit
	ProfitDelta decimal.Decimal
}

// RequisiteRepository manages payment requisites.
type RequisiteRepository interface {
	Create(ctx context.Context, requisite *Requisite) error
	GetByID(ctx context.Context, requisiteID string) (*Requisite, error)
	Update(ctx context.Context, requisite *Requisite) error
	// ListEligible returns non-archived requisites of the given method type
	// belonging to active traders, least recently used first.
	ListEligible(ctx context.Context, methodType MethodType) ([]*Requisite, error)
	// Touch records an allocation against the requisite for LRU ordering.
	Touch(ctx context.Context, requisiteID string, at time.Time) error
}

// TraderRepository manages traders and their collateral.
type TraderRepository interface {
	Create(ctx context.Context, trader *Trader) error
	GetByID(ctx context.Context, traderID string) (*Trader, error)
	GetByIDs(ctx context.Context, traderIDs []string) (map[string]*Trader, error)
	// AdjustCollateral applies the adjustment only if the resulting balances
	// satisfy 0 <= frozen <= trust, returning ErrInsufficientCollateral when
	// the condition fails. This is the single entry point for balance
	// mutations; callers never read-modify-write trader balances.
	AdjustCollateral(ctx context.Context, traderID string, adj CollateralAdjustment) error
}

// TransactionRepository manages payment transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByID(ctx context.Context, transactionID string) (*Transaction, error)
	// GetByMerchantOrder looks up the transaction for an idempotency check on
	// the (merchant, order) pair.
	GetByMerchantOrder(ctx context.Context, merchantID, orderID string) (*Transaction, error)
	Update(ctx context.Context, tx *Transaction) error
	// UsageByRequisites returns limit aggregates for the given requisites in
	// one query. dayStart and monthStart bound the day and month windows.
	UsageByRequisites(ctx context.Context, requisiteIDs []string, dayStart, monthStart time.Time) (map[string]*RequisiteUsage, error)
	// ListExpired returns unpaid transactions whose deadline has passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Transaction, error)
}

// FeeAgreementRepository manages merchant-trader fee agreements.
type FeeAgreementRepository interface {
	Create(ctx context.Context, agreement *FeeAgreement) error
	// GetByMerchantAndTraders returns the active agreements between the
	// merchant and each of the traders for the given payment method, keyed
	// by trader ID. Traders without an agreement are absent from the map.
	GetByMerchantAndTraders(ctx context.Context, merchantID string, traderIDs []string, methodType MethodType) (map[string]*FeeAgreement, error)
}

// DisputeRepository manages disputes.
type DisputeRepository interface {
	Create(ctx context.Context, dispute *Dispute) error
	GetByID(ctx context.Context, disputeID string) (*Dispute, error)
	GetOpenByTransactionID(ctx context.Context, transactionID string) (*Dispute, error)
	Update(ctx context.Context, dispute *Dispute) error
	// CountOpenByTraders returns the number of open disputes per trader in
	// one query. Traders with no open disputes are absent from the map.
	CountOpenByTraders(ctx context.Context, traderIDs []string) (map[string]int64, error)
}

// MerchantRepository manages merchants.
type MerchantRepository interface {
	Create(ctx context.Context, merchant *Merchant) error
	GetByID(ctx context.Context, merchantID string) (*Merchant, error)
	// CreditBalance atomically adds delta to the merchant balance.
	CreditBalance(ctx context.Context, merchantID string, delta decimal.Decimal) error
}

// TxManager runs a function inside a database transaction. The transaction
// handle travels in the context so repositories join it transparently.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
