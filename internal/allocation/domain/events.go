package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionCreatedEvent fires when a requisite is allocated and collateral
// is frozen.
type TransactionCreatedEvent struct {
	TransactionID string
	MerchantID    string
	OrderID       string
	TraderID      string
	RequisiteID   string
	Amount        decimal.Decimal
	Currency      string
	AdjustedRate  decimal.Decimal
	FrozenAmount  decimal.Decimal
	Commission    decimal.Decimal
	ExpiresAt     time.Time
	OccurredOn    time.Time
}

// TransactionReadyEvent fires when payment receipt is confirmed and the
// trader's collateral is consumed.
type TransactionReadyEvent struct {
	TransactionID string
	MerchantID    string
	TraderID      string
	Amount        decimal.Decimal
	FrozenAmount  decimal.Decimal
	Commission    decimal.Decimal
	MerchantFee   decimal.Decimal
	OccurredOn    time.Time
}

// TransactionCanceledEvent fires when a transaction is aborted and its
// collateral effects are unwound.
type TransactionCanceledEvent struct {
	TransactionID string
	MerchantID    string
	TraderID      string
	Reason        string
	WasSettled    bool
	OccurredOn    time.Time
}

// TransactionExpiredEvent fires when the watcher times out an unpaid
// transaction.
type TransactionExpiredEvent struct {
	TransactionID string
	MerchantID    string
	TraderID      string
	FrozenAmount  decimal.Decimal
	Commission    decimal.Decimal
	OccurredOn    time.Time
}

// TransactionCompletedEvent fires when a settled transaction is finalized.
type TransactionCompletedEvent struct {
	TransactionID string
	MerchantID    string
	TraderID      string
	OccurredOn    time.Time
}

// DisputeOpenedEvent fires when a transaction is contested.
type DisputeOpenedEvent struct {
	DisputeID     string
	TransactionID string
	TraderID      string
	MerchantID    string
	Reason        string
	OccurredOn    time.Time
}

// DisputeResolvedEvent fires when a dispute is decided.
type DisputeResolvedEvent struct {
	DisputeID     string
	TransactionID string
	TraderID      string
	Outcome       DisputeStatus
	OccurredOn    time.Time
}

// CollateralChangedEvent fires whenever a trader's trust or frozen balance
// moves, carrying the applied deltas for downstream accounting.
type CollateralChangedEvent struct {
	TraderID    string
	FreezeDelta decimal.Decimal
	TrustDelta  decimal.Decimal
	ProfitDelta decimal.Decimal
	Cause       string
	OccurredOn  time.Time
}

// EventPublisher publishes domain events. Implementations are expected to
// stage events transactionally with the state change that produced them.
type EventPublisher interface {
	PublishTransactionCreated(ctx context.Context, event TransactionCreatedEvent) error
	PublishTransactionReady(ctx context.Context, event TransactionReadyEvent) error
	PublishTransactionCanceled(ctx context.Context, event TransactionCanceledEvent) error
	PublishTransactionExpired(ctx context.Context, event TransactionExpiredEvent) error
	PublishTransactionCompleted(ctx context.Context, event TransactionCompletedEvent) error
	PublishDisputeOpened(ctx context.Context, event DisputeOpenedEvent) error
	PublishDisputeResolved(ctx context.Context, event DisputeResolvedEvent) error
	PublishCollateralChanged(ctx context.Context, event CollateralChangedEvent) error
}
