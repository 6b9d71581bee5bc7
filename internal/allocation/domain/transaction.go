package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionStatus is the lifecycle state of a payment transaction.
type TransactionStatus string

const (
	StatusCreated    TransactionStatus = "CREATED"
	StatusInProgress TransactionStatus = "IN_PROGRESS"
	StatusReady      TransactionStatus = "READY"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusCanceled   TransactionStatus = "CANCELED"
	StatusExpired    TransactionStatus = "EXPIRED"
	StatusDispute    TransactionStatus = "DISPUTE"
)

// transitions lists the allowed status moves. Anything not listed here is
// rejected, including every move out of a terminal status.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusCreated:    {StatusInProgress},
	StatusInProgress: {StatusReady, StatusCanceled, StatusExpired, StatusDispute},
	StatusReady:      {StatusCompleted, StatusCanceled, StatusDispute},
	StatusDispute:    {StatusReady, StatusCanceled},
}

// IsFinal reports whether the status is terminal.
func (s TransactionStatus) IsFinal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether the move from s to target is allowed.
func (s TransactionStatus) CanTransitionTo(target TransactionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Transaction is a payment bound to a requisite with collateral reserved at
// allocation time. The freezing fields (AdjustedRate, FrozenAmount,
// Commission) are the permanent audit trail recorded at allocation and never
// recomputed afterwards.
type Transaction struct {
	gorm.Model
	// Transaction ID (business key)
	TransactionID string `gorm:"column:transaction_id;type:varchar(32);uniqueIndex;not null" json:"transaction_id"`
	// Merchant and the merchant-side order identifier; the pair is the
	// idempotency key of the allocation operation
	MerchantID string `gorm:"column:merchant_id;type:varchar(32);not null;uniqueIndex:idx_merchant_order,priority:1" json:"merchant_id"`
	OrderID    string `gorm:"column:order_id;type:varchar(64);not null;uniqueIndex:idx_merchant_order,priority:2" json:"order_id"`
	// Bound trader and requisite
	TraderID    string `gorm:"column:trader_id;type:varchar(32);index;not null" json:"trader_id"`
	RequisiteID string `gorm:"column:requisite_id;type:varchar(32);index;not null" json:"requisite_id"`
	// Payment method type
	MethodType MethodType `gorm:"column:method_type;type:varchar(10);not null" json:"method_type"`
	// Requested amount in payment currency
	Amount   decimal.Decimal `gorm:"column:amount;type:decimal(32,18);not null" json:"amount"`
	Currency string          `gorm:"column:currency;type:varchar(10);not null" json:"currency"`
	// Market rate at allocation time (payment units per collateral unit)
	MarketRate decimal.Decimal `gorm:"column:market_rate;type:decimal(32,18);not null" json:"market_rate"`
	// Rate after platform markup, rounded down to instrument precision
	AdjustedRate decimal.Decimal `gorm:"column:adjusted_rate;type:decimal(32,18);not null" json:"adjusted_rate"`
	// Collateral reserved against this transaction
	FrozenAmount decimal.Decimal `gorm:"column:frozen_amount;type:decimal(32,18);not null" json:"frozen_amount"`
	// Trader commission computed on the collateral amount
	Commission decimal.Decimal `gorm:"column:commission;type:decimal(32,18);not null" json:"commission"`
	// Fee percents captured at allocation time
	FeeTraderPercent   decimal.Decimal `gorm:"column:fee_trader_percent;type:decimal(10,4);not null;default:0" json:"fee_trader_percent"`
	FeeMerchantPercent decimal.Decimal `gorm:"column:fee_merchant_percent;type:decimal(10,4);not null;default:0" json:"fee_merchant_percent"`
	// Platform markup percent applied to the market rate
	MarkupPercent decimal.Decimal `gorm:"column:markup_percent;type:decimal(10,4);not null;default:0" json:"markup_percent"`
	// Lifecycle status
	Status TransactionStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	// Deadline after which the watcher expires an unpaid transaction
	ExpiresAt time.Time `gorm:"column:expires_at;index;not null" json:"expires_at"`
	// Set when collateral was consumed (IN_PROGRESS -> READY); drives the
	// balance effects of later cancellation
	SettledAt *time.Time `gorm:"column:settled_at" json:"settled_at"`
}

// TotalRequired is the collateral reserved for this transaction: the frozen
// principal plus the trader commission.
func (t *Transaction) TotalRequired() decimal.Decimal {
	return t.FrozenAmount.Add(t.Commission)
}

// Consumed reports whether the collateral of this transaction has already
// been burned from the trader's trust balance.
func (t *Transaction) Consumed() bool {
	return t.SettledAt != nil
}

// transitionTo moves the transaction to target, failing explicitly on moves
// from terminal states and on anything outside the state machine.
func (t *Transaction) transitionTo(target TransactionStatus) error {
	if t.Status.IsFinal() {
		return fmt.Errorf("%w: %s -> %s", ErrTransactionFinal, t.Status, target)
	}
	if !t.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, target)
	}
	t.Status = target
	return nil
}

// Activate opens the payment window once requisite details are issued:
// CREATED -> IN_PROGRESS.
func (t *Transaction) Activate() error {
	return t.transitionTo(StatusInProgress)
}

// MarkReady confirms the payment was received: IN_PROGRESS -> READY.
func (t *Transaction) MarkReady(now time.Time) error {
	if err := t.transitionTo(StatusReady); err != nil {
		return err
	}
	if t.SettledAt == nil {
		t.SettledAt = &now
	}
	return nil
}

// Cancel aborts the transaction.
func (t *Transaction) Cancel() error {
	return t.transitionTo(StatusCanceled)
}

// Expire marks an unpaid transaction as timed out: IN_PROGRESS -> EXPIRED.
func (t *Transaction) Expire() error {
	if t.Status != StatusInProgress {
		if t.Status.IsFinal() {
			return fmt.Errorf("%w: %s -> %s", ErrTransactionFinal, t.Status, StatusExpired)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusExpired)
	}
	t.Status = StatusExpired
	return nil
}

// Complete finishes a settled transaction: READY -> COMPLETED.
func (t *Transaction) Complete() error {
	return t.transitionTo(StatusCompleted)
}

// OpenDispute freezes the lifecycle while a dispute is decided.
func (t *Transaction) OpenDispute() error {
	return t.transitionTo(StatusDispute)
}

// IsExpired reports whether the deadline has passed for a still-open payment.
func (t *Transaction) IsExpired(now time.Time) bool {
	return t.Status == StatusInProgress && now.After(t.ExpiresAt)
}
