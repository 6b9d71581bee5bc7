package domain

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Trader is a liquidity provider whose pledged collateral backs incoming
// payments routed to its requisites.
//
// Invariant: FrozenAmount <= TrustBalance at every quiescent point. All
// persistent mutations of the balance fields go through
// TraderRepository.AdjustCollateral, which enforces the invariant with a
// conditional update at the storage layer.
type Trader struct {
	gorm.Model
	// Trader ID (business key)
	TraderID string `gorm:"column:trader_id;type:varchar(32);uniqueIndex;not null" json:"trader_id"`
	// Total pledged collateral
	TrustBalance decimal.Decimal `gorm:"column:trust_balance;type:decimal(32,18);not null;default:0" json:"trust_balance"`
	// Collateral reserved against open transactions
	FrozenAmount decimal.Decimal `gorm:"column:frozen_amount;type:decimal(32,18);not null;default:0" json:"frozen_amount"`
	// Accumulated commission profit from settled deals
	ProfitFromDeals decimal.Decimal `gorm:"column:profit_from_deals;type:decimal(32,18);not null;default:0" json:"profit_from_deals"`
	// Global per-requisite transaction bounds
	MinPerRequisite decimal.Decimal `gorm:"column:min_per_requisite;type:decimal(32,18);not null;default:0" json:"min_per_requisite"`
	MaxPerRequisite decimal.Decimal `gorm:"column:max_per_requisite;type:decimal(32,18);not null;default:0" json:"max_per_requisite"`
	// Max open disputes before the trader stops receiving traffic
	DisputeLimit int `gorm:"column:dispute_limit;not null;default:5" json:"dispute_limit"`
	// Banned traders are excluded from allocation
	Banned bool `gorm:"column:banned;not null;default:false" json:"banned"`
}

// Available returns the collateral not yet reserved.
func (t *Trader) Available() decimal.Decimal {
	return t.TrustBalance.Sub(t.FrozenAmount)
}

// AcceptsAmount reports whether the amount lies within the trader's global
// per-requisite bounds.
func (t *Trader) AcceptsAmount(amount decimal.Decimal) bool {
	if amount.LessThan(t.MinPerRequisite) {
		return false
	}
	if t.MaxPerRequisite.IsPositive() && amount.GreaterThan(t.MaxPerRequisite) {
		return false
	}
	return true
}

// CanFreeze reports whether the trader has enough unreserved collateral. The
// authoritative check happens again inside the atomic commit; this one prunes
// candidates early.
func (t *Trader) CanFreeze(total decimal.Decimal) bool {
	return t.Available().GreaterThanOrEqual(total)
}

// WithinDisputeLimit reports whether the trader may receive new allocations
// given its count of currently open disputes.
func (t *Trader) WithinDisputeLimit(openDisputes int64) bool {
	if t.DisputeLimit <= 0 {
		return true
	}
	return openDisputes < int64(t.DisputeLimit)
}

// Freeze reserves collateral in memory, guarding the invariant. Used by
// in-memory repositories and tests; the MySQL repository enforces the same
// condition in SQL.
func (t *Trader) Freeze(total decimal.Decimal) error {
	if !t.CanFreeze(total) {
		return ErrInsufficientCollateral
	}
	t.FrozenAmount = t.FrozenAmount.Add(total)
	return nil
}

// Release returns reserved collateral to the available pool.
func (t *Trader) Release(total decimal.Decimal) error {
	if t.FrozenAmount.LessThan(total) {
		return ErrNegativeFrozen
	}
	t.FrozenAmount = t.FrozenAmount.Sub(total)
	return nil
}

// Consume releases reserved collateral and burns it from the trust balance.
// This is the only operation that reduces TrustBalance.
func (t *Trader) Consume(total decimal.Decimal) error {
	if t.FrozenAmount.LessThan(total) {
		return ErrNegativeFrozen
	}
	t.FrozenAmount = t.FrozenAmount.Sub(total)
	t.TrustBalance = t.TrustBalance.Sub(total)
	return nil
}
