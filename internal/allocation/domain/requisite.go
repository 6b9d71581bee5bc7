// Package domain contains the entities of the requisite allocation engine:
// bank requisites, trader collateral accounts, payment transactions and the
// freezing arithmetic binding them together.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MethodType identifies how a payment reaches a requisite.
type MethodType string

const (
	MethodTypeCard MethodType = "card"
	MethodTypeSBP  MethodType = "sbp"
)

// Requisite is a trader-owned bank payment instrument. Requisites are never
// hard-deleted while transactions reference them; Archived removes them from
// the candidate pool.
type Requisite struct {
	gorm.Model
	// Requisite ID (business key)
	RequisiteID string `gorm:"column:requisite_id;type:varchar(32);uniqueIndex;not null" json:"requisite_id"`
	// Owning trader
	TraderID string `gorm:"column:trader_id;type:varchar(32);index;not null" json:"trader_id"`
	// Payment method type served by this requisite
	MethodType MethodType `gorm:"column:method_type;type:varchar(10);index;not null" json:"method_type"`
	// Bank name shown to the payer
	BankName string `gorm:"column:bank_name;type:varchar(64);not null" json:"bank_name"`
	// Card number or phone number, depending on the method type
	CardNumber string `gorm:"column:card_number;type:varchar(32);not null" json:"card_number"`
	// Per-transaction bounds
	MinAmount decimal.Decimal `gorm:"column:min_amount;type:decimal(32,18);not null;default:0" json:"min_amount"`
	MaxAmount decimal.Decimal `gorm:"column:max_amount;type:decimal(32,18);not null;default:0" json:"max_amount"`
	// Turnover limits; zero means unlimited
	DailyLimit   decimal.Decimal `gorm:"column:daily_limit;type:decimal(32,18);not null;default:0" json:"daily_limit"`
	MonthlyLimit decimal.Decimal `gorm:"column:monthly_limit;type:decimal(32,18);not null;default:0" json:"monthly_limit"`
	// Max transactions per day; zero means unlimited
	MaxCountTransactions int `gorm:"column:max_count_transactions;not null;default:0" json:"max_count_transactions"`
	// Minimum minutes between two transactions on this requisite
	IntervalMinutes int `gorm:"column:interval_minutes;not null;default:0" json:"interval_minutes"`
	// When the requisite last received an allocation; drives LRU ordering
	LastUsedAt *time.Time `gorm:"column:last_used_at;index" json:"last_used_at"`
	// Archived requisites are excluded from allocation
	Archived bool `gorm:"column:archived;not null;default:false" json:"archived"`
}

// AcceptsAmount reports whether the amount lies within the requisite's
// per-transaction bounds.
func (r *Requisite) AcceptsAmount(amount decimal.Decimal) bool {
	if amount.LessThan(r.MinAmount) {
		return false
	}
	if r.MaxAmount.IsPositive() && amount.GreaterThan(r.MaxAmount) {
		return false
	}
	return true
}

// WithinDailyLimit reports whether adding amount to today's turnover stays
// within the daily limit. A zero limit is unlimited.
func (r *Requisite) WithinDailyLimit(dayTurnover, amount decimal.Decimal) bool {
	if r.DailyLimit.IsZero() {
		return true
	}
	return dayTurnover.Add(amount).LessThanOrEqual(r.DailyLimit)
}

// WithinMonthlyLimit reports whether adding amount to this month's turnover
// stays within the monthly limit. A zero limit is unlimited.
func (r *Requisite) WithinMonthlyLimit(monthTurnover, amount decimal.Decimal) bool {
	if r.MonthlyLimit.IsZero() {
		return true
	}
	return monthTurnover.Add(amount).LessThanOrEqual(r.MonthlyLimit)
}

// WithinCountLimit reports whether one more transaction today stays within
// the daily count cap. A zero cap is unlimited.
func (r *Requisite) WithinCountLimit(dayCount int64) bool {
	if r.MaxCountTransactions <= 0 {
		return true
	}
	return dayCount+1 <= int64(r.MaxCountTransactions)
}

// IntervalElapsed reports whether the minimum inter-transaction interval has
// passed since the previous transaction on this requisite. last is nil when
// the requisite has no prior transaction.
func (r *Requisite) IntervalElapsed(last *time.Time, now time.Time) bool {
	if r.IntervalMinutes <= 0 || last == nil {
		return true
	}
	return now.Sub(*last) >= time.Duration(r.IntervalMinutes)*time.Minute
}
