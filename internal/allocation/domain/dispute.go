package domain

import (
	"time"

	"gorm.io/gorm"
)

// DisputeStatus is the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeOpen           DisputeStatus = "OPEN"
	DisputeResolvedTrader DisputeStatus = "RESOLVED_TRADER"
	DisputeResolvedClient DisputeStatus = "RESOLVED_CLIENT"
	DisputeCanceled       DisputeStatus = "CANCELED"
)

// Dispute is a contested transaction under review. An open dispute counts
// against the trader's dispute limit and blocks new allocations once the
// limit is reached.
type Dispute struct {
	gorm.Model
	DisputeID     string        `gorm:"column:dispute_id;type:varchar(32);uniqueIndex;not null" json:"dispute_id"`
	// A transaction may accumulate several resolved disputes over its life;
	// only one may be open at a time, enforced at the service layer.
	TransactionID string        `gorm:"column:transaction_id;type:varchar(32);index;not null" json:"transaction_id"`
	TraderID      string        `gorm:"column:trader_id;type:varchar(32);index;not null" json:"trader_id"`
	MerchantID    string        `gorm:"column:merchant_id;type:varchar(32);index;not null" json:"merchant_id"`
	Status        DisputeStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	Reason        string        `gorm:"column:reason;type:varchar(500)" json:"reason"`
	ResolvedAt    *time.Time    `gorm:"column:resolved_at" json:"resolved_at"`
}

// IsOpen reports whether the dispute still counts against the trader.
func (d *Dispute) IsOpen() bool {
	return d.Status == DisputeOpen
}

// Resolve closes the dispute with the given outcome.
func (d *Dispute) Resolve(status DisputeStatus, now time.Time) error {
	if d.Status != DisputeOpen {
		return ErrDisputeResolved
	}
	d.Status = status
	d.ResolvedAt = &now
	return nil
}
