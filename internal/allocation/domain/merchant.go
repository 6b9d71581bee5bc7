package domain

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Merchant is a platform client that requests payment requisites. Its balance
// accumulates settled payments net of the merchant fee.
type Merchant struct {
	gorm.Model
	MerchantID string          `gorm:"column:merchant_id;type:varchar(32);uniqueIndex;not null" json:"merchant_id"`
	Name       string          `gorm:"column:name;type:varchar(100);not null" json:"name"`
	Balance    decimal.Decimal `gorm:"column:balance;type:decimal(32,18);not null;default:0" json:"balance"`
	Disabled   bool            `gorm:"column:disabled;not null;default:false" json:"disabled"`
}
