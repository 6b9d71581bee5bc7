package domain

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FeeAgreement ties a merchant and a trader together with the fee percents
// applied to transactions between them, scoped to one payment method so the
// same pair can price card and SBP traffic differently. A trader only
// receives payments from merchants they have an agreement with.
type FeeAgreement struct {
	gorm.Model
	MerchantID string     `gorm:"column:merchant_id;type:varchar(32);not null;uniqueIndex:idx_merchant_trader_method,priority:1" json:"merchant_id"`
	TraderID   string     `gorm:"column:trader_id;type:varchar(32);not null;uniqueIndex:idx_merchant_trader_method,priority:2" json:"trader_id"`
	MethodType MethodType `gorm:"column:method_type;type:varchar(20);not null;uniqueIndex:idx_merchant_trader_method,priority:3" json:"method_type"`
	// Commission the trader earns on the collateral principal
	TraderFeePercent decimal.Decimal `gorm:"column:trader_fee_percent;type:decimal(10,4);not null;default:0" json:"trader_fee_percent"`
	// Fee the platform charges the merchant on settlement
	MerchantFeePercent decimal.Decimal `gorm:"column:merchant_fee_percent;type:decimal(10,4);not null;default:0" json:"merchant_fee_percent"`
	// Disabled agreements suspend allocation without deleting history
	Disabled bool `gorm:"column:disabled;not null;default:false" json:"disabled"`
}
