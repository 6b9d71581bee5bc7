package mysql

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
)

type merchantRepository struct {
	db *gorm.DB
}

// NewMerchantRepository creates the merchant repository.
func NewMerchantRepository(db *gorm.DB) domain.MerchantRepository {
	return &merchantRepository{db: db}
}

func (r *merchantRepository) Create(ctx context.Context, merchant *domain.Merchant) error {
	return getDB(ctx, r.db).Create(merchant).Error
}

func (r *merchantRepository) GetByID(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	var merchant domain.Merchant
	err := getDB(ctx, r.db).Where("merchant_id = ?", merchantID).First(&merchant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMerchantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &merchant, nil
}

// CreditBalance moves the balance without a read-modify-write cycle; a
// negative delta debits, guarded against overdraft.
func (r *merchantRepository) CreditBalance(ctx context.Context, merchantID string, delta decimal.Decimal) error {
	db := getDB(ctx, r.db)
	query := db.Model(&domain.Merchant{}).Where("merchant_id = ?", merchantID)
	if delta.IsNegative() {
		query = query.Where("balance + ? >= 0", delta)
	}
	result := query.Update("balance", gorm.Expr("balance + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&domain.Merchant{}).Where("merchant_id = ?", merchantID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrMerchantNotFound
		}
		return errors.New("merchant balance may not go negative")
	}
	return nil
}
