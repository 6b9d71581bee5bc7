package mysql

import (
	"context"

	"gorm.io/gorm"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
)

type feeAgreementRepository struct {
	db *gorm.DB
}

// NewFeeAgreementRepository creates the fee agreement repository.
func NewFeeAgreementRepository(db *gorm.DB) domain.FeeAgreementRepository {
	return &feeAgreementRepository{db: db}
}

func (r *feeAgreementRepository) Create(ctx context.Context, agreement *domain.FeeAgreement) error {
	return getDB(ctx, r.db).Create(agreement).Error
}

func (r *feeAgreementRepository) GetByMerchantAndTraders(ctx context.Context, merchantID string, traderIDs []string, methodType domain.MethodType) (map[string]*domain.FeeAgreement, error) {
	if len(traderIDs) == 0 {
		return map[string]*domain.FeeAgreement{}, nil
	}
	var agreements []*domain.FeeAgreement
	err := getDB(ctx, r.db).
		Where("merchant_id = ? AND trader_id IN ? AND method_type = ? AND disabled = false", merchantID, traderIDs, methodType).
		Find(&agreements).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.FeeAgreement, len(agreements))
	for _, a := range agreements {
		out[a.TraderID] = a
	}
	return out, nil
}
