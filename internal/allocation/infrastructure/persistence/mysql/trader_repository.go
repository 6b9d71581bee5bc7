package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
)

type traderRepository struct {
	db *gorm.DB
}

// NewTraderRepository creates the trader repository.
func NewTraderRepository(db *gorm.DB) domain.TraderRepository {
	return &traderRepository{db: db}
}

func (r *traderRepository) Create(ctx context.Context, trader *domain.Trader) error {
	return getDB(ctx, r.db).Create(trader).Error
}

func (r *traderRepository) GetByID(ctx context.Context, traderID string) (*domain.Trader, error) {
	var trader domain.Trader
	err := getDB(ctx, r.db).Where("trader_id = ?", traderID).First(&trader).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTraderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &trader, nil
}

func (r *traderRepository) GetByIDs(ctx context.Context, traderIDs []string) (map[string]*domain.Trader, error) {
	if len(traderIDs) == 0 {
		return map[string]*domain.Trader{}, nil
	}
	var traders []*domain.Trader
	if err := getDB(ctx, r.db).Where("trader_id IN ?", traderIDs).Find(&traders).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*domain.Trader, len(traders))
	for _, t := range traders {
		out[t.TraderID] = t
	}
	return out, nil
}

// AdjustCollateral applies all deltas in one conditional UPDATE. The WHERE
// clause re-validates 0 <= frozen' <= trust' against current row values, so
// two racing freezes can never push the frozen amount past the trust
// balance: the loser simply matches zero rows.
func (r *traderRepository) AdjustCollateral(ctx context.Context, traderID string, adj domain.CollateralAdjustment) error {
	db := getDB(ctx, r.db)

	result := db.Model(&domain.Trader{}).
		Where("trader_id = ?", traderID).
		Where("frozen_amount + ? >= 0", adj.FreezeDelta).
		Where("trust_balance + ? >= frozen_amount + ?", adj.TrustDelta, adj.FreezeDelta).
		Updates(map[string]any{
			"frozen_amount":     gorm.Expr("frozen_amount + ?", adj.FreezeDelta),
			"trust_balance":     gorm.Expr("trust_balance + ?", adj.TrustDelta),
			"profit_from_deals": gorm.Expr("profit_from_deals + ?", adj.ProfitDelta),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Zero rows means either an unknown trader or a failed condition.
		var count int64
		if err := db.Model(&domain.Trader{}).Where("trader_id = ?", traderID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrTraderNotFound
		}
		return domain.ErrInsufficientCollateral
	}
	return nil
}
