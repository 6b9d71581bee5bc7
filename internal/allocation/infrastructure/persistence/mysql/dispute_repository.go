package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
)

type disputeRepository struct {
	db *gorm.DB
}

// NewDisputeRepository creates the dispute repository.
func NewDisputeRepository(db *gorm.DB) domain.DisputeRepository {
	return &disputeRepository{db: db}
}

func (r *disputeRepository) Create(ctx context.Context, dispute *domain.Dispute) error {
	return getDB(ctx, r.db).Create(dispute).Error
}

func (r *disputeRepository) GetByID(ctx context.Context, disputeID string) (*domain.Dispute, error) {
	db := getDB(ctx, r.db)
	if inTx(ctx) {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var dispute domain.Dispute
	err := db.Where("dispute_id = ?", disputeID).First(&dispute).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *disputeRepository) GetOpenByTransactionID(ctx context.Context, transactionID string) (*domain.Dispute, error) {
	var dispute domain.Dispute
	err := getDB(ctx, r.db).
		Where("transaction_id = ? AND status = ?", transactionID, domain.DisputeOpen).
		First(&dispute).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *disputeRepository) Update(ctx context.Context, dispute *domain.Dispute) error {
	return getDB(ctx, r.db).Save(dispute).Error
}

func (r *disputeRepository) CountOpenByTraders(ctx context.Context, traderIDs []string) (map[string]int64, error) {
	if len(traderIDs) == 0 {
		return map[string]int64{}, nil
	}
	var rows []struct {
		TraderID string
		Count    int64
	}
	err := getDB(ctx, r.db).Model(&domain.Dispute{}).
		Select("trader_id, COUNT(*) AS count").
		Where("trader_id IN ? AND status = ?", traderIDs, domain.DisputeOpen).
		Group("trader_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.TraderID] = row.Count
	}
	return out, nil
}
