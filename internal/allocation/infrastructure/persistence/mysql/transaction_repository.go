package mysql

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
)

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates the transaction repository.
func NewTransactionRepository(db *gorm.DB) domain.TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	err := getDB(ctx, r.db).Create(tx).Error
	if err != nil && isDuplicateKey(err) {
		return domain.ErrDuplicateOrder
	}
	return err
}

// GetByID locks the row when called inside a transaction so settlement
// transitions on the same transaction serialize.
func (r *transactionRepository) GetByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	db := getDB(ctx, r.db)
	if inTx(ctx) {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var tx domain.Transaction
	err := db.Where("transaction_id = ?", transactionID).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) GetByMerchantOrder(ctx context.Context, merchantID, orderID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := getDB(ctx, r.db).
		Where("merchant_id = ? AND order_id = ?", merchantID, orderID).
		First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) Update(ctx context.Context, tx *domain.Transaction) error {
	return getDB(ctx, r.db).Save(tx).Error
}

// usageRow receives the grouped aggregate query.
type usageRow struct {
	RequisiteID     string
	DayTotal        decimal.Decimal
	MonthTotal      decimal.Decimal
	InFlightCount   int64
	LastAllocatedAt *time.Time
}

// UsageByRequisites computes the limit aggregates for all candidates in one
// grouped query. Canceled and expired transactions do not count toward the
// turnover sums, but the last_allocated_at cool-down timestamp sees every
// allocation regardless of how it ended. The scan is bounded to the current
// month; cool-down intervals are minutes-scale so the window loses nothing.
func (r *transactionRepository) UsageByRequisites(ctx context.Context, requisiteIDs []string, dayStart, monthStart time.Time) (map[string]*domain.RequisiteUsage, error) {
	if len(requisiteIDs) == 0 {
		return map[string]*domain.RequisiteUsage{}, nil
	}

	excluded := []domain.TransactionStatus{domain.StatusCanceled, domain.StatusExpired}
	var rows []usageRow
	err := getDB(ctx, r.db).Model(&domain.Transaction{}).
		Select(`requisite_id,
			COALESCE(SUM(CASE WHEN created_at >= ? AND status NOT IN ? THEN amount ELSE 0 END), 0) AS day_total,
			COALESCE(SUM(CASE WHEN created_at >= ? AND status NOT IN ? THEN amount ELSE 0 END), 0) AS month_total,
			COALESCE(SUM(CASE WHEN created_at >= ? AND status NOT IN ? THEN 1 ELSE 0 END), 0) AS in_flight_count,
			MAX(created_at) AS last_allocated_at`,
			dayStart, excluded, monthStart, excluded, dayStart, excluded).
		Where("requisite_id IN ?", requisiteIDs).
		Where("created_at >= ?", monthStart).
		Group("requisite_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]*domain.RequisiteUsage, len(rows))
	for _, row := range rows {
		out[row.RequisiteID] = &domain.RequisiteUsage{
			RequisiteID:     row.RequisiteID,
			DayTotal:        row.DayTotal,
			MonthTotal:      row.MonthTotal,
			InFlightCount:   row.InFlightCount,
			LastAllocatedAt: row.LastAllocatedAt,
		}
	}
	return out, nil
}

func (r *transactionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction
	err := getDB(ctx, r.db).
		Where("status = ? AND expires_at <= ?", domain.StatusInProgress, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// isDuplicateKey detects a unique constraint violation without importing the
// driver error types everywhere.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "Duplicate entry")
}
