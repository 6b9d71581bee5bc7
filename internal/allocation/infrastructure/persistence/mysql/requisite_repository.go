package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
)

type requisiteRepository struct {
	db *gorm.DB
}

// NewRequisiteRepository creates the requisite repository.
func NewRequisiteRepository(db *gorm.DB) domain.RequisiteRepository {
	return &requisiteRepository{db: db}
}

func (r *requisiteRepository) Create(ctx context.Context, requisite *domain.Requisite) error {
	return getDB(ctx, r.db).Create(requisite).Error
}

func (r *requisiteRepository) GetByID(ctx context.Context, requisiteID string) (*domain.Requisite, error) {
	var requisite domain.Requisite
	err := getDB(ctx, r.db).Where("requisite_id = ?", requisiteID).First(&requisite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRequisiteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &requisite, nil
}

func (r *requisiteRepository) Update(ctx context.Context, requisite *domain.Requisite) error {
	return getDB(ctx, r.db).Save(requisite).Error
}

// ListEligible returns non-archived requisites of the method type whose
// owners are not banned, least recently used first so traffic rotates over
// the pool. Never-used requisites go to the front.
func (r *requisiteRepository) ListEligible(ctx context.Context, methodType domain.MethodType) ([]*domain.Requisite, error) {
	var requisites []*domain.Requisite
	err := getDB(ctx, r.db).
		Joins("JOIN traders ON traders.trader_id = requisites.trader_id AND traders.banned = false AND traders.deleted_at IS NULL").
		Where("requisites.method_type = ? AND requisites.archived = false", methodType).
		Order("requisites.last_used_at IS NULL DESC, requisites.last_used_at ASC").
		Find(&requisites).Error
	if err != nil {
		return nil, err
	}
	return requisites, nil
}

// Touch records an allocation for LRU ordering. MySQL reports changed rows
// rather than matched rows, so writing an identical timestamp yields zero
// affected rows for a row that exists; existence gets its own check.
func (r *requisiteRepository) Touch(ctx context.Context, requisiteID string, at time.Time) error {
	db := getDB(ctx, r.db)
	result := db.Model(&domain.Requisite{}).
		Where("requisite_id = ?", requisiteID).
		Update("last_used_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&domain.Requisite{}).
			Where("requisite_id = ?", requisiteID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrRequisiteNotFound
		}
	}
	return nil
}
