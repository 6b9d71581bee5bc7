// Package mysql implements the allocation repositories on top of gorm. The
// conditional UPDATE in the trader repository is what makes concurrent
// freezing safe; everything else is conventional CRUD.
package mysql

import (
	"context"

	"gorm.io/gorm"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
	"github.com/wyfcoding/p2pexchange/pkg/contextx"
)

// txManager runs closures inside a gorm transaction and threads the handle
// through the context so repositories join it.
type txManager struct {
	db *gorm.DB
}

// NewTxManager creates the transaction manager.
func NewTxManager(db *gorm.DB) domain.TxManager {
	return &txManager{db: db}
}

func (m *txManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(contextx.WithTx(ctx, tx))
	})
}

// getDB returns the transaction handle from the context when present, the
// base connection otherwise.
func getDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx := contextx.GetTx(ctx); tx != nil {
		if gormTx, ok := tx.(*gorm.DB); ok {
			return gormTx
		}
	}
	return db.WithContext(ctx)
}

// inTx reports whether ctx carries a transaction handle.
func inTx(ctx context.Context) bool {
	_, ok := contextx.GetTx(ctx).(*gorm.DB)
	return ok
}
