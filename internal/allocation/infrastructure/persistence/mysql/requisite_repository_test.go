package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:                 logger.Discard,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestTouchUpdatesLastUsed(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE `requisites` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewRequisiteRepository(db)
	require.NoError(t, repo.Touch(context.Background(), "REQ-1", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// MySQL reports changed rows, not matched rows: updating last_used_at to the
// value it already holds affects zero rows even though the requisite exists.
func TestTouchUnchangedTimestampIsNotMissing(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE `requisites` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	repo := NewRequisiteRepository(db)
	require.NoError(t, repo.Touch(context.Background(), "REQ-1", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchMissingRequisite(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE `requisites` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	repo := NewRequisiteRepository(db)
	err := repo.Touch(context.Background(), "REQ-404", time.Now())
	assert.ErrorIs(t, err, domain.ErrRequisiteNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
