package saga

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	return gormDB, mock
}

func TestUpdateInTx_BumpsVersion(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRepository(db)

	instance := NewInstance("order-1")
	require.NoError(t, instance.MarkInProgress())

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `saga_instances`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.UpdateInTx(tx, instance)
	})

	require.NoError(t, err)
	assert.Equal(t, 2, instance.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInTx_StaleVersion(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRepository(db)

	instance := NewInstance("order-1")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `saga_instances`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.UpdateInTx(tx, instance)
	})

	assert.ErrorIs(t, err, ErrSagaConcurrentUpdate)
	assert.Equal(t, 1, instance.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByOrderID_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM `saga_instances`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByOrderID(context.Background(), "order-404")

	assert.ErrorIs(t, err, ErrSagaNotFound)
}

func TestFindIncomplete(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "order_id", "saga_type", "status", "step_history", "version", "created_at", "updated_at",
	}).AddRow("saga-1", "order-1", SagaTypeOrderFulfillment, StatusInProgress,
		[]byte(`[{"step":"reserve_inventory","outcome":"dispatched","timestamp":"2026-08-29T10:00:00Z"}]`),
		1, now, now)

	mock.ExpectQuery("SELECT (.+) FROM `saga_instances`").
		WillReturnRows(rows)

	stuck, err := repo.FindIncomplete(context.Background(), now, 50)

	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, StatusInProgress, stuck[0].Status)
	require.Len(t, stuck[0].StepHistory, 1)
	assert.Equal(t, StepReserveInventory, stuck[0].StepHistory[0].Step)
}
