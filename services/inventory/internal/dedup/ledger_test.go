package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
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

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	server := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: server.Addr()})
}

func TestTryClaim_FirstDelivery(t *testing.T) {
	db, mock := setupMockDB(t)
	ledger := NewLedger(db, nil, "inventory", time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `processed_events`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	claimed, err := ledger.TryClaim(context.Background(), "event-1", "order-1", "order.created")

	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryClaim_Duplicate(t *testing.T) {
	db, mock := setupMockDB(t)
	ledger := NewLedger(db, nil, "inventory", time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `processed_events`").
		WillReturnError(errors.New("Error 1062: Duplicate entry 'event-1-inventory' for key 'idx_processed_event_group'"))
	mock.ExpectCommit()

	claimed, err := ledger.TryClaim(context.Background(), "event-1", "order-1", "order.created")

	// Дубликат — штатный случай, не ошибка: транзакция фиксируется
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryClaim_InfraError(t *testing.T) {
	db, mock := setupMockDB(t)
	ledger := NewLedger(db, nil, "inventory", time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `processed_events`").
		WillReturnError(errors.New("Error 2006: MySQL server has gone away"))
	mock.ExpectRollback()

	_, err := ledger.TryClaim(context.Background(), "event-1", "order-1", "order.created")

	assert.Error(t, err)
}

func TestRedisFastPath(t *testing.T) {
	db, _ := setupMockDB(t)
	cache := setupRedis(t)
	ledger := NewLedger(db, cache, "inventory", time.Hour)

	ctx := context.Background()

	assert.False(t, ledger.IsDuplicate(ctx, "event-1"))

	ledger.CacheSeen(ctx, "event-1")

	assert.True(t, ledger.IsDuplicate(ctx, "event-1"))
	assert.False(t, ledger.IsDuplicate(ctx, "event-2"))
}

func TestIsDuplicate_RedisDown(t *testing.T) {
	db, _ := setupMockDB(t)

	server := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close()

	ledger := NewLedger(db, cache, "inventory", time.Hour)

	// Недоступный Redis не роняет обработку: решает уникальный индекс БД
	assert.False(t, ledger.IsDuplicate(context.Background(), "event-1"))
}

func TestPruneBefore(t *testing.T) {
	db, mock := setupMockDB(t)
	ledger := NewLedger(db, nil, "inventory", time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `processed_events`").
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectCommit()

	deleted, err := ledger.PruneBefore(context.Background(), time.Now().UTC().Add(-7*24*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, int64(12), deleted)
}
