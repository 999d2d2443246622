package eventstore

import (
	"context"
	"errors"
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

func TestAppend_FirstEvent(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(sequence_number\\), 0\\)").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `domain_events`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	event, err := store.Append(context.Background(), "order-1", "order.created", []byte(`{}`), 1)

	require.NoError(t, err)
	assert.Equal(t, 1, event.SequenceNumber)
	assert.Equal(t, "order-1", event.AggregateID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_NextSequenceNumber(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(sequence_number\\), 0\\)").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(4))
	mock.ExpectExec("INSERT INTO `domain_events`").
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectCommit()

	event, err := store.Append(context.Background(), "order-1", "order.confirmed", []byte(`{}`), 1)

	require.NoError(t, err)
	assert.Equal(t, 5, event.SequenceNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_SequenceConflict(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(sequence_number\\), 0\\)").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(2))
	mock.ExpectExec("INSERT INTO `domain_events`").
		WillReturnError(errors.New("Error 1062: Duplicate entry 'order-1-3' for key 'idx_events_aggregate_seq'"))
	mock.ExpectRollback()

	_, err := store.Append(context.Background(), "order-1", "order.confirmed", []byte(`{}`), 1)

	assert.ErrorIs(t, err, ErrSequenceConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_EmptyAggregateID(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := store.Append(context.Background(), "", "order.created", []byte(`{}`), 1)

	assert.Error(t, err)
}

func TestReadOrdered(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"sequence_id", "aggregate_id", "event_type", "payload", "schema_version", "sequence_number", "created_at",
	}).
		AddRow(10, "order-1", "order.created", []byte(`{}`), 1, 1, now).
		AddRow(15, "order-1", "order.confirmed", []byte(`{}`), 1, 2, now)

	mock.ExpectQuery("SELECT (.+) FROM `domain_events`").
		WillReturnRows(rows)

	result, err := store.ReadOrdered(context.Background(), "order-1")

	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, 1, result[0].SequenceNumber)
	assert.Equal(t, 2, result[1].SequenceNumber)
	assert.Equal(t, "order.created", result[0].EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadOrdered_NoEvents(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)

	mock.ExpectQuery("SELECT (.+) FROM `domain_events`").
		WillReturnRows(sqlmock.NewRows([]string{"sequence_id"}))

	result, err := store.ReadOrdered(context.Background(), "order-404")

	require.NoError(t, err)
	assert.Empty(t, result)
}
