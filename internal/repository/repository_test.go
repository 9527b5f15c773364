package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestClaimFulfillment(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "first trigger wins", affected: 1, want: true},
		{name: "already claimed", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewOrderRepository(db)

			mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := repo.ClaimFulfillment(context.Background(), nil, "order-1", "system", "ref", time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestClaimFulfillment_Error(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)

	boom := errors.New("lock wait timeout")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).WillReturnError(boom)

	ok, err := repo.ClaimFulfillment(context.Background(), nil, "order-1", "system", "ref", time.Now())
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestClaimCode(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInventoryRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `gift_card_codes` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `gift_card_codes` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ClaimCode(context.Background(), nil, "code-1", "item-1", "buyer-1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimCode(context.Background(), nil, "code-1", "item-2", "buyer-2", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "a sold code cannot be claimed twice")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimSlot_FullAccount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInventoryRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `streaming_accounts` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	slot, ok, err := repo.ClaimSlot(context.Background(), nil, "acct-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, slot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimSlot_ReusesFreedSlot(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInventoryRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `streaming_accounts` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `max_profiles` FROM `streaming_accounts`")).
		WillReturnRows(sqlmock.NewRows([]string{"max_profiles"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `active_slot` FROM `streaming_profiles`")).
		WillReturnRows(sqlmock.NewRows([]string{"active_slot"}).AddRow(1).AddRow(3))

	slot, ok, err := repo.ClaimSlot(context.Background(), nil, "acct-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, slot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimSlot_CounterOutOfSync(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInventoryRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `streaming_accounts` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `max_profiles` FROM `streaming_accounts`")).
		WillReturnRows(sqlmock.NewRows([]string{"max_profiles"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `active_slot` FROM `streaming_profiles`")).
		WillReturnRows(sqlmock.NewRows([]string{"active_slot"}).AddRow(1).AddRow(2))

	_, ok, err := repo.ClaimSlot(context.Background(), nil, "acct-1")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLowestFreeSlot(t *testing.T) {
	tests := []struct {
		name  string
		taken []int
		max   int
		want  int
	}{
		{name: "empty account", taken: nil, max: 4, want: 1},
		{name: "gap after refund", taken: []int{2, 3}, max: 4, want: 1},
		{name: "middle gap", taken: []int{1, 3, 4}, max: 4, want: 2},
		{name: "full", taken: []int{1, 2}, max: 2, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lowestFreeSlot(tt.taken, tt.max))
		})
	}
}

func TestMarkConfirmed_ClosedWindow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `payments` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkConfirmed(context.Background(), nil, "pay-1", "ref", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitAvailable(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSellerRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `sellers` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.DebitAvailable(context.Background(), nil, "seller-1", decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.False(t, ok, "insufficient balance leaves the row untouched")
	assert.NoError(t, mock.ExpectationsWereMet())
}
