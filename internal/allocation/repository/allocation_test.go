package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/database"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/testutil"
)

func newAllocationRepo(t *testing.T) (*AllocationRepository, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	db := database.NewFromSqlx(mockDB.DB, logger.New("test", "test"))
	return NewAllocationRepository(db), mockDB
}

func TestSumActiveQuantity(t *testing.T) {
	repo, mockDB := newAllocationRepo(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery(`SELECT COALESCE\(SUM\(quantity_allocated\), 0\)`).
		WithArgs("mat-1").
		WillReturnRows(testutil.MockRows("coalesce").AddRow(6))

	total, err := repo.SumActiveQuantity(context.Background(), "mat-1", "")
	require.NoError(t, err)
	assert.Equal(t, 6, total)

	mockDB.ExpectationsWereMet(t)
}

func TestSumActiveQuantityExcludesEvent(t *testing.T) {
	repo, mockDB := newAllocationRepo(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery(`SELECT COALESCE\(SUM\(quantity_allocated\), 0\)`).
		WithArgs("mat-1", "ev-1").
		WillReturnRows(testutil.MockRows("coalesce").AddRow(2))

	total, err := repo.SumActiveQuantity(context.Background(), "mat-1", "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	mockDB.ExpectationsWereMet(t)
}

func TestGetByIdempotencyKeyMiss(t *testing.T) {
	repo, mockDB := newAllocationRepo(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery("FROM allocations WHERE idempotency_key").
		WithArgs("key-1").
		WillReturnRows(testutil.MockRows(
			"id", "event_id", "material_id", "serial_unit_id", "quantity_allocated",
			"status", "return_status", "quantity_returned", "range_start", "range_end",
			"carrier", "declared_value", "sender_name", "recipient_name",
			"idempotency_key", "notes", "returned_at", "created_at", "updated_at",
		))

	allocation, err := repo.GetByIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Nil(t, allocation)

	mockDB.ExpectationsWereMet(t)
}

func TestListHoldsQueryShape(t *testing.T) {
	repo, mockDB := newAllocationRepo(t)
	defer mockDB.Close()

	start := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC)

	// The filter is inclusive on both ends: eff_start <= candidate end AND
	// eff_end >= candidate start, with allocation overrides taking precedence
	// over event dates.
	mockDB.Mock.ExpectQuery(`COALESCE\(a.range_start, e.starts_at\)`).
		WithArgs("mat-1", end, start).
		WillReturnRows(testutil.MockRows(
			"allocation_id", "event_id", "event_name", "serial_unit_id",
			"quantity_allocated", "eff_start", "eff_end",
		).AddRow("alloc-1", "ev-1", "Feira Gastronomica", nil, 4, start, end))

	holds, err := repo.ListHolds(context.Background(), "mat-1", nil, start, end, "")
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, "ev-1", holds[0].EventID)
	assert.Equal(t, 4, holds[0].Quantity)

	mockDB.ExpectationsWereMet(t)
}

func TestAllocationActive(t *testing.T) {
	a := &Allocation{ReturnStatus: ReturnPending}
	assert.True(t, a.Active())

	for _, terminal := range []string{ReturnOK, ReturnDamaged, ReturnLost} {
		a.ReturnStatus = terminal
		assert.False(t, a.Active(), terminal)
	}
}
