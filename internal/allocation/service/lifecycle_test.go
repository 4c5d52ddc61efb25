package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/events"
	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/repository"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/database"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/testutil"
)

func newLifecycleService(t *testing.T) (*LifecycleService, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, log)

	materials := repository.NewMaterialRepository(db)
	allocations := repository.NewAllocationRepository(db)
	eventRepo := repository.NewEventRepository(db)

	var publisher *events.AllocationEventPublisher

	return NewLifecycleService(db, materials, allocations, eventRepo, publisher, log), mockDB
}

func expectAllocationRow(mockDB *testutil.MockDB, id, status, returnStatus string, quantity int, serialUnitID *string) {
	now := time.Now()
	mockDB.Mock.ExpectQuery("FROM allocations WHERE id").
		WithArgs(id).
		WillReturnRows(testutil.MockRows(allocationColumns()...).
			AddRow(id, "ev-1", "mat-1", serialUnitID, quantity,
				status, returnStatus, 0, nil, nil, nil, nil, nil, nil, nil, nil, nil, now, now))
}

func TestAdvanceForward(t *testing.T) {
	svc, mockDB := newLifecycleService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectAllocationRow(mockDB, "alloc-1", repository.StatusReserved, repository.ReturnPending, 2, nil)
	mockDB.Mock.ExpectExec("UPDATE allocations SET").
		WithArgs("alloc-1", repository.StatusReserved, repository.StatusSeparated, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	// Post-commit document snapshot lookups are best-effort; empty results
	// only degrade the document.
	mockDB.Mock.ExpectQuery("FROM events WHERE id").
		WillReturnRows(testutil.MockRows("id", "name", "starts_at", "ends_at", "start_time", "end_time", "city", "state", "created_at", "updated_at"))
	mockDB.Mock.ExpectQuery("FROM materials m WHERE m.id").
		WillReturnRows(testutil.MockRows(
			"id", "name", "category", "unit_price", "control_mode",
			"quantity_total", "quantity_available", "is_active", "created_at", "updated_at",
		))

	allocation, err := svc.Advance(context.Background(), "alloc-1", repository.StatusSeparated, AdvanceOptions{})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusSeparated, allocation.Status)

	mockDB.ExpectationsWereMet(t)
}

// Transport details supplied with an advance are stored on the allocation and
// carried into the document snapshot.
func TestAdvanceRecordsShippingDetails(t *testing.T) {
	svc, mockDB := newLifecycleService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectAllocationRow(mockDB, "alloc-1", repository.StatusSeparated, repository.ReturnPending, 2, nil)
	mockDB.Mock.ExpectExec("UPDATE allocations SET").
		WithArgs("alloc-1", repository.StatusSeparated, repository.StatusInTransit,
			"Transportadora Aguia", sqlmock.AnyArg(), "Deposito Central", "Joao Pereira").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	mockDB.Mock.ExpectQuery("FROM events WHERE id").
		WillReturnRows(testutil.MockRows("id", "name", "starts_at", "ends_at", "start_time", "end_time", "city", "state", "created_at", "updated_at"))
	mockDB.Mock.ExpectQuery("FROM materials m WHERE m.id").
		WillReturnRows(testutil.MockRows(
			"id", "name", "category", "unit_price", "control_mode",
			"quantity_total", "quantity_available", "is_active", "created_at", "updated_at",
		))

	allocation, err := svc.Advance(context.Background(), "alloc-1", repository.StatusInTransit, AdvanceOptions{
		Carrier:       "Transportadora Aguia",
		DeclaredValue: "1500.00",
		SenderName:    "Deposito Central",
		RecipientName: "Joao Pereira",
	})
	require.NoError(t, err)

	require.NotNil(t, allocation.Carrier)
	assert.Equal(t, "Transportadora Aguia", *allocation.Carrier)
	require.NotNil(t, allocation.DeclaredValue)
	assert.True(t, allocation.DeclaredValue.Equal(decimal.NewFromInt(1500)))

	mockDB.ExpectationsWereMet(t)
}

func TestAdvanceRejectsBadDeclaredValue(t *testing.T) {
	svc, mockDB := newLifecycleService(t)
	defer mockDB.Close()

	_, err := svc.Advance(context.Background(), "alloc-1", repository.StatusInTransit, AdvanceOptions{
		DeclaredValue: "umas mil",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

// The lifecycle only moves forward. A delivered allocation cannot go back to
// separated.
func TestAdvanceBackwardRejected(t *testing.T) {
	svc, mockDB := newLifecycleService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectAllocationRow(mockDB, "alloc-1", repository.StatusDelivered, repository.ReturnPending, 2, nil)
	mockDB.ExpectRollback()

	_, err := svc.Advance(context.Background(), "alloc-1", repository.StatusSeparated, AdvanceOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	mockDB.ExpectationsWereMet(t)
}

func TestAdvanceUnknownStatus(t *testing.T) {
	svc, mockDB := newLifecycleService(t)
	defer mockDB.Close()

	_, err := svc.Advance(context.Background(), "alloc-1", "teleported", AdvanceOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

// Returning an allocation that is still reserved makes no sense: nothing
// ever left the warehouse.
func TestReturnWhileReservedRejected(t *testing.T) {
	svc, mockDB := newLifecycleService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectAllocationRow(mockDB, "alloc-1", repository.StatusReserved, repository.ReturnPending, 2, nil)
	mockDB.ExpectRollback()

	_, err := svc.RecordReturn(context.Background(), "alloc-1", repository.ReturnOK, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	mockDB.ExpectationsWereMet(t)
}

func TestReturnDeliveredPooledCreditsLedger(t *testing.T) {
	svc, mockDB := newLifecycleService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectAllocationRow(mockDB, "alloc-1", repository.StatusDelivered, repository.ReturnPending, 3, nil)
	mockDB.Mock.ExpectExec("UPDATE allocations SET").
		WithArgs("alloc-1", repository.ReturnOK, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery("UPDATE materials").
		WithArgs("mat-1", 3).
		WillReturnRows(testutil.MockRows("quantity_available").AddRow(7))
	mockDB.ExpectCommit()

	allocation, err := svc.RecordReturn(context.Background(), "alloc-1", repository.ReturnOK, 3)
	require.NoError(t, err)
	assert.Equal(t, repository.ReturnOK, allocation.ReturnStatus)
	assert.Equal(t, 3, allocation.QuantityReturned)

	mockDB.ExpectationsWereMet(t)
}

// A credit that would push available past total points at ledger drift. The
// return still completes; the counter is clamped and the drift logged.
func TestReturnCreditClampedOnDrift(t *testing.T) {
	svc, mockDB := newLifecycleService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	expectAllocationRow(mockDB, "alloc-1", repository.StatusDelivered, repository.ReturnPending, 3, nil)
	mockDB.Mock.ExpectExec("UPDATE allocations SET").
		WithArgs("alloc-1", repository.ReturnOK, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Guarded credit matches no row.
	mockDB.Mock.ExpectQuery("UPDATE materials").
		WithArgs("mat-1", 3).
		WillReturnRows(testutil.MockRows("quantity_available"))
	// The repository re-reads the row to distinguish missing from out-of-range.
	mockDB.Mock.ExpectQuery("FROM materials m WHERE m.id").
		WithArgs("mat-1").
		WillReturnRows(testutil.MockRows(
			"id", "name", "category", "unit_price", "control_mode",
			"quantity_total", "quantity_available", "is_active", "created_at", "updated_at",
		).AddRow("mat-1", "Round Table", "furniture", "120.00", "pooled", 10, 9, true, now, now))
	// Clamp to total.
	mockDB.Mock.ExpectExec("UPDATE materials SET quantity_available = quantity_total").
		WithArgs("mat-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	_, err := svc.RecordReturn(context.Background(), "alloc-1", repository.ReturnOK, 3)
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestReturnMoreThanAllocatedRejected(t *testing.T) {
	svc, mockDB := newLifecycleService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectAllocationRow(mockDB, "alloc-1", repository.StatusDelivered, repository.ReturnPending, 3, nil)
	mockDB.ExpectRollback()

	_, err := svc.RecordReturn(context.Background(), "alloc-1", repository.ReturnOK, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOutOfRange))

	mockDB.ExpectationsWereMet(t)
}

// Damaged units leave circulation instead of going straight back to the
// available pool.
func TestReturnDamagedSerializedUnitGoesToMaintenance(t *testing.T) {
	svc, mockDB := newLifecycleService(t)
	defer mockDB.Close()

	unitID := "unit-7"

	mockDB.ExpectBegin()
	expectAllocationRow(mockDB, "alloc-1", repository.StatusDelivered, repository.ReturnPending, 1, &unitID)
	mockDB.Mock.ExpectExec("UPDATE allocations SET").
		WithArgs("alloc-1", repository.ReturnDamaged, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectExec("UPDATE serial_units SET status").
		WithArgs(unitID, "mat-1", repository.UnitMaintenance).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectExec("UPDATE materials SET").
		WithArgs("mat-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	allocation, err := svc.RecordReturn(context.Background(), "alloc-1", repository.ReturnDamaged, 1)
	require.NoError(t, err)
	assert.Equal(t, repository.ReturnDamaged, allocation.ReturnStatus)

	mockDB.ExpectationsWereMet(t)
}

func TestCancelRequiresReservedStatus(t *testing.T) {
	svc, mockDB := newLifecycleService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectAllocationRow(mockDB, "alloc-1", repository.StatusSeparated, repository.ReturnPending, 2, nil)
	mockDB.ExpectRollback()

	err := svc.Cancel(context.Background(), "alloc-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	mockDB.ExpectationsWereMet(t)
}

func TestCancelReservedCreditsLedger(t *testing.T) {
	svc, mockDB := newLifecycleService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectAllocationRow(mockDB, "alloc-1", repository.StatusReserved, repository.ReturnPending, 2, nil)
	mockDB.Mock.ExpectExec("DELETE FROM allocations").
		WithArgs("alloc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery("UPDATE materials").
		WithArgs("mat-1", 2).
		WillReturnRows(testutil.MockRows("quantity_available").AddRow(6))
	mockDB.ExpectCommit()

	err := svc.Cancel(context.Background(), "alloc-1")
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}
