package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/database"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/testutil"
)

func newMaterialRepo(t *testing.T) (*MaterialRepository, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	db := database.NewFromSqlx(mockDB.DB, logger.New("test", "test"))
	return NewMaterialRepository(db), mockDB
}

func materialRows(id string, mode string, total, available int) *sqlmock.Rows {
	now := time.Now()
	return testutil.MockRows(
		"id", "name", "category", "unit_price", "control_mode",
		"quantity_total", "quantity_available", "is_active", "created_at", "updated_at",
	).AddRow(id, "Round Table", "furniture", "120.00", mode, total, available, true, now, now)
}

func TestMaterialRepositoryGetByID(t *testing.T) {
	repo, mockDB := newMaterialRepo(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery("FROM materials m WHERE m.id").
		WithArgs("mat-1").
		WillReturnRows(materialRows("mat-1", ControlModePooled, 10, 4))

	material, err := repo.GetByID(context.Background(), "mat-1")
	require.NoError(t, err)
	assert.Equal(t, "mat-1", material.ID)
	assert.Equal(t, 10, material.QuantityTotal)
	assert.Equal(t, 4, material.QuantityAvailable)

	mockDB.ExpectationsWereMet(t)
}

func TestMaterialRepositoryGetByIDNotFound(t *testing.T) {
	repo, mockDB := newMaterialRepo(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery("FROM materials m WHERE m.id").
		WithArgs("missing").
		WillReturnRows(testutil.MockRows(
			"id", "name", "category", "unit_price", "control_mode",
			"quantity_total", "quantity_available", "is_active", "created_at", "updated_at",
		))

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}

func TestAdjustPooledQuantityDebit(t *testing.T) {
	repo, mockDB := newMaterialRepo(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery("UPDATE materials").
		WithArgs("mat-1", -3).
		WillReturnRows(testutil.MockRows("quantity_available").AddRow(1))

	newQuantity, err := repo.AdjustPooledQuantity(context.Background(), "mat-1", -3)
	require.NoError(t, err)
	assert.Equal(t, 1, newQuantity)

	mockDB.ExpectationsWereMet(t)
}

func TestAdjustPooledQuantityGuardRejects(t *testing.T) {
	repo, mockDB := newMaterialRepo(t)
	defer mockDB.Close()

	// Guarded UPDATE matches no row, but the material exists: the delta
	// would leave the counter outside [0, total].
	mockDB.Mock.ExpectQuery("UPDATE materials").
		WithArgs("mat-1", -8).
		WillReturnRows(testutil.MockRows("quantity_available"))

	mockDB.Mock.ExpectQuery("FROM materials m WHERE m.id").
		WithArgs("mat-1").
		WillReturnRows(materialRows("mat-1", ControlModePooled, 10, 4))

	_, err := repo.AdjustPooledQuantity(context.Background(), "mat-1", -8)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOutOfRange))

	mockDB.ExpectationsWereMet(t)
}

func TestAdjustPooledQuantityMissingMaterial(t *testing.T) {
	repo, mockDB := newMaterialRepo(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery("UPDATE materials").
		WithArgs("missing", 2).
		WillReturnRows(testutil.MockRows("quantity_available"))

	mockDB.Mock.ExpectQuery("FROM materials m WHERE m.id").
		WithArgs("missing").
		WillReturnRows(testutil.MockRows(
			"id", "name", "category", "unit_price", "control_mode",
			"quantity_total", "quantity_available", "is_active", "created_at", "updated_at",
		))

	_, err := repo.AdjustPooledQuantity(context.Background(), "missing", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}

func TestAdjustTotalQuantityGrowsBothCounters(t *testing.T) {
	repo, mockDB := newMaterialRepo(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery("UPDATE materials").
		WithArgs("mat-1", 30).
		WillReturnRows(testutil.MockRows("id").AddRow("mat-1"))
	mockDB.Mock.ExpectQuery("FROM materials m WHERE m.id").
		WithArgs("mat-1").
		WillReturnRows(materialRows("mat-1", ControlModePooled, 130, 80))

	material, err := repo.AdjustTotalQuantity(context.Background(), "mat-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 130, material.QuantityTotal)
	assert.Equal(t, 80, material.QuantityAvailable)

	mockDB.ExpectationsWereMet(t)
}

// Writing off more stock than is currently free would drive a counter
// negative; the guard refuses instead.
func TestAdjustTotalQuantityWriteOffGuard(t *testing.T) {
	repo, mockDB := newMaterialRepo(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery("UPDATE materials").
		WithArgs("mat-1", -8).
		WillReturnRows(testutil.MockRows("id"))
	mockDB.Mock.ExpectQuery("FROM materials m WHERE m.id").
		WithArgs("mat-1").
		WillReturnRows(materialRows("mat-1", ControlModePooled, 10, 4))

	_, err := repo.AdjustTotalQuantity(context.Background(), "mat-1", -8)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOutOfRange))

	mockDB.ExpectationsWereMet(t)
}

func TestStatusRankOrdering(t *testing.T) {
	assert.Less(t, StatusRank(StatusReserved), StatusRank(StatusSeparated))
	assert.Less(t, StatusRank(StatusSeparated), StatusRank(StatusInTransit))
	assert.Less(t, StatusRank(StatusInTransit), StatusRank(StatusDelivered))
	assert.Equal(t, -1, StatusRank("bogus"))
}
