package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/repository"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/database"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/schedule"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/testutil"
)

func newConflictService(t *testing.T) (*ConflictService, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	db := database.NewFromSqlx(mockDB.DB, logger.New("test", "test"))
	allocations := repository.NewAllocationRepository(db)
	events := repository.NewEventRepository(db)
	return NewConflictService(allocations, events, logger.New("test", "test")), mockDB
}

func day(d int) time.Time {
	return time.Date(2026, 9, d, 0, 0, 0, 0, time.UTC)
}

func TestFindMaterialConflictsCollapsesAndSorts(t *testing.T) {
	svc, mockDB := newConflictService(t)
	defer mockDB.Close()

	candidate := schedule.NewDateRange(day(10), day(20))

	// ev-2 appears twice (two allocations); it must collapse to one entry
	// with the widened overlap. Results come back sorted by overlap start.
	mockDB.Mock.ExpectQuery(`COALESCE\(a.range_start, e.starts_at\)`).
		WillReturnRows(testutil.MockRows(
			"allocation_id", "event_id", "event_name", "serial_unit_id",
			"quantity_allocated", "eff_start", "eff_end",
		).
			AddRow("alloc-1", "ev-2", "Congresso Tech", nil, 2, day(12), day(14)).
			AddRow("alloc-2", "ev-2", "Congresso Tech", nil, 1, day(15), day(25)).
			AddRow("alloc-3", "ev-1", "Casamento Silva", nil, 3, day(5), day(11)))

	conflicts, err := svc.FindMaterialConflicts(context.Background(), "mat-1", nil, candidate, "")
	require.NoError(t, err)
	require.Len(t, conflicts, 2)

	// ev-1 overlaps 10..11, ev-2 overlaps 12..20 after merging and clipping.
	assert.Equal(t, "ev-1", conflicts[0].EventID)
	assert.Equal(t, day(10), conflicts[0].OverlapStart)
	assert.Equal(t, day(11), conflicts[0].OverlapEnd)

	assert.Equal(t, "ev-2", conflicts[1].EventID)
	assert.Equal(t, day(12), conflicts[1].OverlapStart)
	assert.Equal(t, day(20), conflicts[1].OverlapEnd)
}

func TestFindMaterialConflictsClearRange(t *testing.T) {
	svc, mockDB := newConflictService(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery(`COALESCE\(a.range_start, e.starts_at\)`).
		WillReturnRows(testutil.MockRows(
			"allocation_id", "event_id", "event_name", "serial_unit_id",
			"quantity_allocated", "eff_start", "eff_end",
		))

	conflicts, err := svc.FindMaterialConflicts(context.Background(), "mat-1", nil,
		schedule.NewDateRange(day(1), day(2)), "")
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

// Carlos is booked as rigger on an event ending Sep 12. A second event
// wanting Carlos as rigger starting Sep 12 clashes on the shared day.
func TestFindTeamConflictsSharedBoundaryDay(t *testing.T) {
	svc, mockDB := newConflictService(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery("FROM team_assignments ta").
		WillReturnRows(testutil.MockRows(
			"assignment_id", "event_id", "event_name", "member_name", "member_role",
			"eff_start", "eff_end",
		).AddRow("as-1", "ev-1", "Festival Vila", "Carlos", "Rigger", day(8), day(12)))

	conflicts, err := svc.FindTeamConflicts(context.Background(), "", "carlos", "rigger",
		schedule.NewDateRange(day(12), day(15)), "")
	require.NoError(t, err)

	require.Len(t, conflicts, 1)
	assert.Equal(t, "ev-1", conflicts[0].EventID)
	assert.Equal(t, day(12), conflicts[0].OverlapStart)
	assert.Equal(t, day(12), conflicts[0].OverlapEnd)
}

func TestFindTeamConflictsNoOverlap(t *testing.T) {
	svc, mockDB := newConflictService(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery("FROM team_assignments ta").
		WillReturnRows(testutil.MockRows(
			"assignment_id", "event_id", "event_name", "member_name", "member_role",
			"eff_start", "eff_end",
		))

	conflicts, err := svc.FindTeamConflicts(context.Background(), "", "carlos", "rigger",
		schedule.NewDateRange(day(13), day(15)), "")
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

// A failed lookup is not a clean bill: the caller must see
// DetectionUnavailable and retry, never an empty conflict list.
func TestFindMaterialConflictsStoreFailure(t *testing.T) {
	svc, mockDB := newConflictService(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery(`COALESCE\(a.range_start, e.starts_at\)`).
		WillReturnError(fmt.Errorf("relation unavailable"))

	conflicts, err := svc.FindMaterialConflicts(context.Background(), "mat-1", nil,
		schedule.NewDateRange(day(1), day(2)), "")
	require.Error(t, err)
	assert.Nil(t, conflicts)
	assert.True(t, errors.Is(err, errors.ErrDetectionUnavailable))
}

func TestFindTeamConflictsStoreFailure(t *testing.T) {
	svc, mockDB := newConflictService(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery("FROM team_assignments ta").
		WillReturnError(fmt.Errorf("timeout"))

	_, err := svc.FindTeamConflicts(context.Background(), "", "carlos", "rigger",
		schedule.NewDateRange(day(1), day(2)), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDetectionUnavailable))
}
