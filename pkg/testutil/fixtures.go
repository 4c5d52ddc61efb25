package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// MaterialFixture represents test material data
type MaterialFixture struct {
	ID                string
	Name              string
	Category          string
	ControlMode       string
	QuantityTotal     int
	QuantityAvailable int
}

// EventFixture represents test event data
type EventFixture struct {
	ID       string
	Name     string
	StartsAt time.Time
	EndsAt   time.Time
	City     string
}

// TeamAssignmentFixture represents test team assignment data
type TeamAssignmentFixture struct {
	ID         string
	EventID    string
	MemberName string
	MemberRole string
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

func (f *FixtureFactory) next() int {
	f.sequence++
	return f.sequence
}

// PooledMaterial returns a pooled material fixture
func (f *FixtureFactory) PooledMaterial(total int) *MaterialFixture {
	n := f.next()
	return &MaterialFixture{
		ID:                uuid.New().String(),
		Name:              fmt.Sprintf("Material %d", n),
		Category:          "furniture",
		ControlMode:       "pooled",
		QuantityTotal:     total,
		QuantityAvailable: total,
	}
}

// SerializedMaterial returns a serialized material fixture
func (f *FixtureFactory) SerializedMaterial() *MaterialFixture {
	n := f.next()
	return &MaterialFixture{
		ID:          uuid.New().String(),
		Name:        fmt.Sprintf("Equipment %d", n),
		Category:    "audio",
		ControlMode: "serialized",
	}
}

// Event returns an event fixture spanning the given dates
func (f *FixtureFactory) Event(start, end time.Time) *EventFixture {
	n := f.next()
	return &EventFixture{
		ID:       uuid.New().String(),
		Name:     fmt.Sprintf("Event %d", n),
		StartsAt: start,
		EndsAt:   end,
		City:     "Sao Paulo",
	}
}

// InsertMaterial persists a material fixture
func (f *FixtureFactory) InsertMaterial(ctx context.Context, t *testing.T, db *sqlx.DB, m *MaterialFixture) {
	t.Helper()
	_, err := db.ExecContext(ctx, `
		INSERT INTO materials (id, name, category, control_mode, quantity_total, quantity_available, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
	`, m.ID, m.Name, m.Category, m.ControlMode, m.QuantityTotal, m.QuantityAvailable)
	if err != nil {
		t.Fatalf("failed to insert material fixture: %v", err)
	}
}

// InsertSerialUnit persists a serial unit for a material and returns its id
func (f *FixtureFactory) InsertSerialUnit(ctx context.Context, t *testing.T, db *sqlx.DB, materialID, serial, status string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := db.ExecContext(ctx, `
		INSERT INTO serial_units (id, material_id, serial, status)
		VALUES ($1, $2, $3, $4)
	`, id, materialID, serial, status)
	if err != nil {
		t.Fatalf("failed to insert serial unit fixture: %v", err)
	}
	// Keep the serialized material's cached projection in line with units.
	_, err = db.ExecContext(ctx, `
		UPDATE materials SET
			quantity_total = (SELECT COUNT(*) FROM serial_units WHERE material_id = $1),
			quantity_available = (SELECT COUNT(*) FROM serial_units WHERE material_id = $1 AND status = 'available')
		WHERE id = $1
	`, materialID)
	if err != nil {
		t.Fatalf("failed to refresh material counters: %v", err)
	}
	return id
}

// InsertEvent persists an event fixture
func (f *FixtureFactory) InsertEvent(ctx context.Context, t *testing.T, db *sqlx.DB, e *EventFixture) {
	t.Helper()
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (id, name, starts_at, ends_at, city)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.Name, e.StartsAt, e.EndsAt, e.City)
	if err != nil {
		t.Fatalf("failed to insert event fixture: %v", err)
	}
}

// InsertTeamAssignment persists a team assignment fixture
func (f *FixtureFactory) InsertTeamAssignment(ctx context.Context, t *testing.T, db *sqlx.DB, eventID, name, role string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := db.ExecContext(ctx, `
		INSERT INTO team_assignments (id, event_id, member_name, member_role)
		VALUES ($1, $2, $3, $4)
	`, id, eventID, name, role)
	if err != nil {
		t.Fatalf("failed to insert team assignment fixture: %v", err)
	}
	return id
}
