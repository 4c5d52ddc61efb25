package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/database"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
)

// Event is a production the company mounts. This service reads events to
// resolve date ranges and conflict identity; event CRUD lives in the events
// service.
type Event struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	StartsAt  time.Time `db:"starts_at" json:"starts_at"`
	EndsAt    time.Time `db:"ends_at" json:"ends_at"`
	StartTime *string   `db:"start_time" json:"start_time,omitempty"`
	EndTime   *string   `db:"end_time" json:"end_time,omitempty"`
	City      string    `db:"city" json:"city"`
	State     *string   `db:"state" json:"state,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TeamHold is a team member's assignment joined with the event holding them
type TeamHold struct {
	AssignmentID string    `db:"assignment_id"`
	EventID      string    `db:"event_id"`
	EventName    string    `db:"event_name"`
	MemberName   string    `db:"member_name"`
	MemberRole   string    `db:"member_role"`
	RangeStart   time.Time `db:"eff_start"`
	RangeEnd     time.Time `db:"eff_end"`
}

// EventRepository reads events and team assignments
type EventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

// GetByID gets an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id string) (*Event, error) {
	return r.getByID(ctx, r.db, id)
}

// GetByIDTx gets an event inside an open transaction
func (r *EventRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*Event, error) {
	return r.getByID(ctx, tx, id)
}

func (r *EventRepository) getByID(ctx context.Context, q sqlx.QueryerContext, id string) (*Event, error) {
	var e Event
	query := `SELECT id, name, starts_at, ends_at, start_time, end_time, city, state, created_at, updated_at FROM events WHERE id = $1`

	err := sqlx.GetContext(ctx, q, &e, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("event")
	}
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// ListTeamHolds returns assignments of the same person on events whose
// effective dates touch [start, end]. The person is matched by member id when
// one is given, else by name and role compared case-insensitively. An
// assignment's own range overrides the event dates; endpoints are inclusive.
func (r *EventRepository) ListTeamHolds(ctx context.Context, memberID, memberName, memberRole string, start, end time.Time, excludingEventID string) ([]*TeamHold, error) {
	query := `
		SELECT
			ta.id AS assignment_id,
			e.id AS event_id,
			e.name AS event_name,
			ta.member_name,
			ta.member_role,
			COALESCE(ta.range_start, e.starts_at) AS eff_start,
			COALESCE(ta.range_end, e.ends_at) AS eff_end
		FROM team_assignments ta
		JOIN events e ON e.id = ta.event_id
		WHERE COALESCE(ta.range_start, e.starts_at) <= $1
			AND COALESCE(ta.range_end, e.ends_at) >= $2
	`
	args := []interface{}{end, start}

	if memberID != "" {
		query += ` AND ta.member_id = $3`
		args = append(args, memberID)
	} else {
		query += ` AND lower(ta.member_name) = lower($3) AND lower(ta.member_role) = lower($4)`
		args = append(args, memberName, memberRole)
	}

	if excludingEventID != "" {
		if memberID != "" {
			query += ` AND e.id <> $4`
		} else {
			query += ` AND e.id <> $5`
		}
		args = append(args, excludingEventID)
	}

	query += ` ORDER BY e.starts_at, e.id`

	var holds []*TeamHold
	if err := r.db.SelectContext(ctx, &holds, query, args...); err != nil {
		return nil, err
	}

	return holds, nil
}
