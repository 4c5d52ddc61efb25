package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/database"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
)

// Allocation lifecycle statuses, in forward order
const (
	StatusReserved  = "reserved"
	StatusSeparated = "separated"
	StatusInTransit = "in_transit"
	StatusDelivered = "delivered"
)

// Return statuses. "pending" marks an allocation as active; any other value
// terminates it.
const (
	ReturnPending  = "pending"
	ReturnOK       = "returned_ok"
	ReturnDamaged  = "returned_damaged"
	ReturnLost     = "lost"
)

// statusRank orders the forward lifecycle. Transitions must strictly increase
// the rank.
var statusRank = map[string]int{
	StatusReserved:  0,
	StatusSeparated: 1,
	StatusInTransit: 2,
	StatusDelivered: 3,
}

// StatusRank returns the forward-order rank of a lifecycle status, or -1 for
// an unknown status.
func StatusRank(status string) int {
	rank, ok := statusRank[status]
	if !ok {
		return -1
	}
	return rank
}

// Allocation ties a quantity of a material (or one serial unit) to an event
// for a date range. The range columns are NULL unless the allocation overrides
// the event's own dates.
type Allocation struct {
	ID                string           `db:"id" json:"id"`
	EventID           string           `db:"event_id" json:"event_id"`
	MaterialID        string           `db:"material_id" json:"material_id"`
	SerialUnitID      *string          `db:"serial_unit_id" json:"serial_unit_id,omitempty"`
	QuantityAllocated int              `db:"quantity_allocated" json:"quantity_allocated"`
	Status            string           `db:"status" json:"status"`
	ReturnStatus      string           `db:"return_status" json:"return_status"`
	QuantityReturned  int              `db:"quantity_returned" json:"quantity_returned"`
	RangeStart        *time.Time       `db:"range_start" json:"range_start,omitempty"`
	RangeEnd          *time.Time       `db:"range_end" json:"range_end,omitempty"`
	Carrier           *string          `db:"carrier" json:"carrier,omitempty"`
	DeclaredValue     *decimal.Decimal `db:"declared_value" json:"declared_value,omitempty"`
	SenderName        *string          `db:"sender_name" json:"sender_name,omitempty"`
	RecipientName     *string          `db:"recipient_name" json:"recipient_name,omitempty"`
	IdempotencyKey    *string          `db:"idempotency_key" json:"-"`
	Notes             *string          `db:"notes" json:"notes,omitempty"`
	ReturnedAt        *time.Time       `db:"returned_at" json:"returned_at,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// Active reports whether the allocation still holds stock
func (a *Allocation) Active() bool {
	return a.ReturnStatus == ReturnPending
}

// AllocationHold is an active allocation joined with its event, with the
// effective holding range already resolved (allocation override, else event
// dates). Conflict detection works on these rows.
type AllocationHold struct {
	AllocationID string    `db:"allocation_id"`
	EventID      string    `db:"event_id"`
	EventName    string    `db:"event_name"`
	SerialUnitID *string   `db:"serial_unit_id"`
	Quantity     int       `db:"quantity_allocated"`
	RangeStart   time.Time `db:"eff_start"`
	RangeEnd     time.Time `db:"eff_end"`
}

const allocationColumns = `
	id, event_id, material_id, serial_unit_id, quantity_allocated, status,
	return_status, quantity_returned, range_start, range_end, carrier,
	declared_value, sender_name, recipient_name, idempotency_key,
	notes, returned_at, created_at, updated_at
`

// AllocationRepository persists allocations
type AllocationRepository struct {
	db *database.DB
}

// NewAllocationRepository creates a new allocation repository
func NewAllocationRepository(db *database.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// CreateTx inserts an allocation inside an open transaction. The coordinator
// always creates allocations through its serializable transaction, so there
// is no plain Create.
func (r *AllocationRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, a *Allocation) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = StatusReserved
	}
	if a.ReturnStatus == "" {
		a.ReturnStatus = ReturnPending
	}

	query := `
		INSERT INTO allocations (
			id, event_id, material_id, serial_unit_id, quantity_allocated,
			status, return_status, range_start, range_end, idempotency_key, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := tx.QueryRowxContext(ctx, query,
		a.ID, a.EventID, a.MaterialID, a.SerialUnitID, a.QuantityAllocated,
		a.Status, a.ReturnStatus, a.RangeStart, a.RangeEnd, a.IdempotencyKey, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	return nil
}

// GetByID gets an allocation by ID
func (r *AllocationRepository) GetByID(ctx context.Context, id string) (*Allocation, error) {
	return r.getByID(ctx, r.db, id, false)
}

// GetByIDForUpdate gets an allocation inside a transaction and locks its row
func (r *AllocationRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*Allocation, error) {
	return r.getByID(ctx, tx, id, true)
}

func (r *AllocationRepository) getByID(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (*Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM allocations WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var a Allocation
	err := sqlx.GetContext(ctx, q, &a, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("allocation")
	}
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// GetByIdempotencyKey finds an allocation previously created with the given
// key, if any.
func (r *AllocationRepository) GetByIdempotencyKey(ctx context.Context, key string) (*Allocation, error) {
	return r.getByIdempotencyKey(ctx, r.db, key)
}

// GetByIdempotencyKeyTx looks up a key inside an open transaction
func (r *AllocationRepository) GetByIdempotencyKeyTx(ctx context.Context, tx *sqlx.Tx, key string) (*Allocation, error) {
	return r.getByIdempotencyKey(ctx, tx, key)
}

func (r *AllocationRepository) getByIdempotencyKey(ctx context.Context, q sqlx.QueryerContext, key string) (*Allocation, error) {
	var a Allocation
	query := `SELECT ` + allocationColumns + ` FROM allocations WHERE idempotency_key = $1`

	err := sqlx.GetContext(ctx, q, &a, query, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// FindActiveTuple finds an active allocation for the same (event, material,
// unit) combination. The coordinator uses it to make unkeyed reservation
// requests idempotent.
func (r *AllocationRepository) FindActiveTuple(ctx context.Context, tx *sqlx.Tx, eventID, materialID string, serialUnitID *string) (*Allocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM allocations
		WHERE event_id = $1 AND material_id = $2 AND return_status = 'pending'
	`
	args := []interface{}{eventID, materialID}

	if serialUnitID != nil {
		query += ` AND serial_unit_id = $3`
		args = append(args, *serialUnitID)
	} else {
		query += ` AND serial_unit_id IS NULL`
	}

	query += ` LIMIT 1`

	var a Allocation
	err := sqlx.GetContext(ctx, tx, &a, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// ListByEvent lists all allocations for an event
func (r *AllocationRepository) ListByEvent(ctx context.Context, eventID string) ([]*Allocation, error) {
	var allocations []*Allocation
	query := `SELECT ` + allocationColumns + ` FROM allocations WHERE event_id = $1 ORDER BY created_at`

	if err := r.db.SelectContext(ctx, &allocations, query, eventID); err != nil {
		return nil, err
	}

	return allocations, nil
}

// SumActiveQuantity sums the quantities held by active allocations of a
// material. Allocations of excludingEventID do not count, so callers editing
// an existing event never compete against their own reservation.
func (r *AllocationRepository) SumActiveQuantity(ctx context.Context, materialID, excludingEventID string) (int, error) {
	return r.sumActiveQuantity(ctx, r.db, materialID, excludingEventID)
}

// SumActiveQuantityTx sums active quantities inside an open transaction
func (r *AllocationRepository) SumActiveQuantityTx(ctx context.Context, tx *sqlx.Tx, materialID, excludingEventID string) (int, error) {
	return r.sumActiveQuantity(ctx, tx, materialID, excludingEventID)
}

func (r *AllocationRepository) sumActiveQuantity(ctx context.Context, q sqlx.QueryerContext, materialID, excludingEventID string) (int, error) {
	query := `
		SELECT COALESCE(SUM(quantity_allocated), 0)
		FROM allocations
		WHERE material_id = $1 AND return_status = 'pending'
	`
	args := []interface{}{materialID}

	if excludingEventID != "" {
		query += ` AND event_id <> $2`
		args = append(args, excludingEventID)
	}

	var total int
	if err := sqlx.GetContext(ctx, q, &total, query, args...); err != nil {
		return 0, err
	}

	return total, nil
}

// ListHolds returns the active allocations of a material whose effective
// range touches [start, end], joined with event identity. Endpoints are
// inclusive: ranges sharing only a boundary day still match. Pass a unit id
// to narrow to one serial unit, and excludingEventID to ignore one event's
// own holds.
func (r *AllocationRepository) ListHolds(ctx context.Context, materialID string, serialUnitID *string, start, end time.Time, excludingEventID string) ([]*AllocationHold, error) {
	return r.listHolds(ctx, r.db, materialID, serialUnitID, start, end, excludingEventID)
}

// ListHoldsTx runs the hold query inside an open transaction
func (r *AllocationRepository) ListHoldsTx(ctx context.Context, tx *sqlx.Tx, materialID string, serialUnitID *string, start, end time.Time, excludingEventID string) ([]*AllocationHold, error) {
	return r.listHolds(ctx, tx, materialID, serialUnitID, start, end, excludingEventID)
}

func (r *AllocationRepository) listHolds(ctx context.Context, q sqlx.QueryerContext, materialID string, serialUnitID *string, start, end time.Time, excludingEventID string) ([]*AllocationHold, error) {
	query := `
		SELECT
			a.id AS allocation_id,
			e.id AS event_id,
			e.name AS event_name,
			a.serial_unit_id,
			a.quantity_allocated,
			COALESCE(a.range_start, e.starts_at) AS eff_start,
			COALESCE(a.range_end, e.ends_at) AS eff_end
		FROM allocations a
		JOIN events e ON e.id = a.event_id
		WHERE a.material_id = $1
			AND a.return_status = 'pending'
			AND COALESCE(a.range_start, e.starts_at) <= $2
			AND COALESCE(a.range_end, e.ends_at) >= $3
	`
	args := []interface{}{materialID, end, start}

	if serialUnitID != nil {
		query += ` AND a.serial_unit_id = $4`
		args = append(args, *serialUnitID)
	}
	if excludingEventID != "" {
		if serialUnitID != nil {
			query += ` AND a.event_id <> $5`
		} else {
			query += ` AND a.event_id <> $4`
		}
		args = append(args, excludingEventID)
	}

	query += ` ORDER BY eff_start, e.id`

	var holds []*AllocationHold
	if err := sqlx.SelectContext(ctx, q, &holds, query, args...); err != nil {
		return nil, err
	}

	return holds, nil
}

// ShippingDetails is transport metadata recorded when an allocation moves
// into a shipping stage. Nil fields leave the stored value untouched.
type ShippingDetails struct {
	Carrier       *string
	DeclaredValue *decimal.Decimal
	SenderName    *string
	RecipientName *string
}

// AdvanceStatusTx moves an allocation to a new status, guarded on the
// expected current status so concurrent advances cannot double-apply.
func (r *AllocationRepository) AdvanceStatusTx(ctx context.Context, tx *sqlx.Tx, id, fromStatus, toStatus string, ship *ShippingDetails) error {
	if ship == nil {
		ship = &ShippingDetails{}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE allocations SET
			status = $3,
			carrier = COALESCE($4, carrier),
			declared_value = COALESCE($5, declared_value),
			sender_name = COALESCE($6, sender_name),
			recipient_name = COALESCE($7, recipient_name),
			updated_at = NOW()
		WHERE id = $1 AND status = $2 AND return_status = 'pending'
	`, id, fromStatus, toStatus, ship.Carrier, ship.DeclaredValue, ship.SenderName, ship.RecipientName)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.InvalidTransition(fromStatus, toStatus)
	}

	return nil
}

// RecordReturnTx closes an allocation with a return outcome
func (r *AllocationRepository) RecordReturnTx(ctx context.Context, tx *sqlx.Tx, id, returnStatus string, quantityReturned int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE allocations SET
			return_status = $2, quantity_returned = $3, returned_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND return_status = 'pending'
	`, id, returnStatus, quantityReturned)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.InvalidTransition(ReturnPending, returnStatus)
	}

	return nil
}

// DeleteTx removes an allocation row. Only reserved, never-separated
// allocations may be deleted; the caller validates that before calling.
func (r *AllocationRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	result, err := tx.ExecContext(ctx, `
		DELETE FROM allocations WHERE id = $1 AND status = 'reserved' AND return_status = 'pending'
	`, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.InvalidTransition(StatusReserved, "cancelled")
	}

	return nil
}
