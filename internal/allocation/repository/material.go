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

// Material control modes
const (
	ControlModeSerialized = "serialized"
	ControlModePooled     = "pooled"
)

// Serial unit statuses
const (
	UnitAvailable   = "available"
	UnitInUse       = "in_use"
	UnitMaintenance = "maintenance"
)

// Material represents a catalog entry whose stock the ledger tracks. For
// serialized materials quantity_total/quantity_available are projections
// computed from unit rows; the stored counters are only authoritative for
// pooled materials.
type Material struct {
	ID                string          `db:"id" json:"id"`
	Name              string          `db:"name" json:"name"`
	Category          string          `db:"category" json:"category"`
	UnitPrice         decimal.Decimal `db:"unit_price" json:"unit_price"`
	ControlMode       string          `db:"control_mode" json:"control_mode"`
	QuantityTotal     int             `db:"quantity_total" json:"quantity_total"`
	QuantityAvailable int             `db:"quantity_available" json:"quantity_available"`
	IsActive          bool            `db:"is_active" json:"is_active"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt         *time.Time      `db:"deleted_at" json:"-"`
}

// SerialUnit represents one individually tracked unit of a serialized material
type SerialUnit struct {
	ID                string     `db:"id" json:"id"`
	MaterialID        string     `db:"material_id" json:"material_id"`
	Serial            string     `db:"serial" json:"serial"`
	Status            string     `db:"status" json:"status"`
	Location          *string    `db:"location" json:"location,omitempty"`
	AcquiredAt        *time.Time `db:"acquired_at" json:"acquired_at,omitempty"`
	LastMaintenanceAt *time.Time `db:"last_maintenance_at" json:"last_maintenance_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// materialColumns selects the material row with the serialized projection
// applied: for serialized materials the counters come from unit rows, so the
// cached columns can never drift into an authoritative position.
const materialColumns = `
	m.id, m.name, m.category, m.unit_price, m.control_mode,
	CASE WHEN m.control_mode = 'serialized'
		THEN (SELECT COUNT(*) FROM serial_units su WHERE su.material_id = m.id)::int
		ELSE m.quantity_total
	END AS quantity_total,
	CASE WHEN m.control_mode = 'serialized'
		THEN (SELECT COUNT(*) FROM serial_units su WHERE su.material_id = m.id AND su.status = 'available')::int
		ELSE m.quantity_available
	END AS quantity_available,
	m.is_active, m.created_at, m.updated_at
`

// MaterialRepository is the inventory ledger: it owns Material and SerialUnit
// rows and is the only component that mutates availability counters.
type MaterialRepository struct {
	db *database.DB
}

// NewMaterialRepository creates a new material repository
func NewMaterialRepository(db *database.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

// Create creates a new material
func (r *MaterialRepository) Create(ctx context.Context, m *Material) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.ControlMode == "" {
		m.ControlMode = ControlModePooled
	}

	query := `
		INSERT INTO materials (id, name, category, unit_price, control_mode, quantity_total, quantity_available, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		m.ID, m.Name, m.Category, m.UnitPrice, m.ControlMode,
		m.QuantityTotal, m.QuantityAvailable, m.IsActive,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	return nil
}

// GetByID gets a material by ID
func (r *MaterialRepository) GetByID(ctx context.Context, id string) (*Material, error) {
	return r.getByID(ctx, r.db, id)
}

// GetByIDTx gets a material inside an open transaction
func (r *MaterialRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*Material, error) {
	return r.getByID(ctx, tx, id)
}

func (r *MaterialRepository) getByID(ctx context.Context, q sqlx.QueryerContext, id string) (*Material, error) {
	var m Material
	query := `SELECT ` + materialColumns + ` FROM materials m WHERE m.id = $1 AND m.deleted_at IS NULL`

	err := sqlx.GetContext(ctx, q, &m, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("material")
	}
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// List lists materials with pagination
func (r *MaterialRepository) List(ctx context.Context, page, perPage int, category string) ([]*Material, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM materials WHERE deleted_at IS NULL`
	args := []interface{}{}

	if category != "" {
		countQuery += ` AND category = $1`
		args = append(args, category)
	}

	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	query := `SELECT ` + materialColumns + ` FROM materials m WHERE m.deleted_at IS NULL`
	if category != "" {
		query += ` AND m.category = $1 ORDER BY m.name LIMIT $2 OFFSET $3`
		args = append(args, perPage, offset)
	} else {
		query += ` ORDER BY m.name LIMIT $1 OFFSET $2`
		args = append(args, perPage, offset)
	}

	var materials []*Material
	if err := r.db.SelectContext(ctx, &materials, query, args...); err != nil {
		return nil, 0, err
	}

	return materials, total, nil
}

// Update updates a material's catalog fields. Quantity counters are excluded:
// AdjustPooledQuantity is the only mutation path for availability.
func (r *MaterialRepository) Update(ctx context.Context, m *Material) error {
	query := `
		UPDATE materials SET
			name = $2, category = $3, unit_price = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, m.ID, m.Name, m.Category, m.UnitPrice, m.IsActive)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("material")
	}

	return nil
}

// SoftDelete soft deletes a material
func (r *MaterialRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE materials SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("material")
	}

	return nil
}

// AdjustPooledQuantity applies a delta to a pooled material's available
// counter. The WHERE clause carries the 0 <= available <= total guard so the
// check and the write are a single statement; a rejected guard surfaces as
// OutOfRange, never as a silent partial write.
func (r *MaterialRepository) AdjustPooledQuantity(ctx context.Context, materialID string, delta int) (int, error) {
	return r.adjustPooledQuantity(ctx, r.db, materialID, delta)
}

// AdjustPooledQuantityTx applies a delta inside an open transaction
func (r *MaterialRepository) AdjustPooledQuantityTx(ctx context.Context, tx *sqlx.Tx, materialID string, delta int) (int, error) {
	return r.adjustPooledQuantity(ctx, tx, materialID, delta)
}

func (r *MaterialRepository) adjustPooledQuantity(ctx context.Context, q sqlx.ExtContext, materialID string, delta int) (int, error) {
	query := `
		UPDATE materials
		SET quantity_available = quantity_available + $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL AND control_mode = 'pooled'
			AND quantity_available + $2 >= 0
			AND quantity_available + $2 <= quantity_total
		RETURNING quantity_available
	`

	var newQuantity int
	err := sqlx.GetContext(ctx, q, &newQuantity, query, materialID, delta)
	if err == sql.ErrNoRows {
		// Guard rejected: either the material is missing or the delta would
		// leave the counter outside its bounds.
		if _, getErr := r.getByID(ctx, q, materialID); getErr != nil {
			return 0, getErr
		}
		return 0, errors.OutOfRange("counter mutation would violate 0 <= available <= total")
	}
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return 0, mapped
		}
		return 0, err
	}

	return newQuantity, nil
}

// AdjustTotalQuantity grows or shrinks a pooled material's stock, moving the
// available counter by the same delta. Used when stock is bought or written
// off outside the allocation flow.
func (r *MaterialRepository) AdjustTotalQuantity(ctx context.Context, materialID string, delta int) (*Material, error) {
	query := `
		UPDATE materials
		SET quantity_total = quantity_total + $2,
			quantity_available = quantity_available + $2,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL AND control_mode = 'pooled'
			AND quantity_total + $2 >= 0
			AND quantity_available + $2 >= 0
		RETURNING id
	`

	var id string
	err := r.db.GetContext(ctx, &id, query, materialID, delta)
	if err == sql.ErrNoRows {
		if _, getErr := r.getByID(ctx, r.db, materialID); getErr != nil {
			return nil, getErr
		}
		return nil, errors.OutOfRange("stock adjustment would leave negative counters")
	}
	if err != nil {
		return nil, err
	}

	return r.GetByID(ctx, materialID)
}

// Serial units

// CreateUnit creates a serial unit for a serialized material
func (r *MaterialRepository) CreateUnit(ctx context.Context, u *SerialUnit) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Status == "" {
		u.Status = UnitAvailable
	}

	query := `
		INSERT INTO serial_units (id, material_id, serial, status, location, acquired_at, last_maintenance_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		u.ID, u.MaterialID, u.Serial, u.Status, u.Location, u.AcquiredAt, u.LastMaintenanceAt,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	return nil
}

// ListUnits lists serial units for a material, optionally filtered by status
func (r *MaterialRepository) ListUnits(ctx context.Context, materialID, statusFilter string) ([]*SerialUnit, error) {
	query := `
		SELECT id, material_id, serial, status, location, acquired_at, last_maintenance_at, created_at, updated_at
		FROM serial_units WHERE material_id = $1
	`
	args := []interface{}{materialID}

	if statusFilter != "" {
		query += ` AND status = $2`
		args = append(args, statusFilter)
	}

	query += ` ORDER BY serial`

	var units []*SerialUnit
	if err := r.db.SelectContext(ctx, &units, query, args...); err != nil {
		return nil, err
	}

	return units, nil
}

// GetUnit gets a serial unit by ID
func (r *MaterialRepository) GetUnit(ctx context.Context, unitID string) (*SerialUnit, error) {
	return r.getUnit(ctx, r.db, unitID)
}

func (r *MaterialRepository) getUnit(ctx context.Context, q sqlx.QueryerContext, unitID string) (*SerialUnit, error) {
	var u SerialUnit
	query := `
		SELECT id, material_id, serial, status, location, acquired_at, last_maintenance_at, created_at, updated_at
		FROM serial_units WHERE id = $1
	`

	err := sqlx.GetContext(ctx, q, &u, query, unitID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("serial unit")
	}
	if err != nil {
		return nil, err
	}

	return &u, nil
}

// SetUnitStatus changes a unit's status and refreshes the material's cached
// counters in the same transaction, so unit-level state and the pooled
// projection cannot drift.
func (r *MaterialRepository) SetUnitStatus(ctx context.Context, materialID, unitID, newStatus string) error {
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return r.SetUnitStatusTx(ctx, tx, materialID, unitID, newStatus)
	})
}

// SetUnitStatusTx changes a unit's status inside an open transaction
func (r *MaterialRepository) SetUnitStatusTx(ctx context.Context, tx *sqlx.Tx, materialID, unitID, newStatus string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE serial_units SET status = $3, updated_at = NOW()
		WHERE id = $1 AND material_id = $2
	`, unitID, materialID, newStatus)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("serial unit")
	}

	return r.refreshSerializedCounters(ctx, tx, materialID)
}

// LockAvailableUnit picks an available unit for the material and locks its
// row for the remainder of the transaction. Pass unitID to request a
// specific unit; otherwise the lowest serial wins.
func (r *MaterialRepository) LockAvailableUnit(ctx context.Context, tx *sqlx.Tx, materialID string, unitID string) (*SerialUnit, error) {
	query := `
		SELECT id, material_id, serial, status, location, acquired_at, last_maintenance_at, created_at, updated_at
		FROM serial_units
		WHERE material_id = $1 AND status = 'available'
	`
	args := []interface{}{materialID}

	if unitID != "" {
		query += ` AND id = $2`
		args = append(args, unitID)
	}

	query += ` ORDER BY serial LIMIT 1 FOR UPDATE`

	var u SerialUnit
	err := sqlx.GetContext(ctx, tx, &u, query, args...)
	if err == sql.ErrNoRows {
		if unitID != "" {
			// Distinguish "unit does not exist" from "unit is not free".
			if _, getErr := r.getUnit(ctx, tx, unitID); getErr != nil {
				return nil, getErr
			}
		}
		return nil, errors.InsufficientStock(0, 1)
	}
	if err != nil {
		return nil, err
	}

	return &u, nil
}

// refreshSerializedCounters rewrites the cached counters of a serialized
// material from its unit rows.
func (r *MaterialRepository) refreshSerializedCounters(ctx context.Context, tx *sqlx.Tx, materialID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE materials SET
			quantity_total = (SELECT COUNT(*) FROM serial_units WHERE material_id = $1),
			quantity_available = (SELECT COUNT(*) FROM serial_units WHERE material_id = $1 AND status = 'available'),
			updated_at = NOW()
		WHERE id = $1 AND control_mode = 'serialized'
	`, materialID)
	return err
}
