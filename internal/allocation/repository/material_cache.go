package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/database"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
)

// MaterialSnapshot is a denormalized copy of a catalog row, refreshed from
// the catalog change feed. Feed payloads are treated as invalidation signals
// only; the snapshot is always rewritten from the current materials row.
type MaterialSnapshot struct {
	MaterialID  string    `db:"material_id" json:"material_id"`
	Name        string    `db:"name" json:"name"`
	Category    string    `db:"category" json:"category"`
	ControlMode string    `db:"control_mode" json:"control_mode"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	RefreshedAt time.Time `db:"refreshed_at" json:"refreshed_at"`
}

// MaterialSnapshotRepository maintains the material_snapshots projection
type MaterialSnapshotRepository struct {
	db *database.DB
}

// NewMaterialSnapshotRepository creates a new snapshot repository
func NewMaterialSnapshotRepository(db *database.DB) *MaterialSnapshotRepository {
	return &MaterialSnapshotRepository{db: db}
}

// Refresh rewrites the snapshot for a material from its current catalog row.
// A change event for an unknown or deleted material removes the snapshot.
func (r *MaterialSnapshotRepository) Refresh(ctx context.Context, materialID string) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO material_snapshots (material_id, name, category, control_mode, is_active, refreshed_at)
		SELECT m.id, m.name, m.category, m.control_mode, m.is_active, NOW()
		FROM materials m
		WHERE m.id = $1 AND m.deleted_at IS NULL
		ON CONFLICT (material_id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			control_mode = EXCLUDED.control_mode,
			is_active = EXCLUDED.is_active,
			refreshed_at = EXCLUDED.refreshed_at
	`, materialID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return r.Delete(ctx, materialID)
	}

	return nil
}

// Get gets a snapshot by material ID
func (r *MaterialSnapshotRepository) Get(ctx context.Context, materialID string) (*MaterialSnapshot, error) {
	var s MaterialSnapshot
	query := `
		SELECT material_id, name, category, control_mode, is_active, refreshed_at
		FROM material_snapshots WHERE material_id = $1
	`

	err := r.db.GetContext(ctx, &s, query, materialID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("material snapshot")
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// Delete removes a snapshot
func (r *MaterialSnapshotRepository) Delete(ctx context.Context, materialID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM material_snapshots WHERE material_id = $1`, materialID)
	return err
}
