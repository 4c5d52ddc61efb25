package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/events"
	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/repository"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/messaging"
)

// CreateMaterialRequest describes a new catalog entry
type CreateMaterialRequest struct {
	Name          string          `json:"name" validate:"required,min=2,max=200"`
	Category      string          `json:"category" validate:"required,min=2,max=100"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	ControlMode   string          `json:"control_mode" validate:"omitempty,oneof=pooled serialized"`
	QuantityTotal int             `json:"quantity_total" validate:"omitempty,min=0"`
}

// UpdateMaterialRequest describes a catalog edit
type UpdateMaterialRequest struct {
	Name      string          `json:"name" validate:"required,min=2,max=200"`
	Category  string          `json:"category" validate:"required,min=2,max=100"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	IsActive  *bool           `json:"is_active"`
}

// CreateUnitRequest registers a serial unit
type CreateUnitRequest struct {
	Serial     string     `json:"serial" validate:"required,min=1,max=100"`
	Location   *string    `json:"location,omitempty"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
}

// MaterialService is the catalog and ledger surface
type MaterialService struct {
	materials *repository.MaterialRepository
	publisher *events.AllocationEventPublisher
	logger    *logger.Logger
}

// NewMaterialService creates a new material service
func NewMaterialService(
	materials *repository.MaterialRepository,
	publisher *events.AllocationEventPublisher,
	log *logger.Logger,
) *MaterialService {
	return &MaterialService{
		materials: materials,
		publisher: publisher,
		logger:    log.WithComponent("material"),
	}
}

// Create creates a material. Pooled materials start with all stock free;
// serialized ones start empty and gain stock as units are registered.
func (s *MaterialService) Create(ctx context.Context, req *CreateMaterialRequest) (*repository.Material, error) {
	controlMode := req.ControlMode
	if controlMode == "" {
		controlMode = repository.ControlModePooled
	}

	material := &repository.Material{
		Name:        req.Name,
		Category:    req.Category,
		UnitPrice:   req.UnitPrice,
		ControlMode: controlMode,
		IsActive:    true,
	}

	if controlMode == repository.ControlModePooled {
		material.QuantityTotal = req.QuantityTotal
		material.QuantityAvailable = req.QuantityTotal
	} else if req.QuantityTotal != 0 {
		return nil, errors.BadRequest("serialized materials derive quantities from registered units")
	}

	if err := s.materials.Create(ctx, material); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("material_id", material.ID).
		Str("control_mode", material.ControlMode).
		Msg("material created")

	return material, nil
}

// Get gets a material by ID
func (s *MaterialService) Get(ctx context.Context, id string) (*repository.Material, error) {
	return s.materials.GetByID(ctx, id)
}

// List lists materials with pagination
func (s *MaterialService) List(ctx context.Context, page, perPage int, category string) ([]*repository.Material, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return s.materials.List(ctx, page, perPage, category)
}

// Update updates a material's catalog fields
func (s *MaterialService) Update(ctx context.Context, id string, req *UpdateMaterialRequest) (*repository.Material, error) {
	material, err := s.materials.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	material.Name = req.Name
	material.Category = req.Category
	material.UnitPrice = req.UnitPrice
	if req.IsActive != nil {
		material.IsActive = *req.IsActive
	}

	if err := s.materials.Update(ctx, material); err != nil {
		return nil, err
	}

	return s.materials.GetByID(ctx, id)
}

// Delete soft deletes a material
func (s *MaterialService) Delete(ctx context.Context, id string) error {
	return s.materials.SoftDelete(ctx, id)
}

// AdjustStock applies a manual stock delta to a pooled material, outside the
// allocation flow (purchases, write-offs, inventory corrections).
func (s *MaterialService) AdjustStock(ctx context.Context, id string, delta int, reason string) (*repository.Material, error) {
	if delta == 0 {
		return nil, errors.BadRequest("delta must not be zero")
	}

	material, err := s.materials.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if material.ControlMode != repository.ControlModePooled {
		return nil, errors.BadRequest("stock adjustments only apply to pooled materials")
	}

	updated, err := s.materials.AdjustTotalQuantity(ctx, id, delta)
	if err != nil {
		return nil, err
	}

	s.publisher.PublishStockAdjusted(ctx, messaging.StockAdjustedEvent{
		MaterialID:  id,
		Delta:       delta,
		NewQuantity: updated.QuantityAvailable,
		Reason:      reason,
	})

	s.logger.Info().
		Str("material_id", id).
		Int("delta", delta).
		Str("reason", reason).
		Msg("stock adjusted")

	return updated, nil
}

// ListUnits lists a material's serial units
func (s *MaterialService) ListUnits(ctx context.Context, materialID, statusFilter string) ([]*repository.SerialUnit, error) {
	if _, err := s.materials.GetByID(ctx, materialID); err != nil {
		return nil, err
	}
	return s.materials.ListUnits(ctx, materialID, statusFilter)
}

// CreateUnit registers a serial unit for a serialized material
func (s *MaterialService) CreateUnit(ctx context.Context, materialID string, req *CreateUnitRequest) (*repository.SerialUnit, error) {
	material, err := s.materials.GetByID(ctx, materialID)
	if err != nil {
		return nil, err
	}
	if material.ControlMode != repository.ControlModeSerialized {
		return nil, errors.BadRequest("units can only be registered on serialized materials")
	}

	unit := &repository.SerialUnit{
		MaterialID: materialID,
		Serial:     req.Serial,
		Status:     repository.UnitAvailable,
		Location:   req.Location,
		AcquiredAt: req.AcquiredAt,
	}

	if err := s.materials.CreateUnit(ctx, unit); err != nil {
		return nil, err
	}

	// Registering a unit grows the projection; bring the cached counters up.
	if err := s.materials.SetUnitStatus(ctx, materialID, unit.ID, repository.UnitAvailable); err != nil {
		s.logger.Warn().Err(err).Str("unit_id", unit.ID).Msg("counter refresh after unit registration failed")
	}

	return unit, nil
}

// SetUnitStatus moves a unit between available and maintenance. in_use is
// owned by the allocation flow and cannot be set by hand.
func (s *MaterialService) SetUnitStatus(ctx context.Context, materialID, unitID, status string) (*repository.SerialUnit, error) {
	if status != repository.UnitAvailable && status != repository.UnitMaintenance {
		return nil, errors.BadRequest("unit status must be available or maintenance")
	}

	unit, err := s.materials.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit.MaterialID != materialID {
		return nil, errors.NotFound("serial unit")
	}
	if unit.Status == repository.UnitInUse {
		return nil, errors.Conflict("unit is held by an active allocation")
	}

	if err := s.materials.SetUnitStatus(ctx, materialID, unitID, status); err != nil {
		return nil, err
	}

	return s.materials.GetUnit(ctx, unitID)
}
