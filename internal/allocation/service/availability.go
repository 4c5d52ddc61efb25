// Package service implements the allocation engine: availability math,
// conflict detection, the reservation coordinator, and the lifecycle tracker.
package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/repository"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
)

// Availability is the result of a free-count computation for one material
type Availability struct {
	MaterialID         string `json:"material_id"`
	ControlMode        string `json:"control_mode"`
	QuantityTotal      int    `json:"quantity_total"`
	LedgerAvailable    int    `json:"ledger_available"`
	AllocatedElsewhere int    `json:"allocated_elsewhere"`
	FreeCount          int    `json:"free_count"`
	Requested          int    `json:"requested"`
	Available          bool   `json:"available"`
}

// AvailabilityService computes free counts.
//
// Ledger counters are debited the moment a reservation commits, so the stored
// available count already excludes every active allocation. Excluding an
// event therefore means crediting that event's own active holdings back, not
// subtracting other events again.
type AvailabilityService struct {
	materials   *repository.MaterialRepository
	allocations *repository.AllocationRepository
	logger      *logger.Logger
}

// NewAvailabilityService creates a new availability service
func NewAvailabilityService(
	materials *repository.MaterialRepository,
	allocations *repository.AllocationRepository,
	log *logger.Logger,
) *AvailabilityService {
	return &AvailabilityService{
		materials:   materials,
		allocations: allocations,
		logger:      log.WithComponent("availability"),
	}
}

// Check computes whether quantityNeeded units of a material are free.
// excludingEventID may be empty; when set, that event's own active holdings
// do not count against the request.
func (s *AvailabilityService) Check(ctx context.Context, materialID string, quantityNeeded int, excludingEventID string) (*Availability, error) {
	if quantityNeeded <= 0 {
		return nil, errors.BadRequest("quantity needed must be positive")
	}

	material, err := s.materials.GetByID(ctx, materialID)
	if err != nil {
		return nil, s.storeError(err)
	}

	totalActive, err := s.allocations.SumActiveQuantity(ctx, materialID, "")
	if err != nil {
		return nil, s.storeError(err)
	}

	elsewhere := totalActive
	if excludingEventID != "" {
		elsewhere, err = s.allocations.SumActiveQuantity(ctx, materialID, excludingEventID)
		if err != nil {
			return nil, s.storeError(err)
		}
	}

	return s.compute(material, quantityNeeded, totalActive, elsewhere), nil
}

// CheckTx runs the same computation inside an open transaction. The
// reservation coordinator calls this so the free count it acts on cannot go
// stale before the allocation insert.
func (s *AvailabilityService) CheckTx(ctx context.Context, tx *sqlx.Tx, materialID string, quantityNeeded int, excludingEventID string) (*Availability, error) {
	if quantityNeeded <= 0 {
		return nil, errors.BadRequest("quantity needed must be positive")
	}

	material, err := s.materials.GetByIDTx(ctx, tx, materialID)
	if err != nil {
		return nil, s.storeError(err)
	}

	totalActive, err := s.allocations.SumActiveQuantityTx(ctx, tx, materialID, "")
	if err != nil {
		return nil, s.storeError(err)
	}

	elsewhere := totalActive
	if excludingEventID != "" {
		elsewhere, err = s.allocations.SumActiveQuantityTx(ctx, tx, materialID, excludingEventID)
		if err != nil {
			return nil, s.storeError(err)
		}
	}

	return s.compute(material, quantityNeeded, totalActive, elsewhere), nil
}

func (s *AvailabilityService) compute(material *repository.Material, quantityNeeded, totalActive, elsewhere int) *Availability {
	if material.ControlMode == repository.ControlModeSerialized && material.QuantityTotal == 0 {
		// Serialized material with no registered units: nothing can ever be
		// free. Flag it so operators register units instead of chasing
		// phantom stock.
		s.logger.Warn().
			Str("material_id", material.ID).
			Msg("serialized material has no registered units")
	}

	ownActive := totalActive - elsewhere
	free := material.QuantityAvailable + ownActive
	if free > material.QuantityTotal {
		free = material.QuantityTotal
	}
	if free < 0 {
		free = 0
	}

	return &Availability{
		MaterialID:         material.ID,
		ControlMode:        material.ControlMode,
		QuantityTotal:      material.QuantityTotal,
		LedgerAvailable:    material.QuantityAvailable,
		AllocatedElsewhere: elsewhere,
		FreeCount:          free,
		Requested:          quantityNeeded,
		Available:          free >= quantityNeeded,
	}
}

// storeError maps a lookup failure: missing rows pass through as NotFound,
// anything else means the check could not complete and must not be read as
// "available".
func (s *AvailabilityService) storeError(err error) error {
	if errors.Is(err, errors.ErrNotFound) {
		return err
	}
	return errors.DetectionUnavailable(err)
}
