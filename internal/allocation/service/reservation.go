package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/events"
	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/repository"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/database"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/messaging"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/schedule"
)

// ReserveRequest asks the coordinator to hold stock for an event
type ReserveRequest struct {
	EventID        string     `json:"event_id" validate:"required,uuid"`
	MaterialID     string     `json:"material_id" validate:"required,uuid"`
	Quantity       int        `json:"quantity" validate:"omitempty,min=1"`
	SerialUnitID   *string    `json:"serial_unit_id,omitempty" validate:"omitempty,uuid"`
	RangeStart     *time.Time `json:"range_start,omitempty"`
	RangeEnd       *time.Time `json:"range_end,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
}

// ReservationService is the only write path into allocations. Every reserve
// runs its availability check, conflict check, ledger debit, and allocation
// insert inside one SERIALIZABLE transaction, so two concurrent requests for
// the last unit cannot both commit.
type ReservationService struct {
	db           *database.DB
	materials    *repository.MaterialRepository
	allocations  *repository.AllocationRepository
	eventRepo    *repository.EventRepository
	availability *AvailabilityService
	conflicts    *ConflictService
	publisher    *events.AllocationEventPublisher
	logger       *logger.Logger
}

// NewReservationService creates a new reservation coordinator
func NewReservationService(
	db *database.DB,
	materials *repository.MaterialRepository,
	allocations *repository.AllocationRepository,
	eventRepo *repository.EventRepository,
	availability *AvailabilityService,
	conflicts *ConflictService,
	publisher *events.AllocationEventPublisher,
	log *logger.Logger,
) *ReservationService {
	return &ReservationService{
		db:           db,
		materials:    materials,
		allocations:  allocations,
		eventRepo:    eventRepo,
		availability: availability,
		conflicts:    conflicts,
		publisher:    publisher,
		logger:       log.WithComponent("reservation"),
	}
}

// Reserve creates one allocation, or returns the existing one when the
// request replays a previous reservation (same idempotency key, or same
// event/material/unit tuple still active).
func (s *ReservationService) Reserve(ctx context.Context, req *ReserveRequest) (*repository.Allocation, error) {
	if err := s.normalize(req); err != nil {
		return nil, err
	}

	var allocation *repository.Allocation
	var created bool

	err := s.db.Serializable(ctx, func(tx *sqlx.Tx) error {
		a, c, err := s.reserveInTx(ctx, tx, req)
		if err != nil {
			return err
		}
		allocation, created = a, c
		return nil
	})
	if err != nil {
		// A concurrent replay of the same key can lose the race to the
		// unique index. The winner's row is the answer.
		if req.IdempotencyKey != "" && errors.Is(err, errors.ErrConflict) {
			if existing, lookupErr := s.allocations.GetByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if created {
		s.publishReserved(ctx, allocation)
	}

	return allocation, nil
}

// ReserveMany reserves several items atomically. All checks and inserts run
// in one serializable transaction: if any item fails, no allocation from the
// batch survives, and the error names the failing item.
func (s *ReservationService) ReserveMany(ctx context.Context, reqs []*ReserveRequest) ([]*repository.Allocation, error) {
	if len(reqs) == 0 {
		return nil, errors.BadRequest("batch must contain at least one item")
	}

	for i, req := range reqs {
		if err := s.normalize(req); err != nil {
			return nil, batchError(i, err)
		}
	}

	allocations := make([]*repository.Allocation, len(reqs))
	createdFlags := make([]bool, len(reqs))

	err := s.db.Serializable(ctx, func(tx *sqlx.Tx) error {
		for i, req := range reqs {
			a, created, err := s.reserveInTx(ctx, tx, req)
			if err != nil {
				return batchError(i, err)
			}
			allocations[i] = a
			createdFlags[i] = created
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, allocation := range allocations {
		if createdFlags[i] {
			s.publishReserved(ctx, allocation)
		}
	}

	return allocations, nil
}

// reserveInTx performs the check-then-commit core for one request. The
// returned bool is false when the request replayed an existing allocation.
func (s *ReservationService) reserveInTx(ctx context.Context, tx *sqlx.Tx, req *ReserveRequest) (*repository.Allocation, bool, error) {
	if req.IdempotencyKey != "" {
		existing, err := s.allocations.GetByIdempotencyKeyTx(ctx, tx, req.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	event, err := s.eventRepo.GetByIDTx(ctx, tx, req.EventID)
	if err != nil {
		return nil, false, err
	}

	material, err := s.materials.GetByIDTx(ctx, tx, req.MaterialID)
	if err != nil {
		return nil, false, err
	}
	if !material.IsActive {
		return nil, false, errors.BadRequest("material is inactive")
	}

	candidate := effectiveRange(event, req.RangeStart, req.RangeEnd)

	serialized := material.ControlMode == repository.ControlModeSerialized
	// A serialized allocation holds exactly one unit. Granting fewer units
	// than asked would report success on an under-provisioned event, so
	// multi-unit requests are rejected outright.
	if serialized && req.Quantity > 1 {
		return nil, false, errors.BadRequest("serialized materials are reserved one unit per allocation; submit a batch with one item per unit")
	}

	// Unkeyed requests are idempotent on the (event, material, unit) tuple:
	// while an active allocation for the tuple exists, replaying the request
	// returns it instead of stacking a second hold.
	if !serialized || req.SerialUnitID != nil {
		existing, err := s.allocations.FindActiveTuple(ctx, tx, req.EventID, req.MaterialID, req.SerialUnitID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	quantity := req.Quantity

	avail, err := s.availability.CheckTx(ctx, tx, req.MaterialID, quantity, "")
	if err != nil {
		return nil, false, err
	}
	if !avail.Available {
		return nil, false, errors.InsufficientStock(avail.FreeCount, quantity)
	}

	allocation := &repository.Allocation{
		EventID:           req.EventID,
		MaterialID:        req.MaterialID,
		QuantityAllocated: quantity,
		RangeStart:        req.RangeStart,
		RangeEnd:          req.RangeEnd,
		Notes:             req.Notes,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		allocation.IdempotencyKey = &key
	}

	if serialized {
		unitID := ""
		if req.SerialUnitID != nil {
			unitID = *req.SerialUnitID
		}

		unit, err := s.materials.LockAvailableUnit(ctx, tx, req.MaterialID, unitID)
		if err != nil {
			return nil, false, err
		}

		conflicts, err := s.conflicts.FindUnitConflictsTx(ctx, tx, req.MaterialID, unit.ID, candidate, "")
		if err != nil {
			return nil, false, err
		}
		if len(conflicts) > 0 {
			return nil, false, errors.DateConflict(conflicts)
		}

		if err := s.materials.SetUnitStatusTx(ctx, tx, req.MaterialID, unit.ID, repository.UnitInUse); err != nil {
			return nil, false, err
		}
		allocation.SerialUnitID = &unit.ID
	} else {
		if _, err := s.materials.AdjustPooledQuantityTx(ctx, tx, req.MaterialID, -quantity); err != nil {
			if errors.Is(err, errors.ErrOutOfRange) {
				// The guard disagrees with the free-count math. Treat it as
				// insufficient stock rather than exposing ledger drift.
				return nil, false, errors.InsufficientStock(material.QuantityAvailable, quantity)
			}
			return nil, false, err
		}
	}

	if err := s.allocations.CreateTx(ctx, tx, allocation); err != nil {
		return nil, false, err
	}

	return allocation, true, nil
}

func (s *ReservationService) normalize(req *ReserveRequest) error {
	if req.EventID == "" || req.MaterialID == "" {
		return errors.BadRequest("event_id and material_id are required")
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		return errors.BadRequest("quantity must be positive")
	}
	if (req.RangeStart == nil) != (req.RangeEnd == nil) {
		return errors.BadRequest("range_start and range_end must be set together")
	}
	if req.RangeStart != nil && req.RangeEnd.Before(*req.RangeStart) {
		return errors.BadRequest("range_end must not precede range_start")
	}
	return nil
}

func (s *ReservationService) publishReserved(ctx context.Context, a *repository.Allocation) {
	unitID := ""
	if a.SerialUnitID != nil {
		unitID = *a.SerialUnitID
	}

	data := messaging.AllocationReservedEvent{
		AllocationID: a.ID,
		EventID:      a.EventID,
		MaterialID:   a.MaterialID,
		SerialUnitID: unitID,
		Quantity:     a.QuantityAllocated,
	}
	if a.RangeStart != nil {
		data.RangeStart = a.RangeStart.Format("2006-01-02")
	}
	if a.RangeEnd != nil {
		data.RangeEnd = a.RangeEnd.Format("2006-01-02")
	}

	s.publisher.PublishReserved(ctx, data)

	s.logger.Info().
		Str("allocation_id", a.ID).
		Str("event_id", a.EventID).
		Str("material_id", a.MaterialID).
		Int("quantity", a.QuantityAllocated).
		Msg("allocation reserved")
}

// effectiveRange resolves the dates an allocation holds stock for: the
// allocation's own override when present, otherwise the event's dates.
func effectiveRange(event *repository.Event, start, end *time.Time) schedule.DateRange {
	if start != nil && end != nil {
		return schedule.NewDateRange(*start, *end)
	}
	return schedule.NewDateRange(event.StartsAt, event.EndsAt)
}

func batchError(index int, err error) error {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		appErr = errors.Internal(err.Error())
	}

	wrapped := &errors.AppError{
		Err:        appErr,
		Code:       appErr.Code,
		Message:    fmt.Sprintf("batch item %d: %s", index, appErr.Message),
		StatusCode: appErr.StatusCode,
		Details:    map[string]string{"item_index": fmt.Sprintf("%d", index)},
	}
	for k, v := range appErr.Details {
		wrapped.Details[k] = v
	}
	return wrapped
}
