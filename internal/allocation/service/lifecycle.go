package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/events"
	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/repository"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/database"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/messaging"
)

// AdvanceOptions carries optional transport details. They are stored on the
// allocation and snapshotted into document requests.
type AdvanceOptions struct {
	Carrier       string `json:"carrier,omitempty"`
	DeclaredValue string `json:"declared_value,omitempty"`
	SenderName    string `json:"sender_name,omitempty"`
	RecipientName string `json:"recipient_name,omitempty"`
}

func (o AdvanceOptions) shipping() (*repository.ShippingDetails, error) {
	ship := &repository.ShippingDetails{}
	if o.Carrier != "" {
		ship.Carrier = &o.Carrier
	}
	if o.SenderName != "" {
		ship.SenderName = &o.SenderName
	}
	if o.RecipientName != "" {
		ship.RecipientName = &o.RecipientName
	}
	if o.DeclaredValue != "" {
		value, err := decimal.NewFromString(o.DeclaredValue)
		if err != nil {
			return nil, errors.BadRequest("declared value is not a number: " + o.DeclaredValue)
		}
		ship.DeclaredValue = &value
	}
	return ship, nil
}

// LifecycleService moves allocations through reserved, separated, in_transit,
// delivered, and records returns. Transitions only move forward; the ledger
// is credited back exactly once, when the allocation leaves the active state.
type LifecycleService struct {
	db          *database.DB
	materials   *repository.MaterialRepository
	allocations *repository.AllocationRepository
	eventRepo   *repository.EventRepository
	publisher   *events.AllocationEventPublisher
	logger      *logger.Logger
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(
	db *database.DB,
	materials *repository.MaterialRepository,
	allocations *repository.AllocationRepository,
	eventRepo *repository.EventRepository,
	publisher *events.AllocationEventPublisher,
	log *logger.Logger,
) *LifecycleService {
	return &LifecycleService{
		db:          db,
		materials:   materials,
		allocations: allocations,
		eventRepo:   eventRepo,
		publisher:   publisher,
		logger:      log.WithComponent("lifecycle"),
	}
}

// Advance moves an allocation forward to toStatus. Skipping stages is
// allowed (reserved straight to delivered), moving backward is not.
func (s *LifecycleService) Advance(ctx context.Context, allocationID, toStatus string, opts AdvanceOptions) (*repository.Allocation, error) {
	toRank := repository.StatusRank(toStatus)
	if toRank < 0 {
		return nil, errors.BadRequest("unknown lifecycle status: " + toStatus)
	}
	ship, err := opts.shipping()
	if err != nil {
		return nil, err
	}

	var allocation *repository.Allocation
	var fromStatus string

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		a, err := s.allocations.GetByIDForUpdate(ctx, tx, allocationID)
		if err != nil {
			return err
		}

		if !a.Active() {
			return errors.InvalidTransition(a.ReturnStatus, toStatus)
		}
		if toRank <= repository.StatusRank(a.Status) {
			return errors.InvalidTransition(a.Status, toStatus)
		}

		if err := s.allocations.AdvanceStatusTx(ctx, tx, a.ID, a.Status, toStatus, ship); err != nil {
			return err
		}

		fromStatus = a.Status
		a.Status = toStatus
		if ship.Carrier != nil {
			a.Carrier = ship.Carrier
		}
		if ship.DeclaredValue != nil {
			a.DeclaredValue = ship.DeclaredValue
		}
		if ship.SenderName != nil {
			a.SenderName = ship.SenderName
		}
		if ship.RecipientName != nil {
			a.RecipientName = ship.RecipientName
		}
		allocation = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishAdvanced(ctx, messaging.AllocationAdvancedEvent{
		AllocationID: allocation.ID,
		EventID:      allocation.EventID,
		MaterialID:   allocation.MaterialID,
		FromStatus:   fromStatus,
		ToStatus:     toStatus,
	})
	s.requestDocument(ctx, allocation, toStatus, opts)

	s.logger.Info().
		Str("allocation_id", allocation.ID).
		Str("from", fromStatus).
		Str("to", toStatus).
		Msg("allocation advanced")

	return allocation, nil
}

// Cancel deletes a reservation that was never separated and credits the
// stock back. Anything past reserved must go through the return flow.
func (s *LifecycleService) Cancel(ctx context.Context, allocationID string) error {
	var allocation *repository.Allocation

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		a, err := s.allocations.GetByIDForUpdate(ctx, tx, allocationID)
		if err != nil {
			return err
		}

		if !a.Active() || a.Status != repository.StatusReserved {
			return errors.InvalidTransition(a.Status, "cancelled")
		}

		if err := s.allocations.DeleteTx(ctx, tx, a.ID); err != nil {
			return err
		}

		if err := s.releaseStock(ctx, tx, a, a.QuantityAllocated, repository.UnitAvailable); err != nil {
			return err
		}

		allocation = a
		return nil
	})
	if err != nil {
		return err
	}

	s.publisher.PublishCancelled(ctx, messaging.AllocationReservedEvent{
		AllocationID: allocation.ID,
		EventID:      allocation.EventID,
		MaterialID:   allocation.MaterialID,
		Quantity:     allocation.QuantityAllocated,
	})

	s.logger.Info().
		Str("allocation_id", allocation.ID).
		Msg("reservation cancelled")

	return nil
}

// RecordReturn closes an allocation with a return outcome and credits the
// returned quantity back to the ledger.
func (s *LifecycleService) RecordReturn(ctx context.Context, allocationID, returnStatus string, quantityReturned int) (*repository.Allocation, error) {
	switch returnStatus {
	case repository.ReturnOK, repository.ReturnDamaged, repository.ReturnLost:
	default:
		return nil, errors.BadRequest("unknown return status: " + returnStatus)
	}
	if quantityReturned < 0 {
		return nil, errors.BadRequest("quantity returned must not be negative")
	}

	var allocation *repository.Allocation

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		a, err := s.allocations.GetByIDForUpdate(ctx, tx, allocationID)
		if err != nil {
			return err
		}

		if !a.Active() {
			return errors.InvalidTransition(a.ReturnStatus, returnStatus)
		}
		// Materials can only come back once they left: lost may be declared
		// from in_transit on, physical returns require delivery.
		minRank := repository.StatusRank(repository.StatusDelivered)
		if returnStatus == repository.ReturnLost {
			minRank = repository.StatusRank(repository.StatusInTransit)
		}
		if repository.StatusRank(a.Status) < minRank {
			return errors.InvalidTransition(a.Status, returnStatus)
		}

		if quantityReturned > a.QuantityAllocated {
			return errors.OutOfRange("cannot return more than was allocated")
		}

		if err := s.allocations.RecordReturnTx(ctx, tx, a.ID, returnStatus, quantityReturned); err != nil {
			return err
		}

		unitStatus := repository.UnitAvailable
		if returnStatus != repository.ReturnOK {
			// Damaged and lost units leave circulation until an operator
			// clears them.
			unitStatus = repository.UnitMaintenance
		}
		if err := s.releaseStock(ctx, tx, a, quantityReturned, unitStatus); err != nil {
			return err
		}

		a.ReturnStatus = returnStatus
		a.QuantityReturned = quantityReturned
		allocation = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishReturned(ctx, messaging.AllocationReturnedEvent{
		AllocationID:     allocation.ID,
		EventID:          allocation.EventID,
		MaterialID:       allocation.MaterialID,
		ReturnStatus:     returnStatus,
		QuantityReturned: quantityReturned,
	})

	s.logger.Info().
		Str("allocation_id", allocation.ID).
		Str("return_status", returnStatus).
		Int("quantity_returned", quantityReturned).
		Msg("allocation returned")

	return allocation, nil
}

// releaseStock gives an allocation's holdings back to the ledger: the unit
// for serialized materials, a counter credit for pooled ones.
func (s *LifecycleService) releaseStock(ctx context.Context, tx *sqlx.Tx, a *repository.Allocation, quantity int, unitStatus string) error {
	if a.SerialUnitID != nil {
		return s.materials.SetUnitStatusTx(ctx, tx, a.MaterialID, *a.SerialUnitID, unitStatus)
	}

	if quantity == 0 {
		return nil
	}

	_, err := s.materials.AdjustPooledQuantityTx(ctx, tx, a.MaterialID, quantity)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errors.ErrOutOfRange) {
		return err
	}

	// The credit would push available past total. That means the counters
	// drifted at some point; clamp to total and flag the drift instead of
	// failing the return.
	s.logger.Warn().
		Str("allocation_id", a.ID).
		Str("material_id", a.MaterialID).
		Int("credit", quantity).
		Msg("return credit clamped to quantity_total, ledger drift suspected")

	_, execErr := tx.ExecContext(ctx, `
		UPDATE materials SET quantity_available = quantity_total, updated_at = NOW()
		WHERE id = $1 AND control_mode = 'pooled'
	`, a.MaterialID)
	return execErr
}

// requestDocument fires the document request tied to a stage, if any:
// separation produces a retrieval receipt, departure a transport declaration.
func (s *LifecycleService) requestDocument(ctx context.Context, a *repository.Allocation, toStatus string, opts AdvanceOptions) {
	var kind string
	switch toStatus {
	case repository.StatusSeparated:
		kind = messaging.DocumentRetrievalReceipt
	case repository.StatusInTransit:
		kind = messaging.DocumentTransportDeclaration
	default:
		return
	}

	doc := messaging.DocumentRequestedEvent{
		Kind:          kind,
		AllocationID:  a.ID,
		EventID:       a.EventID,
		MaterialID:    a.MaterialID,
		Quantity:      a.QuantityAllocated,
		Carrier:       opts.Carrier,
		DeclaredValue: opts.DeclaredValue,
		SenderName:    opts.SenderName,
		RecipientName: opts.RecipientName,
	}
	if a.SerialUnitID != nil {
		doc.SerialUnitID = *a.SerialUnitID
	}

	// Names are cosmetic on the document; a failed lookup only degrades it.
	if event, err := s.eventRepo.GetByID(ctx, a.EventID); err == nil {
		doc.EventName = event.Name
	}
	if material, err := s.materials.GetByID(ctx, a.MaterialID); err == nil {
		doc.MaterialName = material.Name
	}

	s.publisher.PublishDocumentRequest(ctx, doc)
}
