package service

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/repository"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/schedule"
)

// ConflictService finds double-bookings of materials, serial units, and team
// members across events. Any store failure surfaces as DetectionUnavailable:
// "could not check" is never reported as "no conflict".
type ConflictService struct {
	allocations *repository.AllocationRepository
	events      *repository.EventRepository
	logger      *logger.Logger
}

// NewConflictService creates a new conflict service
func NewConflictService(
	allocations *repository.AllocationRepository,
	events *repository.EventRepository,
	log *logger.Logger,
) *ConflictService {
	return &ConflictService{
		allocations: allocations,
		events:      events,
		logger:      log.WithComponent("conflict"),
	}
}

// FindMaterialConflicts returns the events whose active holds of the material
// overlap the candidate range. Pass a serial unit id to narrow the check to
// one unit. The result is empty when the range is clear.
func (s *ConflictService) FindMaterialConflicts(ctx context.Context, materialID string, serialUnitID *string, candidate schedule.DateRange, excludingEventID string) ([]errors.ConflictingEvent, error) {
	holds, err := s.allocations.ListHolds(ctx, materialID, serialUnitID, candidate.Start, candidate.End, excludingEventID)
	if err != nil {
		s.logger.Error().Err(err).Str("material_id", materialID).Msg("hold lookup failed")
		return nil, errors.DetectionUnavailable(err)
	}

	return collapseMaterialHolds(holds, candidate), nil
}

// FindUnitConflictsTx checks one serial unit inside an open transaction. The
// reservation coordinator uses this so the conflict check and the allocation
// insert observe the same snapshot.
func (s *ConflictService) FindUnitConflictsTx(ctx context.Context, tx *sqlx.Tx, materialID, serialUnitID string, candidate schedule.DateRange, excludingEventID string) ([]errors.ConflictingEvent, error) {
	holds, err := s.allocations.ListHoldsTx(ctx, tx, materialID, &serialUnitID, candidate.Start, candidate.End, excludingEventID)
	if err != nil {
		return nil, errors.DetectionUnavailable(err)
	}

	return collapseMaterialHolds(holds, candidate), nil
}

// FindTeamConflicts returns the events already holding the same person over
// the candidate range. Pass a member id when one exists, else name and role
// (matched case-insensitively).
func (s *ConflictService) FindTeamConflicts(ctx context.Context, memberID, memberName, memberRole string, candidate schedule.DateRange, excludingEventID string) ([]errors.ConflictingEvent, error) {
	holds, err := s.events.ListTeamHolds(ctx, memberID, memberName, memberRole, candidate.Start, candidate.End, excludingEventID)
	if err != nil {
		s.logger.Error().Err(err).Str("member", memberName).Str("member_id", memberID).Msg("team hold lookup failed")
		return nil, errors.DetectionUnavailable(err)
	}

	conflicts := make([]errors.ConflictingEvent, 0, len(holds))
	seen := make(map[string]int)

	for _, hold := range holds {
		overlap, ok := candidate.Intersection(schedule.DateRange{Start: hold.RangeStart, End: hold.RangeEnd})
		if !ok {
			continue
		}
		mergeConflict(&conflicts, seen, errors.ConflictingEvent{
			EventID:      hold.EventID,
			EventName:    hold.EventName,
			OverlapStart: overlap.Start,
			OverlapEnd:   overlap.End,
		})
	}

	sortConflicts(conflicts)
	return conflicts, nil
}

// collapseMaterialHolds reduces hold rows to one conflict entry per event,
// with the overlap range clipped to the candidate.
func collapseMaterialHolds(holds []*repository.AllocationHold, candidate schedule.DateRange) []errors.ConflictingEvent {
	conflicts := make([]errors.ConflictingEvent, 0, len(holds))
	seen := make(map[string]int)

	for _, hold := range holds {
		overlap, ok := candidate.Intersection(schedule.DateRange{Start: hold.RangeStart, End: hold.RangeEnd})
		if !ok {
			// The SQL filter is inclusive on both ends too, so this only
			// fires on malformed rows.
			continue
		}
		mergeConflict(&conflicts, seen, errors.ConflictingEvent{
			EventID:      hold.EventID,
			EventName:    hold.EventName,
			OverlapStart: overlap.Start,
			OverlapEnd:   overlap.End,
		})
	}

	sortConflicts(conflicts)
	return conflicts
}

// mergeConflict appends a conflict or widens the overlap of an event already
// present, so several allocations of one event collapse to a single entry.
func mergeConflict(conflicts *[]errors.ConflictingEvent, seen map[string]int, c errors.ConflictingEvent) {
	if i, ok := seen[c.EventID]; ok {
		existing := &(*conflicts)[i]
		if c.OverlapStart.Before(existing.OverlapStart) {
			existing.OverlapStart = c.OverlapStart
		}
		if c.OverlapEnd.After(existing.OverlapEnd) {
			existing.OverlapEnd = c.OverlapEnd
		}
		return
	}

	seen[c.EventID] = len(*conflicts)
	*conflicts = append(*conflicts, c)
}

func sortConflicts(conflicts []errors.ConflictingEvent) {
	sort.Slice(conflicts, func(i, j int) bool {
		if !conflicts[i].OverlapStart.Equal(conflicts[j].OverlapStart) {
			return conflicts[i].OverlapStart.Before(conflicts[j].OverlapStart)
		}
		return conflicts[i].EventID < conflicts[j].EventID
	})
}
