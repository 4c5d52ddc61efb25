package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/service"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/httputil"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/schedule"
)

const dateLayout = "2006-01-02"

// ConflictHandler handles conflict query endpoints
type ConflictHandler struct {
	conflicts *service.ConflictService
	logger    *logger.Logger
}

// NewConflictHandler creates a new conflict handler
func NewConflictHandler(conflicts *service.ConflictService, log *logger.Logger) *ConflictHandler {
	return &ConflictHandler{
		conflicts: conflicts,
		logger:    log,
	}
}

// RegisterRoutes registers conflict routes
func (h *ConflictHandler) RegisterRoutes(r chi.Router) {
	r.Route("/conflicts", func(r chi.Router) {
		r.Get("/materials/{materialID}", h.MaterialConflicts)
		r.Get("/team", h.TeamConflicts)
	})
}

type conflictResponse struct {
	Conflicts []errors.ConflictingEvent `json:"conflicts"`
	HasClash  bool                      `json:"has_clash"`
}

// MaterialConflicts handles GET /conflicts/materials/{materialID}
func (h *ConflictHandler) MaterialConflicts(w http.ResponseWriter, r *http.Request) {
	candidate, err := parseCandidateRange(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var serialUnitID *string
	if raw := r.URL.Query().Get("serial_unit_id"); raw != "" {
		serialUnitID = &raw
	}

	conflicts, err := h.conflicts.FindMaterialConflicts(
		r.Context(),
		chi.URLParam(r, "materialID"),
		serialUnitID,
		candidate,
		r.URL.Query().Get("excluding_event_id"),
	)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, conflictResponse{
		Conflicts: conflicts,
		HasClash:  len(conflicts) > 0,
	})
}

// TeamConflicts handles GET /conflicts/team
func (h *ConflictHandler) TeamConflicts(w http.ResponseWriter, r *http.Request) {
	candidate, err := parseCandidateRange(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	memberID := r.URL.Query().Get("member_id")
	memberName := r.URL.Query().Get("member_name")
	memberRole := r.URL.Query().Get("member_role")
	if memberID == "" && (memberName == "" || memberRole == "") {
		httputil.Error(w, errors.BadRequest("member_id or member_name plus member_role is required"))
		return
	}

	conflicts, err := h.conflicts.FindTeamConflicts(
		r.Context(),
		memberID,
		memberName,
		memberRole,
		candidate,
		r.URL.Query().Get("excluding_event_id"),
	)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, conflictResponse{
		Conflicts: conflicts,
		HasClash:  len(conflicts) > 0,
	})
}

func parseCandidateRange(r *http.Request) (schedule.DateRange, error) {
	rawStart := r.URL.Query().Get("start")
	rawEnd := r.URL.Query().Get("end")
	if rawStart == "" || rawEnd == "" {
		return schedule.DateRange{}, errors.BadRequest("start and end dates are required")
	}

	start, err := time.Parse(dateLayout, rawStart)
	if err != nil {
		return schedule.DateRange{}, errors.BadRequest("start must be a YYYY-MM-DD date")
	}
	end, err := time.Parse(dateLayout, rawEnd)
	if err != nil {
		return schedule.DateRange{}, errors.BadRequest("end must be a YYYY-MM-DD date")
	}

	return schedule.NewDateRange(start, end), nil
}
