// Package handler exposes the allocation service over HTTP.
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/service"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/httputil"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
)

// MaterialHandler handles material and serial unit endpoints
type MaterialHandler struct {
	materials    *service.MaterialService
	availability *service.AvailabilityService
	logger       *logger.Logger
}

// NewMaterialHandler creates a new material handler
func NewMaterialHandler(
	materials *service.MaterialService,
	availability *service.AvailabilityService,
	log *logger.Logger,
) *MaterialHandler {
	return &MaterialHandler{
		materials:    materials,
		availability: availability,
		logger:       log,
	}
}

// RegisterRoutes registers material routes
func (h *MaterialHandler) RegisterRoutes(r chi.Router) {
	r.Route("/materials", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
			r.Get("/availability", h.Availability)
			r.Post("/stock-adjustments", h.AdjustStock)
			r.Get("/units", h.ListUnits)
			r.Post("/units", h.CreateUnit)
			r.Put("/units/{unitID}/status", h.SetUnitStatus)
		})
	})
}

// List handles GET /materials
func (h *MaterialHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	category := r.URL.Query().Get("category")

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	materials, total, err := h.materials.List(r.Context(), page, perPage, category)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	httputil.JSONWithMeta(w, http.StatusOK, materials, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// Create handles POST /materials
func (h *MaterialHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateMaterialRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	material, err := h.materials.Create(r.Context(), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, material)
}

// Get handles GET /materials/{id}
func (h *MaterialHandler) Get(w http.ResponseWriter, r *http.Request) {
	material, err := h.materials.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, material)
}

// Update handles PUT /materials/{id}
func (h *MaterialHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateMaterialRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	material, err := h.materials.Update(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, material)
}

// Delete handles DELETE /materials/{id}
func (h *MaterialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.materials.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// Availability handles GET /materials/{id}/availability
func (h *MaterialHandler) Availability(w http.ResponseWriter, r *http.Request) {
	quantity := 1
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.Error(w, errors.BadRequest("quantity must be a positive integer"))
			return
		}
		quantity = parsed
	}

	excludingEventID := r.URL.Query().Get("excluding_event_id")

	availability, err := h.availability.Check(r.Context(), chi.URLParam(r, "id"), quantity, excludingEventID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, availability)
}

type adjustStockRequest struct {
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// AdjustStock handles POST /materials/{id}/stock-adjustments
func (h *MaterialHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	material, err := h.materials.AdjustStock(r.Context(), chi.URLParam(r, "id"), req.Delta, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, material)
}

// ListUnits handles GET /materials/{id}/units
func (h *MaterialHandler) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.materials.ListUnits(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("status"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, units)
}

// CreateUnit handles POST /materials/{id}/units
func (h *MaterialHandler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req service.CreateUnitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	unit, err := h.materials.CreateUnit(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, unit)
}

type setUnitStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=available maintenance"`
}

// SetUnitStatus handles PUT /materials/{id}/units/{unitID}/status
func (h *MaterialHandler) SetUnitStatus(w http.ResponseWriter, r *http.Request) {
	var req setUnitStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	unit, err := h.materials.SetUnitStatus(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "unitID"), req.Status)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, unit)
}
