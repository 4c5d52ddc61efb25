package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/repository"
	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/service"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/httputil"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
)

// AllocationHandler handles reservation and lifecycle endpoints
type AllocationHandler struct {
	reservations *service.ReservationService
	lifecycle    *service.LifecycleService
	allocations  *repository.AllocationRepository
	logger       *logger.Logger
}

// NewAllocationHandler creates a new allocation handler
func NewAllocationHandler(
	reservations *service.ReservationService,
	lifecycle *service.LifecycleService,
	allocations *repository.AllocationRepository,
	log *logger.Logger,
) *AllocationHandler {
	return &AllocationHandler{
		reservations: reservations,
		lifecycle:    lifecycle,
		allocations:  allocations,
		logger:       log,
	}
}

// RegisterRoutes registers allocation routes
func (h *AllocationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/allocations", func(r chi.Router) {
		r.Post("/", h.Reserve)
		r.Post("/batch", h.ReserveBatch)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Cancel)
			r.Post("/advance", h.Advance)
			r.Post("/return", h.Return)
		})
	})

	r.Get("/events/{eventID}/allocations", h.ListByEvent)
}

// Reserve handles POST /allocations
func (h *AllocationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req service.ReserveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	allocation, err := h.reservations.Reserve(r.Context(), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, allocation)
}

type batchReserveRequest struct {
	Items []*service.ReserveRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

// ReserveBatch handles POST /allocations/batch
func (h *AllocationHandler) ReserveBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReserveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	allocations, err := h.reservations.ReserveMany(r.Context(), req.Items)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, allocations)
}

// Get handles GET /allocations/{id}
func (h *AllocationHandler) Get(w http.ResponseWriter, r *http.Request) {
	allocation, err := h.allocations.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, allocation)
}

// ListByEvent handles GET /events/{eventID}/allocations
func (h *AllocationHandler) ListByEvent(w http.ResponseWriter, r *http.Request) {
	allocations, err := h.allocations.ListByEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, allocations)
}

type advanceRequest struct {
	Status        string `json:"status" validate:"required,oneof=separated in_transit delivered"`
	Carrier       string `json:"carrier,omitempty" validate:"max=200"`
	DeclaredValue string `json:"declared_value,omitempty" validate:"max=50"`
	SenderName    string `json:"sender_name,omitempty" validate:"max=200"`
	RecipientName string `json:"recipient_name,omitempty" validate:"max=200"`
}

// Advance handles POST /allocations/{id}/advance
func (h *AllocationHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	allocation, err := h.lifecycle.Advance(r.Context(), chi.URLParam(r, "id"), req.Status, service.AdvanceOptions{
		Carrier:       req.Carrier,
		DeclaredValue: req.DeclaredValue,
		SenderName:    req.SenderName,
		RecipientName: req.RecipientName,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, allocation)
}

type returnRequest struct {
	ReturnStatus     string `json:"return_status" validate:"required,oneof=returned_ok returned_damaged lost"`
	QuantityReturned *int   `json:"quantity_returned,omitempty" validate:"omitempty,min=0"`
}

// Return handles POST /allocations/{id}/return
func (h *AllocationHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	id := chi.URLParam(r, "id")

	quantity := -1
	if req.QuantityReturned != nil {
		quantity = *req.QuantityReturned
	}
	if quantity < 0 {
		// Default: everything the allocation held came back.
		existing, err := h.allocations.GetByID(r.Context(), id)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		quantity = existing.QuantityAllocated
		if req.ReturnStatus == repository.ReturnLost {
			quantity = 0
		}
	}

	allocation, err := h.lifecycle.RecordReturn(r.Context(), id, req.ReturnStatus, quantity)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, allocation)
}

// Cancel handles DELETE /allocations/{id}
func (h *AllocationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}
