package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"parcelflow/internal/logx"
)

// DriverHandler serves HTTP endpoints for driver resources.
type DriverHandler struct {
	uc     driverUsecase
	logger logx.Logger
}

// NewDriverHandler wires a driverUsecase into HTTP handlers.
func NewDriverHandler(logger logx.Logger, uc driverUsecase) *DriverHandler {
	return &DriverHandler{uc: uc, logger: orNop(logger)}
}

// Create handles POST /drivers.
func (h *DriverHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDriverRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}

	d, err := h.uc.Create(r.Context(), req.toModel())
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	w.Header().Set("Location", "/drivers/"+d.ID)
	writeJSON(h.logger, w, r, http.StatusCreated, driverToResponse(d))
}

// GetByID handles GET /drivers/{id}.
func (h *DriverHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	d, err := h.uc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, driverToResponse(d))
}

// ListAvailable handles GET /drivers/available.
func (h *DriverHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	list, err := h.uc.ListAvailable(r.Context())
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, driversToResponse(list))
}

// Activate handles POST /drivers/{id}/activate.
func (h *DriverHandler) Activate(w http.ResponseWriter, r *http.Request) {
	d, err := h.uc.Activate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, driverToResponse(d))
}

// Deactivate handles POST /drivers/{id}/deactivate.
func (h *DriverHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	d, err := h.uc.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, driverToResponse(d))
}
