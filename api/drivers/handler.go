// Package drivers exposes the driver's own record over REST.
package drivers

import (
	"context"
	"net/http"

	"github.com/kilianp07/lastmile/api"
	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/model"
)

// Service is the part of the mutation API used by the handlers.
type Service interface {
	SetDriverStatus(ctx context.Context, id string, status model.DriverStatus) (*model.Driver, error)
	UpdateDriverLocation(ctx context.Context, id string, loc model.Location) (*model.Driver, error)
	DriverStatistics(ctx context.Context, driverID string, p delivery.Period) (delivery.Statistics, error)
}

// Handler serves /drivers routes for the authenticated driver.
type Handler struct {
	svc Service
}

// NewHandler returns a Handler backed by svc.
func NewHandler(svc Service) *Handler { return &Handler{svc: svc} }

// Register mounts the routes on mux. Requests must already carry an
// identity, see api.Authenticate.
func (h *Handler) Register(mux api.Router) {
	mux.HandleFunc("PATCH /drivers/status", h.status)
	mux.HandleFunc("PATCH /drivers/location", h.location)
	mux.HandleFunc("GET /drivers/statistics", h.statistics)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, err := api.RequireRole(r, channel.RoleDriver)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	var req statusRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	d, err := h.svc.SetDriverStatus(r.Context(), id.ID, model.DriverStatus(req.Status))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, d)
}

func (h *Handler) location(w http.ResponseWriter, r *http.Request) {
	id, err := api.RequireRole(r, channel.RoleDriver)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	var loc model.Location
	if err := api.DecodeJSON(r, &loc); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if loc.Type == "" {
		loc.Type = "Point"
	}
	d, err := h.svc.UpdateDriverLocation(r.Context(), id.ID, loc)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, d)
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	id, err := api.RequireRole(r, channel.RoleDriver)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	p, err := delivery.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	st, err := h.svc.DriverStatistics(r.Context(), id.ID, p)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, st)
}
