// Package deliveries exposes delivery records and manual dispatch over REST.
package deliveries

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/lastmile/api"
	"github.com/kilianp07/lastmile/auth"
	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/pkg/export"
)

// Service is the part of the mutation API used by the handlers.
type Service interface {
	Create(ctx context.Context, n delivery.NewDelivery, actor delivery.Actor) (*model.Delivery, error)
	Get(ctx context.Context, id string) (*model.Delivery, error)
	NearbyPending(ctx context.Context, p model.Location, radiusKm float64) ([]*model.Delivery, error)
	UpdateStatus(ctx context.Context, id string, u delivery.StatusUpdate, actor delivery.Actor) (delivery.Transition, error)
	AssignDriver(ctx context.Context, id, driverID string, actor delivery.Actor, opts ...delivery.AssignOption) (delivery.Transition, error)
}

// Notifier pushes the outcome of REST mutations to connected parties.
type Notifier interface {
	NotifyAssigned(ctx context.Context, d *model.Delivery) error
	NotifyStatus(ctx context.Context, d *model.Delivery) error
}

// Handler serves /deliveries routes.
type Handler struct {
	svc    Service
	notify Notifier
	log    logger.Logger
}

// NewHandler wires a Handler.
func NewHandler(svc Service, notify Notifier, log logger.Logger) *Handler {
	return &Handler{svc: svc, notify: notify, log: log}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux api.Router) {
	mux.HandleFunc("POST /deliveries", h.create)
	mux.HandleFunc("GET /deliveries/nearby", h.nearby)
	mux.HandleFunc("GET /deliveries/{id}", h.get)
	mux.HandleFunc("GET /deliveries/{id}/history", h.history)
	mux.HandleFunc("PATCH /deliveries/{id}/status", h.status)
	mux.HandleFunc("POST /deliveries/{id}/assign", h.assign)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	id, err := api.RequireRole(r, channel.RoleStore, channel.RoleDispatcher)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	var req delivery.NewDelivery
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if !id.HasRole(channel.RoleDispatcher) {
		if req.StoreID != "" && req.StoreID != id.ID {
			api.WriteError(w, r, fmt.Errorf("%w: stores create deliveries for themselves", delivery.ErrUnauthorized))
			return
		}
		req.StoreID = id.ID
	}
	d, err := h.svc.Create(r.Context(), req, id.Actor())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusCreated, d)
}

// visible loads a delivery the caller is a party of.
func (h *Handler) visible(r *http.Request) (*model.Delivery, error) {
	id, err := api.Identity(r)
	if err != nil {
		return nil, err
	}
	d, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if !id.HasRole(channel.RoleDispatcher) && !d.InvolvesParty(id.ID) {
		return nil, fmt.Errorf("%w: %s is not a party of delivery %s", delivery.ErrUnauthorized, id.ID, d.ID)
	}
	return d, nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.visible(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, d)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	d, err := h.visible(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	switch f := export.Format(r.URL.Query().Get("format")); f {
	case export.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.ID+"-history.csv"))
		if err := export.WriteCSV(w, d.TrackingHistory); err != nil {
			h.log.Errorw("write history csv", err, map[string]any{"delivery_id": d.ID})
		}
	case export.FormatJSON, "":
		api.WriteJSON(w, r, http.StatusOK, d.TrackingHistory)
	default:
		api.WriteError(w, r, fmt.Errorf("%w: unsupported format %q", delivery.ErrValidation, f))
	}
}

func (h *Handler) nearby(w http.ResponseWriter, r *http.Request) {
	if _, err := api.RequireRole(r, channel.RoleDriver, channel.RoleDispatcher); err != nil {
		api.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		api.WriteError(w, r, fmt.Errorf("%w: lat and lng are required numbers", delivery.ErrValidation))
		return
	}
	radius := 5.0
	if s := q.Get("radius_km"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			api.WriteError(w, r, fmt.Errorf("%w: radius_km: %v", delivery.ErrValidation, err))
			return
		}
		radius = v
	}
	ds, err := h.svc.NearbyPending(r.Context(), model.NewLocation(lat, lng, ""), radius)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	if ds == nil {
		ds = []*model.Delivery{}
	}
	api.WriteJSON(w, r, http.StatusOK, ds)
}

type statusRequest struct {
	Status                model.Status    `json:"status"`
	Location              *model.Location `json:"location,omitempty"`
	Note                  string          `json:"note,omitempty"`
	EstimatedDeliveryTime *time.Time      `json:"estimatedDeliveryTime,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, err := api.Identity(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	var req statusRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if req.Status == model.StatusDriverAssigned {
		api.WriteError(w, r, fmt.Errorf("%w: use POST /deliveries/{id}/assign", delivery.ErrInvalidTransition))
		return
	}
	t, err := h.svc.UpdateStatus(r.Context(), r.PathValue("id"), delivery.StatusUpdate{
		Status:                req.Status,
		Location:              req.Location,
		Note:                  req.Note,
		EstimatedDeliveryTime: req.EstimatedDeliveryTime,
	}, id.Actor())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	if t.Applied {
		h.push(r.Context(), id, t.Delivery, h.notify.NotifyStatus)
	}
	api.WriteJSON(w, r, http.StatusOK, t.Delivery)
}

type assignRequest struct {
	DriverID string `json:"driverId"`
	Note     string `json:"note,omitempty"`
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	id, err := api.RequireRole(r, channel.RoleDispatcher)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	var req assignRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	var opts []delivery.AssignOption
	if req.Note != "" {
		opts = append(opts, delivery.WithNote(req.Note))
	}
	t, err := h.svc.AssignDriver(r.Context(), r.PathValue("id"), req.DriverID, id.Actor(), opts...)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	h.push(r.Context(), id, t.Delivery, h.notify.NotifyAssigned)
	api.WriteJSON(w, r, http.StatusOK, t.Delivery)
}

// push notifies best effort; the mutation already succeeded.
func (h *Handler) push(ctx context.Context, id auth.Identity, d *model.Delivery, fn func(context.Context, *model.Delivery) error) {
	if err := fn(ctx, d); err != nil {
		h.log.Errorw("notify", err, map[string]any{"delivery_id": d.ID, "actor": id.ID})
	}
}
