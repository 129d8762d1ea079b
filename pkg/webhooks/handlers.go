package webhooks

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/streamflow/relay/pkg/httputil"
	"github.com/streamflow/relay/pkg/observability"
)

// Handlers exposes the webhook pipeline over HTTP
type Handlers struct {
	registry *Registry
	emitter  *Emitter
	engine   *Engine
	store    Store
	logger   *observability.Logger
}

// NewHandlers creates webhook HTTP handlers
func NewHandlers(registry *Registry, emitter *Emitter, engine *Engine, store Store, logger *observability.Logger) *Handlers {
	return &Handlers{
		registry: registry,
		emitter:  emitter,
		engine:   engine,
		store:    store,
		logger:   logger,
	}
}

// RegisterRoutes registers webhook routes on the router
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/orgs/{orgId}/webhooks", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/orgs/{orgId}/webhooks", h.List).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/orgs/{orgId}/webhooks/stats", h.GetStats).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/orgs/{orgId}/webhooks/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/orgs/{orgId}/webhooks/{id}", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/orgs/{orgId}/webhooks/{id}/activate", h.Activate).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/orgs/{orgId}/webhooks/{id}/deactivate", h.Deactivate).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/orgs/{orgId}/webhooks/{id}/rotate-secret", h.RotateSecret).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/orgs/{orgId}/webhooks/{id}/deliveries", h.ListDeliveries).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/orgs/{orgId}/deliveries/{deliveryId}/cancel", h.CancelDelivery).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/orgs/{orgId}/events", h.Emit).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/orgs/{orgId}/events", h.ListEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/event-types", h.ListEventTypes).Methods(http.MethodGet)
}

type registerRequest struct {
	URL         string      `json:"url"`
	Events      []EventType `json:"events"`
	Description string      `json:"description,omitempty"`
}

// Register creates a new webhook endpoint. The response includes the secret;
// it is not retrievable afterwards.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ep, err := h.registry.Register(r.Context(), mux.Vars(r)["orgId"], req.URL, req.Events, req.Description)
	if err != nil {
		if IsValidationError(err) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		h.logger.WithError(err).Error("failed to register endpoint")
		httputil.WriteInternalError(w, "failed to register endpoint")
		return
	}

	httputil.WriteCreated(w, ep)
}

// List returns the org's endpoints with secrets redacted
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.registry.List(r.Context(), mux.Vars(r)["orgId"])
	if err != nil {
		h.logger.WithError(err).Error("failed to list endpoints")
		httputil.WriteInternalError(w, "failed to list endpoints")
		return
	}
	if endpoints == nil {
		endpoints = []*Endpoint{}
	}
	for _, ep := range endpoints {
		ep.Secret = ""
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"endpoints": endpoints,
		"count":     len(endpoints),
	})
}

// Get returns one endpoint with the secret redacted
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	ep, err := h.endpointForOrg(w, r)
	if ep == nil || err != nil {
		return
	}
	ep.Secret = ""
	httputil.WriteJSON(w, http.StatusOK, ep)
}

// Delete removes an endpoint
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	ep, err := h.endpointForOrg(w, r)
	if ep == nil || err != nil {
		return
	}
	if err := h.registry.Delete(r.Context(), ep.OrgID, ep.ID); err != nil {
		h.writeStoreError(w, err, "failed to delete endpoint")
		return
	}
	httputil.WriteNoContent(w)
}

// Activate re-enables a deactivated endpoint
func (h *Handlers) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Deactivate disables an endpoint without deleting it
func (h *Handlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	ep, err := h.endpointForOrg(w, r)
	if ep == nil || err != nil {
		return
	}
	if err := h.registry.SetActive(r.Context(), ep.OrgID, ep.ID, active); err != nil {
		h.writeStoreError(w, err, "failed to update endpoint")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"active": active})
}

// RotateSecret replaces the endpoint's secret and returns the new one. This
// is the only time the rotated secret is shown.
func (h *Handlers) RotateSecret(w http.ResponseWriter, r *http.Request) {
	ep, err := h.endpointForOrg(w, r)
	if ep == nil || err != nil {
		return
	}
	secret, err := h.registry.RotateSecret(r.Context(), ep.OrgID, ep.ID)
	if err != nil {
		h.writeStoreError(w, err, "failed to rotate secret")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

// ListDeliveries returns recent deliveries for an endpoint
func (h *Handlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	ep, err := h.endpointForOrg(w, r)
	if ep == nil || err != nil {
		return
	}

	limit := httputil.ParseQueryInt(r, "limit", 50)
	offset := httputil.ParseQueryInt(r, "offset", 0)

	deliveries, err := h.store.ListDeliveries(r.Context(), ep.ID, limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("failed to list deliveries")
		httputil.WriteInternalError(w, "failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []*Delivery{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}

// CancelDelivery transitions a pending or retrying delivery to CANCELLED.
// The delivery must belong to an endpoint of the org in the path.
func (h *Handlers) CancelDelivery(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deliveryID := vars["deliveryId"]

	delivery, err := h.store.GetDelivery(r.Context(), deliveryID)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "delivery not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to load delivery")
		httputil.WriteInternalError(w, "failed to load delivery")
		return
	}
	ep, err := h.store.GetEndpoint(r.Context(), delivery.EndpointID)
	if err != nil || ep.OrgID != vars["orgId"] {
		httputil.WriteNotFound(w, "delivery not found")
		return
	}

	err = h.engine.Cancel(r.Context(), deliveryID)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "delivery not found")
		return
	}
	if errors.Is(err, ErrTerminalState) {
		httputil.WriteError(w, http.StatusConflict, "delivery is already in a terminal state")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to cancel delivery")
		httputil.WriteInternalError(w, "failed to cancel delivery")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": string(DeliveryCancelled)})
}

// GetStats returns delivery statistics for the org
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context(), mux.Vars(r)["orgId"])
	if err != nil {
		h.logger.WithError(err).Error("failed to aggregate stats")
		httputil.WriteInternalError(w, "failed to aggregate stats")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

type emitRequest struct {
	Type EventType              `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Emit records an event and fans it out to subscribed endpoints. The response
// acknowledges the recorded event only; delivery outcomes are observable via
// the deliveries and stats endpoints.
func (h *Handlers) Emit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	event, err := h.emitter.Emit(r.Context(), mux.Vars(r)["orgId"], req.Type, req.Data)
	if err != nil {
		if IsValidationError(err) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		h.logger.WithError(err).Error("failed to emit event")
		httputil.WriteInternalError(w, "failed to emit event")
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, event)
}

// ListEvents returns recorded events for the org
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := httputil.ParseQueryInt(r, "limit", 50)
	offset := httputil.ParseQueryInt(r, "offset", 0)

	events, err := h.store.ListEvents(r.Context(), mux.Vars(r)["orgId"], limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("failed to list events")
		httputil.WriteInternalError(w, "failed to list events")
		return
	}
	if events == nil {
		events = []*Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// ListEventTypes returns the event catalog
func (h *Handlers) ListEventTypes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"event_types": KnownEventTypes(),
	})
}

// endpointForOrg loads the endpoint and checks it belongs to the org in the
// path; it writes the error response itself and returns nil on failure
func (h *Handlers) endpointForOrg(w http.ResponseWriter, r *http.Request) (*Endpoint, error) {
	vars := mux.Vars(r)
	ep, err := h.store.GetEndpoint(r.Context(), vars["id"])
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "endpoint not found")
		return nil, err
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to load endpoint")
		httputil.WriteInternalError(w, "failed to load endpoint")
		return nil, err
	}
	if ep.OrgID != vars["orgId"] {
		httputil.WriteNotFound(w, "endpoint not found")
		return nil, ErrNotFound
	}
	return ep, nil
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "not found")
		return
	}
	h.logger.WithError(err).Error(message)
	httputil.WriteInternalError(w, message)
}
