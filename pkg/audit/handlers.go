package audit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/streamflow/relay/pkg/httputil"
	"github.com/streamflow/relay/pkg/observability"
)

// Handlers exposes the audit trail over HTTP
type Handlers struct {
	store  Store
	logger *observability.Logger
}

// NewHandlers creates audit HTTP handlers
func NewHandlers(store Store, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

// RegisterRoutes registers audit routes on the router
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/orgs/{orgId}/audit", h.List).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/orgs/{orgId}/audit/export", h.ExportRecords).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/orgs/{orgId}/audit/verify", h.Verify).Methods(http.MethodGet)
}

// List returns audit records for an org, filtered by query params
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	filter, err := h.buildFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	records, err := h.store.Search(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("failed to search audit records")
		httputil.WriteInternalError(w, "failed to search audit records")
		return
	}
	if records == nil {
		records = []*Record{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// ExportRecords streams audit records in the requested format
func (h *Handlers) ExportRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := h.buildFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	// Exports are unbounded unless the caller limits them
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = 0
	}

	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	records, err := h.store.Search(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("failed to load audit records for export")
		httputil.WriteInternalError(w, "failed to load audit records")
		return
	}

	data, err := Export(records, format)
	if err != nil {
		h.logger.WithError(err).Error("failed to encode audit export")
		httputil.WriteInternalError(w, "failed to encode audit export")
		return
	}

	filename := fmt.Sprintf("audit-%s-%s.%s", mux.Vars(r)["orgId"], time.Now().UTC().Format("20060102"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Verify recomputes the org's hash chain and reports its integrity
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["orgId"]

	report, err := VerifyChain(r.Context(), h.store, orgID)
	if err != nil {
		h.logger.WithError(err).WithField("org_id", orgID).Error("failed to verify audit chain")
		httputil.WriteInternalError(w, "failed to verify audit chain")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handlers) buildFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()

	filter := Filter{
		OrgID:    mux.Vars(r)["orgId"],
		Action:   q.Get("action"),
		Category: Category(q.Get("category")),
	}

	filter.Limit = httputil.ParseQueryInt(r, "limit", 100)
	filter.Offset = httputil.ParseQueryInt(r, "offset", 0)

	if s := q.Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid start time: %s", s)
		}
		filter.Start = &t
	}
	if s := q.Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid end time: %s", s)
		}
		filter.End = &t
	}

	return filter, nil
}
