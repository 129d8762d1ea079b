package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamflow/relay/pkg/observability"
)

// Recorder is the write-side entry point for the audit trail. Append is
// best-effort: a failed write is logged and counted but never surfaces as an
// error, so audit recording cannot break the operation being audited.
type Recorder struct {
	store   Store
	logger  *observability.Logger
	appends prometheus.Counter
	dropped prometheus.Counter
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithRecorderMetrics attaches append/dropped counters
func WithRecorderMetrics(appends, dropped prometheus.Counter) RecorderOption {
	return func(r *Recorder) {
		r.appends = appends
		r.dropped = dropped
	}
}

// NewRecorder creates a Recorder backed by the given store
func NewRecorder(store Store, logger *observability.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append records an audit entry under the given scope. Chain fields (seq,
// hash, previous hash) are assigned by the store inside its per-scope
// critical section. Failures are logged and dropped, never returned.
func (r *Recorder) Append(ctx context.Context, scope string, entry Entry) {
	if r == nil || r.store == nil {
		return
	}
	if scope == "" {
		scope = SystemScope
	}

	rec := &Record{
		ID:           uuid.New().String(),
		OrgID:        scope,
		UserID:       entry.UserID,
		SessionID:    entry.SessionID,
		IPAddress:    entry.IPAddress,
		UserAgent:    entry.UserAgent,
		Action:       entry.Action,
		Target:       entry.Target,
		TargetID:     entry.TargetID,
		Details:      entry.Details,
		Severity:     entry.Severity,
		Category:     entry.Category,
		Status:       entry.Status,
		ErrorMessage: entry.ErrorMessage,
		Timestamp:    time.Now().UTC(),
	}
	if rec.Severity == "" {
		rec.Severity = SeverityInfo
	}
	if rec.Category == "" {
		rec.Category = CategoryGeneral
	}
	if rec.Status == "" {
		rec.Status = StatusSuccess
	}

	if err := r.store.Append(ctx, rec); err != nil {
		if r.dropped != nil {
			r.dropped.Inc()
		}
		if r.logger != nil {
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"scope":  scope,
				"action": rec.Action,
				"target": rec.Target,
			}).Error("failed to append audit record, dropping")
		}
		return
	}

	if r.appends != nil {
		r.appends.Inc()
	}
}
