package audit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamflow/relay/pkg/observability"
)

func discardLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

type failingStore struct {
	Store
}

func (failingStore) Append(ctx context.Context, rec *Record) error {
	return errors.New("store unavailable")
}

func TestRecorder_Append(t *testing.T) {
	store := NewMemoryStore()
	recorder := NewRecorder(store, discardLogger())
	ctx := context.Background()

	recorder.Append(ctx, "org-1", Entry{
		Action:   "webhook.registered",
		Target:   "webhook_endpoint",
		TargetID: "ep-1",
		UserID:   "user-1",
	})

	records, err := store.List(ctx, "org-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "webhook.registered", rec.Action)
	assert.Equal(t, int64(1), rec.Seq)
	assert.NotEmpty(t, rec.Hash)
	assert.False(t, rec.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), rec.Timestamp, time.Minute)
}

func TestRecorder_Append_AppliesDefaults(t *testing.T) {
	store := NewMemoryStore()
	recorder := NewRecorder(store, discardLogger())
	ctx := context.Background()

	recorder.Append(ctx, "org-1", Entry{Action: "webhook.registered", Target: "webhook_endpoint"})

	records, err := store.List(ctx, "org-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, SeverityInfo, records[0].Severity)
	assert.Equal(t, CategoryGeneral, records[0].Category)
	assert.Equal(t, StatusSuccess, records[0].Status)
}

func TestRecorder_Append_EmptyScopeGoesToSystem(t *testing.T) {
	store := NewMemoryStore()
	recorder := NewRecorder(store, discardLogger())
	ctx := context.Background()

	recorder.Append(ctx, "", Entry{Action: "janitor.retention", Target: "audit_events"})

	records, err := store.List(ctx, SystemScope, 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, SystemScope, records[0].OrgID)
}

func TestRecorder_Append_StoreFailureIsSwallowed(t *testing.T) {
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_audit_dropped_total"})
	appends := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_audit_appends_total"})
	recorder := NewRecorder(failingStore{}, discardLogger(), WithRecorderMetrics(appends, dropped))

	// Must not panic or propagate the store error
	recorder.Append(context.Background(), "org-1", Entry{Action: "x", Target: "y"})

	assert.Equal(t, float64(1), testutil.ToFloat64(dropped))
	assert.Equal(t, float64(0), testutil.ToFloat64(appends))
}

func TestRecorder_Append_CountsSuccesses(t *testing.T) {
	appends := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_audit_appends_total"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_audit_dropped_total"})
	recorder := NewRecorder(NewMemoryStore(), discardLogger(), WithRecorderMetrics(appends, dropped))

	recorder.Append(context.Background(), "org-1", Entry{Action: "x", Target: "y"})
	recorder.Append(context.Background(), "org-1", Entry{Action: "x", Target: "y"})

	assert.Equal(t, float64(2), testutil.ToFloat64(appends))
	assert.Equal(t, float64(0), testutil.ToFloat64(dropped))
}

func TestRecorder_NilRecorderIsSafe(t *testing.T) {
	var recorder *Recorder
	assert.NotPanics(t, func() {
		recorder.Append(context.Background(), "org-1", Entry{Action: "x", Target: "y"})
	})
}
