package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *Record {
	return &Record{
		ID:           "rec-1",
		OrgID:        "org-1",
		UserID:       "user-1",
		Action:       "webhook.registered",
		Target:       "webhook_endpoint",
		TargetID:     "ep-1",
		Details:      map[string]interface{}{"url": "https://hooks.example.com/a"},
		Severity:     SeverityInfo,
		Category:     CategoryPolicyChange,
		Status:       StatusSuccess,
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		PreviousHash: GenesisHash,
	}
}

func TestComputeHash_Deterministic(t *testing.T) {
	rec := sampleRecord()

	h1, err := ComputeHash(rec)
	require.NoError(t, err)
	h2, err := ComputeHash(rec)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestComputeHash_NilDetailsEqualsEmptyDetails(t *testing.T) {
	withNil := sampleRecord()
	withNil.Details = nil
	withEmpty := sampleRecord()
	withEmpty.Details = map[string]interface{}{}

	h1, err := ComputeHash(withNil)
	require.NoError(t, err)
	h2, err := ComputeHash(withEmpty)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestComputeHash_SensitiveToContent(t *testing.T) {
	base := sampleRecord()
	baseHash, err := ComputeHash(base)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"action", func(r *Record) { r.Action = "webhook.deleted" }},
		{"target id", func(r *Record) { r.TargetID = "ep-2" }},
		{"details", func(r *Record) { r.Details = map[string]interface{}{"url": "https://evil.example.com"} }},
		{"timestamp", func(r *Record) { r.Timestamp = r.Timestamp.Add(time.Second) }},
		{"previous hash", func(r *Record) { r.PreviousHash = "0000" }},
		{"status", func(r *Record) { r.Status = StatusFailure }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			tt.mutate(rec)
			h, err := ComputeHash(rec)
			require.NoError(t, err)
			assert.NotEqual(t, baseHash, h, "mutating %s should change the hash", tt.name)
		})
	}
}

func TestComputeHash_IgnoresNonCanonicalFields(t *testing.T) {
	base := sampleRecord()
	baseHash, err := ComputeHash(base)
	require.NoError(t, err)

	// ID, seq and the stored hash itself are outside the hashed payload
	rec := sampleRecord()
	rec.ID = "rec-other"
	rec.Seq = 42
	rec.Hash = "bogus"

	h, err := ComputeHash(rec)
	require.NoError(t, err)
	assert.Equal(t, baseHash, h)
}

func TestFinalize_SurvivesTimestampRoundTrip(t *testing.T) {
	// timestamptz columns keep microseconds only; a record stamped with
	// nanosecond precision must hash the same after a store round-trip.
	rec := sampleRecord()
	rec.Timestamp = time.Date(2026, 1, 2, 12, 0, 0, 123456789, time.UTC)

	require.NoError(t, finalize(rec, nil))

	assert.Equal(t, time.Date(2026, 1, 2, 12, 0, 0, 123456000, time.UTC), rec.Timestamp)

	reread := *rec
	reread.Timestamp = rec.Timestamp.Truncate(time.Microsecond)
	computed, err := ComputeHash(&reread)
	require.NoError(t, err)
	assert.Equal(t, rec.Hash, computed)
}

func TestFinalize_Genesis(t *testing.T) {
	rec := sampleRecord()
	rec.PreviousHash = ""

	require.NoError(t, finalize(rec, nil))

	assert.Equal(t, GenesisHash, rec.PreviousHash)
	assert.Empty(t, rec.PreviousRecordID)
	assert.Equal(t, int64(1), rec.Seq)
	assert.NotEmpty(t, rec.Hash)
}

func TestFinalize_LinksToHead(t *testing.T) {
	rec := sampleRecord()
	head := &ChainHead{ID: "rec-0", Hash: "abc123", Seq: 7}

	require.NoError(t, finalize(rec, head))

	assert.Equal(t, "abc123", rec.PreviousHash)
	assert.Equal(t, "rec-0", rec.PreviousRecordID)
	assert.Equal(t, int64(8), rec.Seq)

	computed, err := ComputeHash(rec)
	require.NoError(t, err)
	assert.Equal(t, computed, rec.Hash)
}
