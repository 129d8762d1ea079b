package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportFixtures() []*Record {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []*Record{
		{
			ID: "rec-1", OrgID: "org-1", Seq: 1,
			Action: "webhook.registered", Target: "webhook_endpoint", TargetID: "ep-1",
			Severity: SeverityInfo, Category: CategoryPolicyChange, Status: StatusSuccess,
			Details:   map[string]interface{}{"url": "https://hooks.example.com/a"},
			Timestamp: ts, Hash: "hash-1", PreviousHash: GenesisHash,
		},
		{
			ID: "rec-2", OrgID: "org-1", Seq: 2,
			Action: "webhook.delivery_failed", Target: "webhook_delivery", TargetID: "dlv-1",
			Severity: SeverityWarning, Category: CategoryGeneral, Status: StatusFailure,
			ErrorMessage: "retries exhausted",
			Timestamp:    ts.Add(time.Minute), Hash: "hash-2", PreviousHash: "hash-1",
			PreviousRecordID: "rec-1",
		},
	}
}

func TestParseExportFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    ExportFormat
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"ndjson", FormatNDJSON, false},
		{"csv", FormatCSV, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseExportFormat(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
		} else {
			require.NoError(t, err, "input %q", tt.input)
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestExportFormat_ContentType(t *testing.T) {
	assert.Equal(t, "application/json", FormatJSON.ContentType())
	assert.Equal(t, "application/x-ndjson", FormatNDJSON.ContentType())
	assert.Equal(t, "text/csv", FormatCSV.ContentType())
}

func TestExport_JSON(t *testing.T) {
	data, err := Export(exportFixtures(), FormatJSON)
	require.NoError(t, err)

	var decoded []*Record
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "rec-1", decoded[0].ID)
	assert.Equal(t, "webhook.delivery_failed", decoded[1].Action)
}

func TestExport_NDJSON(t *testing.T) {
	data, err := Export(exportFixtures(), FormatNDJSON)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	for i, line := range lines {
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "line %d", i)
	}

	var first Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, GenesisHash, first.PreviousHash)
}

func TestExport_CSV(t *testing.T) {
	data, err := Export(exportFixtures(), FormatCSV)
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus two records")

	header := rows[0]
	assert.Equal(t, "ID", header[0])
	assert.Contains(t, header, "Hash")
	assert.Contains(t, header, "PreviousHash")

	assert.Equal(t, "rec-1", rows[1][0])
	assert.Equal(t, "1", rows[1][2])
	assert.Contains(t, rows[1][15], "hooks.example.com")
	assert.Equal(t, "retries exhausted", rows[2][14])
}

func TestExport_EmptyRecordSet(t *testing.T) {
	data, err := Export(nil, FormatCSV)
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}

func TestExport_UnsupportedFormat(t *testing.T) {
	_, err := Export(exportFixtures(), ExportFormat("xml"))
	assert.Error(t, err)
}
