package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExportFormat identifies a supported export encoding
type ExportFormat string

const (
	FormatJSON   ExportFormat = "json"
	FormatNDJSON ExportFormat = "ndjson"
	FormatCSV    ExportFormat = "csv"
)

// ParseExportFormat parses a format string, defaulting to JSON
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "ndjson":
		return FormatNDJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

// ContentType returns the MIME type for the format
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Export encodes records in the given format
func Export(records []*Record, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatJSON:
		return exportJSON(records)
	case FormatNDJSON:
		return exportNDJSON(records)
	case FormatCSV:
		return exportCSV(records)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// exportJSON exports audit records as JSON array
func exportJSON(records []*Record) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

// exportNDJSON exports audit records as newline-delimited JSON
func exportNDJSON(records []*Record) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, rec := range records {
		if err := encoder.Encode(rec); err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports audit records as CSV
func exportCSV(records []*Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"OrgID",
		"Seq",
		"Timestamp",
		"Action",
		"Target",
		"TargetID",
		"Severity",
		"Category",
		"Status",
		"UserID",
		"SessionID",
		"IPAddress",
		"UserAgent",
		"ErrorMessage",
		"Details",
		"Hash",
		"PreviousHash",
	}

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		details := ""
		if len(rec.Details) > 0 {
			encoded, err := json.Marshal(rec.Details)
			if err != nil {
				return nil, fmt.Errorf("failed to encode details: %w", err)
			}
			details = string(encoded)
		}

		row := []string{
			rec.ID,
			rec.OrgID,
			strconv.FormatInt(rec.Seq, 10),
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.Action,
			rec.Target,
			rec.TargetID,
			string(rec.Severity),
			string(rec.Category),
			string(rec.Status),
			rec.UserID,
			rec.SessionID,
			rec.IPAddress,
			rec.UserAgent,
			rec.ErrorMessage,
			details,
			rec.Hash,
			rec.PreviousHash,
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
