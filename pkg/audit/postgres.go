package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBStore implements Store on PostgreSQL. Append serialization per scope uses
// a transaction-scoped advisory lock keyed on the org id, so concurrent
// appends for the same tenant queue up instead of forking the chain, while
// appends for different tenants proceed in parallel.
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a PostgreSQL-backed audit store
func NewDBStore(db *sql.DB) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &DBStore{db: db}
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return store, nil
}

// ensureTable creates the audit_events table if it doesn't exist
func (s *DBStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		seq BIGINT NOT NULL,
		user_id TEXT,
		session_id TEXT,
		ip_address TEXT,
		user_agent TEXT,
		action TEXT NOT NULL,
		target TEXT NOT NULL,
		target_id TEXT,
		details JSONB,
		severity VARCHAR(20) NOT NULL,
		category VARCHAR(50) NOT NULL,
		status VARCHAR(20) NOT NULL,
		error_message TEXT,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		hash CHAR(64) NOT NULL,
		previous_hash TEXT NOT NULL,
		previous_record_id TEXT,
		UNIQUE (org_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_org_seq ON audit_events(org_id, seq);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action);
	`

	_, err := s.db.Exec(query)
	return err
}

// Append assigns chain fields and inserts the record atomically
func (s *DBStore) Append(ctx context.Context, rec *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Serialize appends per scope for the duration of the transaction
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.OrgID); err != nil {
		return fmt.Errorf("failed to acquire scope lock: %w", err)
	}

	var head *ChainHead
	row := tx.QueryRowContext(ctx,
		`SELECT id, hash, seq FROM audit_events WHERE org_id = $1 ORDER BY seq DESC LIMIT 1`,
		rec.OrgID)

	var h ChainHead
	switch err := row.Scan(&h.ID, &h.Hash, &h.Seq); err {
	case nil:
		head = &h
	case sql.ErrNoRows:
		head = nil
	default:
		return fmt.Errorf("failed to read chain head: %w", err)
	}

	if err := finalize(rec, head); err != nil {
		return err
	}

	detailsJSON, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, org_id, seq,
			user_id, session_id, ip_address, user_agent,
			action, target, target_id, details,
			severity, category, status, error_message,
			timestamp, hash, previous_hash, previous_record_id
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19
		)`,
		rec.ID, rec.OrgID, rec.Seq,
		rec.UserID, rec.SessionID, rec.IPAddress, rec.UserAgent,
		rec.Action, rec.Target, rec.TargetID, detailsJSON,
		rec.Severity, rec.Category, rec.Status, rec.ErrorMessage,
		rec.Timestamp, rec.Hash, rec.PreviousHash, nullable(rec.PreviousRecordID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return tx.Commit()
}

// List returns records for a scope in ascending chain order
func (s *DBStore) List(ctx context.Context, orgID string, limit, offset int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM audit_events WHERE org_id = $1 ORDER BY seq ASC LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Search returns records matching the filter in ascending chain order
func (s *DBStore) Search(ctx context.Context, f Filter) ([]*Record, error) {
	query := selectColumns + ` FROM audit_events WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if f.OrgID != "" {
		query += fmt.Sprintf(" AND org_id = $%d", argPos)
		args = append(args, f.OrgID)
		argPos++
	}
	if f.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argPos)
		args = append(args, f.Action)
		argPos++
	}
	if f.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argPos)
		args = append(args, f.Category)
		argPos++
	}
	if f.Start != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argPos)
		args = append(args, *f.Start)
		argPos++
	}
	if f.End != nil {
		query += fmt.Sprintf(" AND timestamp < $%d", argPos)
		args = append(args, *f.End)
		argPos++
	}

	query += " ORDER BY org_id, seq ASC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, f.Limit)
		argPos++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Scopes returns all org scopes with at least one record
func (s *DBStore) Scopes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT org_id FROM audit_events ORDER BY org_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

// Cleanup deletes records older than the cutoff
func (s *DBStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit records: %w", err)
	}
	return result.RowsAffected()
}

const selectColumns = `SELECT id, org_id, seq,
	user_id, session_id, ip_address, user_agent,
	action, target, target_id, details,
	severity, category, status, error_message,
	timestamp, hash, previous_hash, previous_record_id`

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		var rec Record
		var userID, sessionID, ipAddress, userAgent, targetID, errorMessage, previousRecordID sql.NullString
		var detailsJSON []byte

		err := rows.Scan(
			&rec.ID, &rec.OrgID, &rec.Seq,
			&userID, &sessionID, &ipAddress, &userAgent,
			&rec.Action, &rec.Target, &targetID, &detailsJSON,
			&rec.Severity, &rec.Category, &rec.Status, &errorMessage,
			&rec.Timestamp, &rec.Hash, &rec.PreviousHash, &previousRecordID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}

		rec.UserID = userID.String
		rec.SessionID = sessionID.String
		rec.IPAddress = ipAddress.String
		rec.UserAgent = userAgent.String
		rec.TargetID = targetID.String
		rec.ErrorMessage = errorMessage.String
		rec.PreviousRecordID = previousRecordID.String

		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &rec.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}

		records = append(records, &rec)
	}
	return records, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
