package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBStore implements Store on PostgreSQL
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a PostgreSQL-backed webhook store
func NewDBStore(db *sql.DB) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &DBStore{db: db}
	if err := store.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure webhook tables: %w", err)
	}
	return store, nil
}

// ensureTables creates the webhook tables if they don't exist
func (s *DBStore) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS webhook_endpoints (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		url TEXT NOT NULL,
		secret TEXT NOT NULL,
		events TEXT[] NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		failure_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL,
		description TEXT,
		last_success_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_webhook_endpoints_org ON webhook_endpoints(org_id);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		data JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_webhook_events_org ON webhook_events(org_id, created_at);

	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id TEXT PRIMARY KEY,
		endpoint_id TEXT NOT NULL REFERENCES webhook_endpoints(id) ON DELETE CASCADE,
		event_id TEXT NOT NULL REFERENCES webhook_events(id),
		status VARCHAR(20) NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_status_code INTEGER,
		last_response TEXT,
		error_message TEXT,
		next_retry_at TIMESTAMP WITH TIME ZONE,
		delivered_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_endpoint ON webhook_deliveries(endpoint_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due ON webhook_deliveries(next_retry_at) WHERE status IN ('PENDING', 'RETRYING');
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *DBStore) CreateEndpoint(ctx context.Context, ep *Endpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_endpoints (
			id, org_id, url, secret, events, active,
			failure_count, max_retries, description,
			last_success_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ep.ID, ep.OrgID, ep.URL, ep.Secret, eventTypeArray(ep.Events), ep.Active,
		ep.FailureCount, ep.MaxRetries, ep.Description,
		ep.LastSuccessAt, ep.CreatedAt, ep.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create endpoint: %w", err)
	}
	return nil
}

const endpointColumns = `id, org_id, url, secret, events, active,
	failure_count, max_retries, description, last_success_at, created_at, updated_at`

func (s *DBStore) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`, id)
	return scanEndpoint(row)
}

func (s *DBStore) ListEndpoints(ctx context.Context, orgID string) ([]*Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints WHERE org_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	defer rows.Close()
	return scanEndpoints(rows)
}

func (s *DBStore) FindActiveEndpoints(ctx context.Context, orgID string, eventType EventType) ([]*Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints
		 WHERE org_id = $1 AND active AND $2 = ANY(events)
		 ORDER BY created_at`, orgID, string(eventType))
	if err != nil {
		return nil, fmt.Errorf("failed to find active endpoints: %w", err)
	}
	defer rows.Close()
	return scanEndpoints(rows)
}

func (s *DBStore) DeleteEndpoint(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete endpoint: %w", err)
	}
	return requireRow(result)
}

func (s *DBStore) SetEndpointActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE webhook_endpoints SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update endpoint active flag: %w", err)
	}
	return requireRow(result)
}

func (s *DBStore) UpdateEndpointSecret(ctx context.Context, id, secret string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE webhook_endpoints SET secret = $2, updated_at = NOW() WHERE id = $1`, id, secret)
	if err != nil {
		return fmt.Errorf("failed to update endpoint secret: %w", err)
	}
	return requireRow(result)
}

func (s *DBStore) RecordEndpointSuccess(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE webhook_endpoints
		 SET failure_count = 0, last_success_at = $2, updated_at = NOW()
		 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to record endpoint success: %w", err)
	}
	return requireRow(result)
}

func (s *DBStore) IncrementEndpointFailure(ctx context.Context, id string) (int, error) {
	// Atomic increment in SQL avoids lost updates under concurrent deliveries
	var count int
	err := s.db.QueryRowContext(ctx,
		`UPDATE webhook_endpoints
		 SET failure_count = failure_count + 1, updated_at = NOW()
		 WHERE id = $1
		 RETURNING failure_count`, id).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment endpoint failure count: %w", err)
	}
	return count, nil
}

func (s *DBStore) CreateEvent(ctx context.Context, ev *Event) error {
	dataJSON, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, org_id, event_type, data, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.OrgID, ev.Type, dataJSON, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (s *DBStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, event_type, data, created_at FROM webhook_events WHERE id = $1`, id)

	var ev Event
	var dataJSON []byte
	err := row.Scan(&ev.ID, &ev.OrgID, &ev.Type, &dataJSON, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &ev.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
	}
	return &ev, nil
}

func (s *DBStore) ListEvents(ctx context.Context, orgID string, limit, offset int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, event_type, data, created_at
		 FROM webhook_events WHERE org_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		var dataJSON []byte
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.Type, &dataJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

const deliveryColumns = `id, endpoint_id, event_id, status, attempt_count,
	last_status_code, last_response, error_message,
	next_retry_at, delivered_at, created_at, updated_at`

func (s *DBStore) CreateDelivery(ctx context.Context, d *Delivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (
			id, endpoint_id, event_id, status, attempt_count,
			last_status_code, last_response, error_message,
			next_retry_at, delivered_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.EndpointID, d.EventID, d.Status, d.AttemptCount,
		nullableInt(d.LastStatusCode), d.LastResponse, d.ErrorMessage,
		d.NextRetryAt, d.DeliveredAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

func (s *DBStore) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	return scanDelivery(row)
}

func (s *DBStore) ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries
		 WHERE endpoint_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		endpointID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		d, err := scanDeliveryRow(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (s *DBStore) TransitionDelivery(ctx context.Context, d *Delivery) error {
	// The status guard keeps terminal states stable: a concurrent attempt
	// racing a cancel or a duplicate sweep cannot move the row backward.
	result, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET
			status = $2, attempt_count = $3,
			last_status_code = $4, last_response = $5, error_message = $6,
			next_retry_at = $7, delivered_at = $8, updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'RETRYING')`,
		d.ID, d.Status, d.AttemptCount,
		nullableInt(d.LastStatusCode), d.LastResponse, d.ErrorMessage,
		d.NextRetryAt, d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to transition delivery: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish a missing row from a terminal one
		var status DeliveryStatus
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM webhook_deliveries WHERE id = $1`, d.ID).Scan(&status)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check delivery status: %w", err)
		}
		return ErrTerminalState
	}
	return nil
}

func (s *DBStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 100
	}

	// SKIP LOCKED lets concurrent sweepers partition the due set instead of
	// blocking on each other; pushing next_retry_at forward acts as a claim
	// lease, so a crashed worker's rows come due again after the lease.
	rows, err := s.db.QueryContext(ctx, `
		UPDATE webhook_deliveries SET next_retry_at = $2, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status IN ('PENDING', 'RETRYING') AND next_retry_at <= $1
			ORDER BY next_retry_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+deliveryColumns,
		now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		d, err := scanDeliveryRow(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (s *DBStore) Stats(ctx context.Context, orgID string) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE active)
		FROM webhook_endpoints WHERE org_id = $1`, orgID).
		Scan(&stats.TotalEndpoints, &stats.ActiveEndpoints)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate endpoint stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE d.status = 'DELIVERED'),
			COUNT(*) FILTER (WHERE d.status = 'FAILED'),
			COUNT(*) FILTER (WHERE d.status = 'PENDING'),
			COUNT(*) FILTER (WHERE d.status = 'RETRYING'),
			COUNT(*) FILTER (WHERE d.status = 'CANCELLED'),
			COALESCE(AVG(EXTRACT(EPOCH FROM (d.delivered_at - d.created_at)) * 1000)
				FILTER (WHERE d.status = 'DELIVERED'), 0)
		FROM webhook_deliveries d
		JOIN webhook_endpoints e ON e.id = d.endpoint_id
		WHERE e.org_id = $1`, orgID).
		Scan(&stats.TotalDeliveries, &stats.Delivered, &stats.Failed,
			&stats.Pending, &stats.Retrying, &stats.Cancelled, &stats.AvgDeliveryMs)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate delivery stats: %w", err)
	}

	return stats, nil
}

// Helpers

func eventTypeArray(events []EventType) pq.StringArray {
	out := make(pq.StringArray, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEndpoint(row rowScanner) (*Endpoint, error) {
	var ep Endpoint
	var events pq.StringArray
	var description sql.NullString
	var lastSuccess sql.NullTime

	err := row.Scan(&ep.ID, &ep.OrgID, &ep.URL, &ep.Secret, &events, &ep.Active,
		&ep.FailureCount, &ep.MaxRetries, &description, &lastSuccess,
		&ep.CreatedAt, &ep.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan endpoint: %w", err)
	}

	ep.Events = make([]EventType, len(events))
	for i, e := range events {
		ep.Events[i] = EventType(e)
	}
	ep.Description = description.String
	if lastSuccess.Valid {
		ep.LastSuccessAt = &lastSuccess.Time
	}
	return &ep, nil
}

func scanEndpoints(rows *sql.Rows) ([]*Endpoint, error) {
	var endpoints []*Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func scanDelivery(row *sql.Row) (*Delivery, error) {
	d, err := scanDeliveryRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func scanDeliveryRow(row rowScanner) (*Delivery, error) {
	var d Delivery
	var statusCode sql.NullInt64
	var lastResponse, errorMessage sql.NullString
	var nextRetry, deliveredAt sql.NullTime

	err := row.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.Status, &d.AttemptCount,
		&statusCode, &lastResponse, &errorMessage,
		&nextRetry, &deliveredAt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan delivery: %w", err)
	}

	d.LastStatusCode = int(statusCode.Int64)
	d.LastResponse = lastResponse.String
	d.ErrorMessage = errorMessage.String
	if nextRetry.Valid {
		d.NextRetryAt = &nextRetry.Time
	}
	if deliveredAt.Valid {
		d.DeliveredAt = &deliveredAt.Time
	}
	return &d, nil
}

func nullableInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
