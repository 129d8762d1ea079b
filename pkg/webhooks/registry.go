package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/streamflow/relay/pkg/audit"
	"github.com/streamflow/relay/pkg/observability"
)

const secretBytes = 32

// RegistryConfig tunes endpoint lifecycle policy
type RegistryConfig struct {
	// DefaultMaxRetries is assigned to endpoints registered without an
	// explicit limit.
	DefaultMaxRetries int
	// DeactivateThreshold is the consecutive-failure count at which an
	// endpoint is automatically deactivated. Zero disables the policy.
	DeactivateThreshold int
}

// Registry manages webhook endpoint subscriptions
type Registry struct {
	store    EndpointStore
	config   RegistryConfig
	recorder *audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
	clock    Clock
}

// NewRegistry creates an endpoint registry. recorder and metrics may be nil.
func NewRegistry(store EndpointStore, config RegistryConfig, recorder *audit.Recorder, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	if config.DefaultMaxRetries <= 0 {
		config.DefaultMaxRetries = 5
	}
	return &Registry{
		store:    store,
		config:   config,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
		clock:    RealClock{},
	}
}

// WithClock substitutes the clock, for tests
func (r *Registry) WithClock(clock Clock) *Registry {
	r.clock = clock
	return r
}

// Register validates the URL, generates a secret, and persists a new active
// endpoint. The returned endpoint includes the secret; this is the only time
// it is shown.
func (r *Registry) Register(ctx context.Context, orgID, rawURL string, events []EventType, description string) (*Endpoint, error) {
	if orgID == "" {
		return nil, &ValidationError{Field: "org_id", Message: "org id is required"}
	}
	if err := ValidateEndpointURL(rawURL); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, &ValidationError{Field: "events", Message: "at least one event type is required"}
	}
	for _, et := range events {
		if !IsKnownEventType(et) {
			return nil, &ValidationError{Field: "events", Message: fmt.Sprintf("unknown event type: %s", et)}
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	now := r.clock.Now()
	ep := &Endpoint{
		ID:          uuid.New().String(),
		OrgID:       orgID,
		URL:         rawURL,
		Secret:      secret,
		Events:      events,
		Active:      true,
		MaxRetries:  r.config.DefaultMaxRetries,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, fmt.Errorf("failed to persist endpoint: %w", err)
	}

	r.recorder.Append(ctx, orgID, audit.Entry{
		Action:   "webhook.registered",
		Target:   "webhook_endpoint",
		TargetID: ep.ID,
		Category: audit.CategoryPolicyChange,
		Details: map[string]interface{}{
			"url":    ep.URL,
			"events": events,
		},
	})

	return ep, nil
}

// Get returns an endpoint by id
func (r *Registry) Get(ctx context.Context, id string) (*Endpoint, error) {
	return r.store.GetEndpoint(ctx, id)
}

// List returns all endpoints for an org
func (r *Registry) List(ctx context.Context, orgID string) ([]*Endpoint, error) {
	return r.store.ListEndpoints(ctx, orgID)
}

// FindActiveEndpointsFor returns active endpoints subscribed to the event type
func (r *Registry) FindActiveEndpointsFor(ctx context.Context, orgID string, eventType EventType) ([]*Endpoint, error) {
	return r.store.FindActiveEndpoints(ctx, orgID, eventType)
}

// Delete removes an endpoint permanently
func (r *Registry) Delete(ctx context.Context, orgID, id string) error {
	if err := r.store.DeleteEndpoint(ctx, id); err != nil {
		return err
	}
	r.recorder.Append(ctx, orgID, audit.Entry{
		Action:   "webhook.deleted",
		Target:   "webhook_endpoint",
		TargetID: id,
		Category: audit.CategoryPolicyChange,
	})
	return nil
}

// SetActive activates or deactivates an endpoint by explicit tenant action
func (r *Registry) SetActive(ctx context.Context, orgID, id string, active bool) error {
	if err := r.store.SetEndpointActive(ctx, id, active); err != nil {
		return err
	}
	action := "webhook.deactivated"
	if active {
		action = "webhook.activated"
	}
	r.recorder.Append(ctx, orgID, audit.Entry{
		Action:   action,
		Target:   "webhook_endpoint",
		TargetID: id,
		Category: audit.CategoryPolicyChange,
	})
	return nil
}

// RotateSecret replaces the endpoint's secret with a freshly generated one
// and returns it. The old secret stops validating immediately.
func (r *Registry) RotateSecret(ctx context.Context, orgID, id string) (string, error) {
	if _, err := r.store.GetEndpoint(ctx, id); err != nil {
		return "", err
	}

	secret, err := generateSecret()
	if err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	if err := r.store.UpdateEndpointSecret(ctx, id, secret); err != nil {
		return "", err
	}

	r.recorder.Append(ctx, orgID, audit.Entry{
		Action:   "webhook.secret_rotated",
		Target:   "webhook_endpoint",
		TargetID: id,
		Category: audit.CategorySecurityEvent,
	})
	return secret, nil
}

// RecordSuccess resets the endpoint's failure counter after a delivered event
func (r *Registry) RecordSuccess(ctx context.Context, endpointID string) error {
	return r.store.RecordEndpointSuccess(ctx, endpointID, r.clock.Now())
}

// RecordFailure increments the endpoint's failure counter and deactivates the
// endpoint when the counter crosses the configured threshold. Deactivation is
// audited so it is observable, never silent.
func (r *Registry) RecordFailure(ctx context.Context, ep *Endpoint) error {
	count, err := r.store.IncrementEndpointFailure(ctx, ep.ID)
	if err != nil {
		return err
	}

	if r.config.DeactivateThreshold > 0 && count >= r.config.DeactivateThreshold && ep.Active {
		if err := r.store.SetEndpointActive(ctx, ep.ID, false); err != nil {
			return fmt.Errorf("failed to deactivate endpoint %s: %w", ep.ID, err)
		}
		if r.metrics != nil {
			r.metrics.EndpointsDeactivatedTotal.Inc()
		}
		if r.logger != nil {
			r.logger.WithFields(map[string]interface{}{
				"endpoint_id":   ep.ID,
				"failure_count": count,
			}).Warn("endpoint deactivated after consecutive delivery failures")
		}
		r.recorder.Append(ctx, ep.OrgID, audit.Entry{
			Action:   "webhook.auto_deactivated",
			Target:   "webhook_endpoint",
			TargetID: ep.ID,
			Severity: audit.SeverityWarning,
			Category: audit.CategoryPolicyChange,
			Details: map[string]interface{}{
				"failure_count": count,
				"threshold":     r.config.DeactivateThreshold,
			},
		})
	}
	return nil
}

// ValidateEndpointURL enforces HTTPS and rejects loopback, private, and
// link-local hosts so a subscriber URL cannot point the engine at internal
// services.
func ValidateEndpointURL(rawURL string) error {
	if rawURL == "" {
		return &ValidationError{Field: "url", Message: "url is required"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{Field: "url", Message: "url is not well-formed"}
	}
	if parsed.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "url must use https"}
	}

	host := parsed.Hostname()
	if host == "" {
		return &ValidationError{Field: "url", Message: "url must include a host"}
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return &ValidationError{Field: "url", Message: "loopback hosts are not allowed"}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return &ValidationError{Field: "url", Message: "private and loopback addresses are not allowed"}
		}
	}

	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
