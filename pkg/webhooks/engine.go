package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/streamflow/relay/pkg/audit"
	"github.com/streamflow/relay/pkg/observability"
)

const userAgent = "StreamFlow-Webhooks/1.0"

// EngineConfig tunes the delivery engine
type EngineConfig struct {
	RequestTimeout   time.Duration
	MaxResponseBytes int64
}

// Engine performs delivery attempts and drives the retry state machine.
// Delivery errors never surface to the emitting caller; every outcome is
// absorbed into a persisted transition.
type Engine struct {
	store    Store
	registry *Registry
	policy   *RetryPolicy
	limiter  Limiter
	recorder *audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
	client   *http.Client
	clock    Clock
	config   EngineConfig
}

// NewEngine creates a delivery engine. limiter, recorder, and metrics may be
// nil.
func NewEngine(store Store, registry *Registry, policy *RetryPolicy, limiter Limiter, recorder *audit.Recorder, logger *observability.Logger, metrics *observability.Metrics, config EngineConfig) *Engine {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = 4096
	}
	return &Engine{
		store:    store,
		registry: registry,
		policy:   policy,
		limiter:  limiter,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
		client: &http.Client{
			Timeout:   config.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		clock:  RealClock{},
		config: config,
	}
}

// WithClock substitutes the clock, for tests
func (e *Engine) WithClock(clock Clock) *Engine {
	e.clock = clock
	return e
}

// WithHTTPClient substitutes the outbound client, for tests
func (e *Engine) WithHTTPClient(client *http.Client) *Engine {
	e.client = client
	return e
}

// Attempt executes one delivery attempt for the delivery id and persists the
// resulting transition. It is safe to call for a delivery that has since
// reached a terminal state; such calls are no-ops.
func (e *Engine) Attempt(ctx context.Context, deliveryID string) error {
	delivery, err := e.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status.Terminal() {
		return nil
	}

	endpoint, err := e.store.GetEndpoint(ctx, delivery.EndpointID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Endpoint deleted mid-flight; the delivery can never succeed
			return e.failWithoutAttempt(ctx, delivery, "endpoint no longer exists")
		}
		return err
	}
	if !endpoint.Active {
		// Already-scheduled attempts for a deactivated endpoint are not
		// executed; the delivery is closed out instead.
		return e.failWithoutAttempt(ctx, delivery, "endpoint is inactive")
	}

	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, endpoint.ID)
		if err != nil && e.logger != nil {
			e.logger.WithError(err).WithField("endpoint_id", endpoint.ID).Warn("rate limiter unavailable, allowing delivery")
		}
		if err == nil && !allowed {
			// Deferred, not failed: the attempt never ran, so the retry
			// budget is not consumed.
			return e.deferDelivery(ctx, delivery)
		}
	}

	event, err := e.store.GetEvent(ctx, delivery.EventID)
	if err != nil {
		return err
	}

	delivery.AttemptCount++
	start := e.clock.Now()
	statusCode, body, attemptErr := e.send(ctx, endpoint, event)
	elapsed := e.clock.Now().Sub(start)

	outcome := "success"
	if attemptErr != nil {
		outcome = "failure"
	}
	if e.metrics != nil {
		e.metrics.DeliveryAttemptsTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
		e.metrics.DeliveryDuration.With(prometheus.Labels{"outcome": outcome}).Observe(elapsed.Seconds())
	}

	delivery.LastStatusCode = statusCode
	delivery.LastResponse = body

	if attemptErr == nil {
		return e.markDelivered(ctx, delivery, endpoint)
	}
	return e.markAttemptFailed(ctx, delivery, endpoint, event, attemptErr)
}

// Cancel moves a PENDING or RETRYING delivery to CANCELLED and prevents
// further attempts
func (e *Engine) Cancel(ctx context.Context, deliveryID string) error {
	delivery, err := e.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}

	delivery.Status = DeliveryCancelled
	delivery.NextRetryAt = nil
	if err := e.store.TransitionDelivery(ctx, delivery); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.DeliveriesTerminal.With(prometheus.Labels{"status": string(DeliveryCancelled)}).Inc()
	}
	return nil
}

// send performs the HTTP POST and returns the observed status code, the
// truncated response body, and an error for any non-2xx outcome
func (e *Engine) send(ctx context.Context, endpoint *Endpoint, event *Event) (int, string, error) {
	payload, err := CanonicalPayload(NewSignedPayload(event))
	if err != nil {
		return 0, "", fmt.Errorf("failed to serialize payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(payload, endpoint.Secret))
	req.Header.Set("X-Webhook-Event-Type", string(event.Type))
	req.Header.Set("X-Webhook-Event-Id", event.ID)
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, string(body), fmt.Errorf("subscriber returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, string(body), nil
}

func (e *Engine) markDelivered(ctx context.Context, delivery *Delivery, endpoint *Endpoint) error {
	now := e.clock.Now()
	delivery.Status = DeliveryDelivered
	delivery.DeliveredAt = &now
	delivery.NextRetryAt = nil
	delivery.ErrorMessage = ""

	if err := e.store.TransitionDelivery(ctx, delivery); err != nil {
		if errors.Is(err, ErrTerminalState) {
			return nil
		}
		return err
	}

	if err := e.registry.RecordSuccess(ctx, endpoint.ID); err != nil && e.logger != nil {
		e.logger.WithError(err).WithField("endpoint_id", endpoint.ID).Warn("failed to record endpoint success")
	}
	if e.metrics != nil {
		e.metrics.DeliveriesTerminal.With(prometheus.Labels{"status": string(DeliveryDelivered)}).Inc()
	}
	return nil
}

func (e *Engine) markAttemptFailed(ctx context.Context, delivery *Delivery, endpoint *Endpoint, event *Event, attemptErr error) error {
	delivery.ErrorMessage = attemptErr.Error()

	if delivery.AttemptCount >= endpoint.MaxRetries {
		delivery.Status = DeliveryFailed
		delivery.NextRetryAt = nil

		if err := e.store.TransitionDelivery(ctx, delivery); err != nil {
			if errors.Is(err, ErrTerminalState) {
				return nil
			}
			return err
		}

		if err := e.registry.RecordFailure(ctx, endpoint); err != nil && e.logger != nil {
			e.logger.WithError(err).WithField("endpoint_id", endpoint.ID).Warn("failed to record endpoint failure")
		}
		if e.metrics != nil {
			e.metrics.DeliveriesTerminal.With(prometheus.Labels{"status": string(DeliveryFailed)}).Inc()
		}
		e.recorder.Append(ctx, endpoint.OrgID, audit.Entry{
			Action:       "webhook.delivery_failed",
			Target:       "webhook_delivery",
			TargetID:     delivery.ID,
			Severity:     audit.SeverityWarning,
			Status:       audit.StatusFailure,
			ErrorMessage: attemptErr.Error(),
			Details: map[string]interface{}{
				"endpoint_id": endpoint.ID,
				"event_id":    event.ID,
				"event_type":  event.Type,
				"attempts":    delivery.AttemptCount,
			},
		})
		if e.logger != nil {
			e.logger.WithFields(map[string]interface{}{
				"delivery_id": delivery.ID,
				"endpoint_id": endpoint.ID,
				"attempts":    delivery.AttemptCount,
			}).Warn("delivery failed, retry budget exhausted")
		}
		return nil
	}

	next := e.clock.Now().Add(e.policy.NextRetryDelay(delivery.AttemptCount))
	delivery.Status = DeliveryRetrying
	delivery.NextRetryAt = &next

	if err := e.store.TransitionDelivery(ctx, delivery); err != nil {
		if errors.Is(err, ErrTerminalState) {
			return nil
		}
		return err
	}
	if e.metrics != nil {
		e.metrics.RetriesScheduledTotal.Inc()
	}
	return nil
}

// failWithoutAttempt closes out a delivery whose endpoint cannot receive it
func (e *Engine) failWithoutAttempt(ctx context.Context, delivery *Delivery, reason string) error {
	delivery.Status = DeliveryFailed
	delivery.ErrorMessage = reason
	delivery.NextRetryAt = nil

	if err := e.store.TransitionDelivery(ctx, delivery); err != nil {
		if errors.Is(err, ErrTerminalState) {
			return nil
		}
		return err
	}
	if e.metrics != nil {
		e.metrics.DeliveriesTerminal.With(prometheus.Labels{"status": string(DeliveryFailed)}).Inc()
	}
	return nil
}

// deferDelivery reschedules a rate-limited delivery without consuming its
// retry budget: the attempt never ran.
func (e *Engine) deferDelivery(ctx context.Context, delivery *Delivery) error {
	next := e.clock.Now().Add(e.policy.BaseDelay())
	delivery.NextRetryAt = &next

	if err := e.store.TransitionDelivery(ctx, delivery); err != nil {
		if errors.Is(err, ErrTerminalState) {
			return nil
		}
		return err
	}
	if e.metrics != nil {
		e.metrics.RateLimitDeferredTotal.Inc()
	}
	return nil
}
