package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamflow/relay/pkg/async"
	"github.com/streamflow/relay/pkg/observability"
)

// Emitter is the single entry point the rest of the application calls to
// trigger the webhook pipeline
type Emitter struct {
	store   Store
	engine  *Engine
	logger  *observability.Logger
	metrics *observability.Metrics
	clock   Clock
}

// NewEmitter creates an event emitter. metrics may be nil.
func NewEmitter(store Store, engine *Engine, logger *observability.Logger, metrics *observability.Metrics) *Emitter {
	return &Emitter{
		store:   store,
		engine:  engine,
		logger:  logger,
		metrics: metrics,
		clock:   RealClock{},
	}
}

// WithClock substitutes the clock, for tests
func (em *Emitter) WithClock(clock Clock) *Emitter {
	em.clock = clock
	return em
}

// Emit records the event and fans deliveries out to every matching active
// endpoint. The event is persisted before fan-out, so a crash mid-fan-out
// never loses the fact record. Delivery outcomes are not returned; emission
// is fire-and-forget from the caller's perspective.
func (em *Emitter) Emit(ctx context.Context, orgID string, eventType EventType, data map[string]interface{}) (*Event, error) {
	if orgID == "" {
		return nil, &ValidationError{Field: "org_id", Message: "org id is required"}
	}
	if !IsKnownEventType(eventType) {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown event type: %s", eventType)}
	}

	event := &Event{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Type:      eventType,
		Data:      data,
		CreatedAt: em.clock.Now(),
	}
	if err := em.store.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to persist event: %w", err)
	}
	if em.metrics != nil {
		em.metrics.EventsEmittedTotal.With(prometheus.Labels{"type": string(eventType)}).Inc()
	}

	endpoints, err := em.store.FindActiveEndpoints(ctx, orgID, eventType)
	if err != nil {
		// The event is already durable; fan-out can be replayed later
		em.logger.WithError(err).WithField("event_id", event.ID).Error("failed to query endpoints for fan-out")
		return event, nil
	}
	if len(endpoints) == 0 {
		return event, nil
	}

	for _, ep := range endpoints {
		delivery, err := em.createDelivery(ctx, ep, event)
		if err != nil {
			em.logger.WithError(err).WithFields(map[string]interface{}{
				"event_id":    event.ID,
				"endpoint_id": ep.ID,
			}).Error("failed to create delivery")
			continue
		}

		// Each endpoint's delivery runs independently; one endpoint's
		// failure never blocks another's.
		deliveryID := delivery.ID
		async.SafeGo(context.Background(), em.engine.config.RequestTimeout+30*time.Second, "webhook-delivery", func(taskCtx context.Context) error {
			return em.engine.Attempt(taskCtx, deliveryID)
		})
	}

	return event, nil
}

func (em *Emitter) createDelivery(ctx context.Context, ep *Endpoint, event *Event) (*Delivery, error) {
	now := em.clock.Now()
	// NextRetryAt is set at creation so the sweeper recovers deliveries whose
	// first attempt was lost to a crash. The grace period keeps the sweeper
	// from racing the immediate attempt.
	due := now.Add(30 * time.Second)
	delivery := &Delivery{
		ID:          uuid.New().String(),
		EndpointID:  ep.ID,
		EventID:     event.ID,
		Status:      DeliveryPending,
		NextRetryAt: &due,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := em.store.CreateDelivery(ctx, delivery); err != nil {
		return nil, err
	}
	return delivery, nil
}
