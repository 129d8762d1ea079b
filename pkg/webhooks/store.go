package webhooks

import (
	"context"
	"time"
)

// EndpointStore persists webhook subscriptions
type EndpointStore interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	ListEndpoints(ctx context.Context, orgID string) ([]*Endpoint, error)
	// FindActiveEndpoints returns active endpoints for the org subscribed to
	// the event type.
	FindActiveEndpoints(ctx context.Context, orgID string, eventType EventType) ([]*Endpoint, error)
	DeleteEndpoint(ctx context.Context, id string) error
	SetEndpointActive(ctx context.Context, id string, active bool) error
	UpdateEndpointSecret(ctx context.Context, id, secret string) error
	// RecordEndpointSuccess resets the failure counter and stamps the last
	// success time.
	RecordEndpointSuccess(ctx context.Context, id string, at time.Time) error
	// IncrementEndpointFailure atomically increments the failure counter and
	// returns the new value.
	IncrementEndpointFailure(ctx context.Context, id string) (int, error)
}

// EventStore persists immutable event fact records
type EventStore interface {
	CreateEvent(ctx context.Context, ev *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	ListEvents(ctx context.Context, orgID string, limit, offset int) ([]*Event, error)
}

// DeliveryStore persists delivery attempts and their retry schedule
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, error)
	// TransitionDelivery persists d only when the stored row is still in a
	// non-terminal state; otherwise it returns ErrTerminalState. This is what
	// keeps terminal states stable under concurrent attempts.
	TransitionDelivery(ctx context.Context, d *Delivery) error
	// ClaimDue returns up to limit deliveries whose retry time has passed,
	// pushing each claimed row's NextRetryAt forward by lease so concurrent
	// sweepers skip rows already in flight. A claim that dies is reclaimed
	// once its lease expires.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Delivery, error)
	// Stats aggregates delivery and endpoint counts for an org.
	Stats(ctx context.Context, orgID string) (*Stats, error)
}

// Store combines all webhook persistence concerns
type Store interface {
	EndpointStore
	EventStore
	DeliveryStore
}
