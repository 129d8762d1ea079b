package webhooks

import (
	"time"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventLeadCreated           EventType = "lead.created"
	EventLeadUpdated           EventType = "lead.updated"
	EventLeadConverted         EventType = "lead.converted"
	EventLeadDeleted           EventType = "lead.deleted"
	EventInvoiceCreated        EventType = "invoice.created"
	EventInvoicePaid           EventType = "invoice.paid"
	EventInvoiceOverdue        EventType = "invoice.overdue"
	EventSubscriptionCreated   EventType = "subscription.created"
	EventSubscriptionUpdated   EventType = "subscription.updated"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
	EventUserCreated           EventType = "user.created"
	EventStaffInvited          EventType = "staff.invited"
	EventStaffRemoved          EventType = "staff.removed"
	EventOrgUpdated            EventType = "organization.updated"
)

// KnownEventTypes lists every event type the emitter accepts
func KnownEventTypes() []EventType {
	return []EventType{
		EventLeadCreated,
		EventLeadUpdated,
		EventLeadConverted,
		EventLeadDeleted,
		EventInvoiceCreated,
		EventInvoicePaid,
		EventInvoiceOverdue,
		EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionCancelled,
		EventUserCreated,
		EventStaffInvited,
		EventStaffRemoved,
		EventOrgUpdated,
	}
}

// IsKnownEventType reports whether t is in the event catalog
func IsKnownEventType(t EventType) bool {
	for _, known := range KnownEventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// DeliveryStatus represents the state of a delivery in its lifecycle
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryRetrying  DeliveryStatus = "RETRYING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
	DeliveryCancelled DeliveryStatus = "CANCELLED"
)

// Terminal reports whether the status permits no further transitions
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case DeliveryDelivered, DeliveryFailed, DeliveryCancelled:
		return true
	}
	return false
}

// Endpoint represents a registered webhook subscription
type Endpoint struct {
	ID              string      `json:"id"`
	OrgID           string      `json:"org_id"`
	URL             string      `json:"url"`
	Secret          string      `json:"secret,omitempty"`
	Events          []EventType `json:"events"`
	Active          bool        `json:"active"`
	FailureCount    int         `json:"failure_count"`
	MaxRetries      int         `json:"max_retries"`
	Description     string      `json:"description,omitempty"`
	LastSuccessAt   *time.Time  `json:"last_success_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Subscribed reports whether the endpoint subscribes to the event type
func (e *Endpoint) Subscribed(t EventType) bool {
	for _, et := range e.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Event is an immutable fact record. It is never updated after creation.
type Event struct {
	ID        string                 `json:"id"`
	OrgID     string                 `json:"org_id"`
	Type      EventType              `json:"type"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `json:"created_at"`
}

// Delivery tracks one event being delivered to one endpoint
type Delivery struct {
	ID             string         `json:"id"`
	EndpointID     string         `json:"endpoint_id"`
	EventID        string         `json:"event_id"`
	Status         DeliveryStatus `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	LastStatusCode int            `json:"last_status_code,omitempty"`
	LastResponse   string         `json:"last_response,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Stats summarizes delivery outcomes for an org's endpoints
type Stats struct {
	TotalDeliveries int64   `json:"total_deliveries"`
	Delivered       int64   `json:"delivered"`
	Failed          int64   `json:"failed"`
	Pending         int64   `json:"pending"`
	Retrying        int64   `json:"retrying"`
	Cancelled       int64   `json:"cancelled"`
	ActiveEndpoints int64   `json:"active_endpoints"`
	TotalEndpoints  int64   `json:"total_endpoints"`
	AvgDeliveryMs   float64 `json:"avg_delivery_ms"`
}

// Clock abstracts time for deterministic tests
type Clock interface {
	Now() time.Time
}

// RealClock is the production clock
type RealClock struct{}

// Now returns the current time
func (RealClock) Now() time.Time { return time.Now() }
