// Package webhooks implements the outbound webhook pipeline: endpoint
// registration, event emission, signed delivery, and durable retries.
//
// # Overview
//
// Tenants register HTTPS endpoints subscribed to event types. Emitting an
// event persists it, then fans out one delivery per matching active endpoint.
// Each delivery POSTs the canonical JSON payload with an HMAC-SHA256
// signature; a 2xx response delivers it, anything else schedules a retry with
// exponential backoff until the endpoint's budget is exhausted.
//
// # Delivery lifecycle
//
//	PENDING -> DELIVERED                  (2xx response)
//	PENDING -> RETRYING* -> FAILED        (budget exhausted)
//	PENDING/RETRYING -> CANCELLED         (explicit cancel)
//
// Terminal states are stable: the store refuses transitions out of them.
//
// # Durable retries
//
// The retry schedule is persisted as next_retry_at on each delivery. A
// sweeper polls for due rows and re-dispatches them, so retries survive
// process restarts; nothing depends on in-memory timers. Delivery is
// at-least-once — subscribers deduplicate by the event id carried in the
// payload and headers.
//
// # Usage
//
//	ep, err := registry.Register(ctx, orgID, "https://hooks.example.com/x",
//		[]webhooks.EventType{webhooks.EventLeadCreated}, "")
//
//	emitter.Emit(ctx, orgID, webhooks.EventLeadCreated,
//		map[string]interface{}{"name": "Acme"})
//
// # Related Packages
//
//   - pkg/audit: records endpoint lifecycle changes and terminal failures
package webhooks
