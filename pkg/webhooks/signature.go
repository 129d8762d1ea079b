package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// SignedPayload is the wire body POSTed to subscribers. Field order here
// defines the canonical key order; signer and verifier must agree on it.
type SignedPayload struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	OrgID     string                 `json:"orgId"`
}

// NewSignedPayload builds the wire payload for an event
func NewSignedPayload(event *Event) SignedPayload {
	return SignedPayload{
		ID:        event.ID,
		Type:      event.Type,
		Data:      event.Data,
		Timestamp: event.CreatedAt.UTC(),
		OrgID:     event.OrgID,
	}
}

// CanonicalPayload serializes the payload in canonical form
func CanonicalPayload(p SignedPayload) ([]byte, error) {
	return json.Marshal(p)
}

// Sign computes the HMAC-SHA256 signature over the payload bytes,
// prefixed with the algorithm identifier
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature in constant time
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
