package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// canonicalPayload serializes the hashed portion of a record deterministically.
// encoding/json sorts map keys (recursively, including nested maps in
// Details), so the same record always produces the same bytes. The payload
// includes PreviousHash, which is what links records into a chain: recomputing
// record n's hash requires record n-1's hash.
func canonicalPayload(r *Record) ([]byte, error) {
	details := r.Details
	if details == nil {
		details = map[string]interface{}{}
	}

	return json.Marshal(map[string]interface{}{
		"orgId":        r.OrgID,
		"userId":       r.UserID,
		"sessionId":    r.SessionID,
		"ipAddress":    r.IPAddress,
		"userAgent":    r.UserAgent,
		"action":       r.Action,
		"target":       r.Target,
		"targetId":     r.TargetID,
		"details":      details,
		"severity":     string(r.Severity),
		"category":     string(r.Category),
		"status":       string(r.Status),
		"errorMessage": r.ErrorMessage,
		"timestamp":    r.Timestamp.UTC().Format(time.RFC3339Nano),
		"previousHash": r.PreviousHash,
	})
}

// ComputeHash returns the SHA-256 hex digest of the record's canonical
// payload. PreviousHash must be set before calling.
func ComputeHash(r *Record) (string, error) {
	payload, err := canonicalPayload(r)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize audit record: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// finalize stamps the chain fields on a record given the current head of its
// scope's chain. Callers must hold the scope's append serialization (a
// transaction-level lock or equivalent) between reading the head and
// persisting the record, otherwise concurrent appends can fork the chain.
func finalize(r *Record, head *ChainHead) error {
	// timestamptz keeps microseconds; anything finer would hash differently
	// after a read-back, so pin the hashed precision to what the store keeps.
	r.Timestamp = r.Timestamp.UTC().Truncate(time.Microsecond)

	if head == nil {
		r.PreviousHash = GenesisHash
		r.PreviousRecordID = ""
		r.Seq = 1
	} else {
		r.PreviousHash = head.Hash
		r.PreviousRecordID = head.ID
		r.Seq = head.Seq + 1
	}

	hash, err := ComputeHash(r)
	if err != nil {
		return err
	}
	r.Hash = hash
	return nil
}
