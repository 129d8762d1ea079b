package audit

import (
	"time"
)

// Severity represents the severity of an audit record
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Category represents the category of an audit record
type Category string

const (
	CategoryGeneral          Category = "GENERAL"
	CategoryAuthentication   Category = "AUTHENTICATION"
	CategoryAuthorization    Category = "AUTHORIZATION"
	CategoryDataAccess       Category = "DATA_ACCESS"
	CategoryDataModification Category = "DATA_MODIFICATION"
	CategoryPolicyChange     Category = "POLICY_CHANGE"
	CategoryAdminAction      Category = "ADMIN_ACTION"
	CategorySecurityEvent    Category = "SECURITY_EVENT"
)

// Status represents the outcome of the audited action
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// GenesisHash is the previous-hash sentinel for the first record in a
// tenant's chain.
const GenesisHash = "GENESIS"

// SystemScope is the tenant scope used for records not tied to an
// organization.
const SystemScope = "system"

// Record is a single tamper-evident audit log entry. Once written a record is
// never mutated or deleted; each record's hash covers its canonical payload
// plus the previous record's hash, forming a per-scope chain.
type Record struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id"`
	Seq   int64  `json:"seq"`

	// Actor
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Action
	Action       string                 `json:"action"`
	Target       string                 `json:"target"`
	TargetID     string                 `json:"target_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Severity     Severity               `json:"severity"`
	Category     Category               `json:"category"`
	Status       Status                 `json:"status"`
	ErrorMessage string                 `json:"error_message,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Chain
	Hash             string `json:"hash"`
	PreviousHash     string `json:"previous_hash"`
	PreviousRecordID string `json:"previous_record_id,omitempty"`
}

// Entry is the caller-supplied portion of an audit record. Zero-value
// severity, category and status default to INFO/GENERAL/success.
type Entry struct {
	UserID    string
	SessionID string
	IPAddress string
	UserAgent string

	Action       string
	Target       string
	TargetID     string
	Details      map[string]interface{}
	Severity     Severity
	Category     Category
	Status       Status
	ErrorMessage string
}

// Filter selects audit records for listing and export
type Filter struct {
	OrgID    string
	Action   string
	Category Category
	Start    *time.Time
	End      *time.Time
	Limit    int
	Offset   int
}

// ChainHead identifies the most recent record in a scope's chain
type ChainHead struct {
	ID   string
	Hash string
	Seq  int64
}

// ChainReport is the result of verifying a scope's hash chain
type ChainReport struct {
	Scope          string `json:"scope"`
	Records        int    `json:"records"`
	Valid          bool   `json:"valid"`
	BrokenRecordID string `json:"broken_record_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// RetentionPolicy defines how long audit records are kept and whether expired
// records are archived before deletion.
type RetentionPolicy struct {
	RetentionDays  int
	ArchiveEnabled bool
}

// DefaultRetentionPolicy returns a 90 day policy without archival
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 90}
}
