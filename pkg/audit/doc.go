// Package audit provides a tamper-evident, hash-chained audit trail for
// compliance and forensics.
//
// # Overview
//
// Every record carries a SHA-256 hash over its canonical JSON form plus the
// hash of the preceding record in the same org scope, forming a per-tenant
// chain anchored at a GENESIS sentinel. Any edit or deletion inside the
// retained window breaks the chain and is detected by verification.
//
// # Recording
//
// Recording is best-effort: a failed append is logged and counted, never
// returned, so audit writes cannot fail the operation being audited.
//
//	recorder.Append(ctx, orgID, audit.Entry{
//		Action:   "webhook.registered",
//		Target:   "webhook_endpoint",
//		TargetID: endpoint.ID,
//		Details:  map[string]interface{}{"url": endpoint.URL},
//	})
//
// # Verification
//
//	report, err := audit.VerifyChain(ctx, store, orgID)
//	if err == nil && !report.Valid {
//		// chain broken at report.BrokenRecordID
//	}
//
// # Retention
//
// Default: 90 days active retention
// Archiving: NDJSON archives uploaded to S3 before deletion
// Export: JSON, CSV, NDJSON formats for external analysis
//
// # Related Packages
//
//   - pkg/webhooks: emits audit records for endpoint lifecycle and delivery outcomes
package audit
