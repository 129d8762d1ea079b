package audit

import (
	"context"
	"fmt"
)

const verifyPageSize = 500

// VerifyChain walks a scope's records in chain order and recomputes every
// hash and link. Retention may have removed the oldest records, so the first
// surviving record's previous hash is taken as the trust anchor; from there
// the verifier requires an unbroken, monotonically numbered chain.
func VerifyChain(ctx context.Context, store Store, scope string) (*ChainReport, error) {
	report := &ChainReport{Scope: scope, Valid: true}

	var (
		prevHash string
		prevID   string
		prevSeq  int64
		first    = true
		offset   int
	)

	for {
		page, err := store.List(ctx, scope, verifyPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to load audit records for verification: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, rec := range page {
			if first {
				prevHash = rec.PreviousHash
				prevID = rec.PreviousRecordID
				prevSeq = rec.Seq - 1
				first = false
			}

			if rec.Seq != prevSeq+1 {
				return brokenAt(report, rec, fmt.Sprintf("sequence gap: expected %d, got %d", prevSeq+1, rec.Seq)), nil
			}
			if rec.PreviousHash != prevHash {
				return brokenAt(report, rec, "previous hash does not match preceding record"), nil
			}
			if rec.PreviousRecordID != prevID {
				return brokenAt(report, rec, "previous record id does not match preceding record"), nil
			}

			computed, err := ComputeHash(rec)
			if err != nil {
				return nil, fmt.Errorf("failed to recompute hash for record %s: %w", rec.ID, err)
			}
			if computed != rec.Hash {
				return brokenAt(report, rec, "stored hash does not match record contents"), nil
			}

			prevHash = rec.Hash
			prevID = rec.ID
			prevSeq = rec.Seq
			report.Records++
		}

		if len(page) < verifyPageSize {
			break
		}
		offset += len(page)
	}

	return report, nil
}

func brokenAt(report *ChainReport, rec *Record, reason string) *ChainReport {
	report.Valid = false
	report.BrokenRecordID = rec.ID
	report.Reason = fmt.Sprintf("record seq %d: %s", rec.Seq, reason)
	return report
}
