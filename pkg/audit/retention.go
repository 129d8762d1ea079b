package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/streamflow/relay/pkg/observability"
)

// RetentionJob enforces the audit retention policy: expired records are
// archived (when enabled) and then deleted. Archival failures abort the run
// before any deletion, so records are never lost without an archive copy.
type RetentionJob struct {
	store    Store
	archiver *Archiver
	policy   RetentionPolicy
	logger   *observability.Logger
}

// NewRetentionJob creates a retention job. archiver may be nil when the
// policy has archival disabled.
func NewRetentionJob(store Store, archiver *Archiver, policy RetentionPolicy, logger *observability.Logger) *RetentionJob {
	return &RetentionJob{
		store:    store,
		archiver: archiver,
		policy:   policy,
		logger:   logger,
	}
}

// Run executes one retention pass and returns the number of deleted records
func (j *RetentionJob) Run(ctx context.Context) (int64, error) {
	if j.policy.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -j.policy.RetentionDays)

	if j.policy.ArchiveEnabled {
		if j.archiver == nil {
			return 0, fmt.Errorf("archival is enabled but no archiver is configured")
		}
		if err := j.archiveExpired(ctx, cutoff); err != nil {
			return 0, err
		}
	}

	deleted, err := j.store.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit records: %w", err)
	}

	if j.logger != nil && deleted > 0 {
		j.logger.WithFields(map[string]interface{}{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("audit retention pass completed")
	}

	return deleted, nil
}

func (j *RetentionJob) archiveExpired(ctx context.Context, cutoff time.Time) error {
	scopes, err := j.store.Scopes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list audit scopes: %w", err)
	}

	for _, scope := range scopes {
		var expired []*Record
		offset := 0
		for {
			page, err := j.store.Search(ctx, Filter{
				OrgID:  scope,
				End:    &cutoff,
				Limit:  verifyPageSize,
				Offset: offset,
			})
			if err != nil {
				return fmt.Errorf("failed to load expired records for %s: %w", scope, err)
			}
			expired = append(expired, page...)
			if len(page) < verifyPageSize {
				break
			}
			offset += len(page)
		}

		if len(expired) == 0 {
			continue
		}

		key, err := j.archiver.Archive(ctx, scope, cutoff, expired)
		if err != nil {
			return fmt.Errorf("failed to archive expired records for %s: %w", scope, err)
		}

		if j.logger != nil {
			j.logger.WithFields(map[string]interface{}{
				"scope":   scope,
				"records": len(expired),
				"key":     key,
			}).Info("archived expired audit records")
		}
	}

	return nil
}
