// relay-janitor runs the scheduled maintenance jobs: audit retention with
// optional S3 archival, and periodic hash-chain verification across all
// scopes. It is deployed as a single instance alongside the relayd fleet.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/streamflow/relay/pkg/audit"
	"github.com/streamflow/relay/pkg/config"
	"github.com/streamflow/relay/pkg/observability"
)

var (
	retentionSchedule = flag.String("retention-schedule", "30 0 * * *", "Cron schedule for audit retention (default: 00:30 UTC)")
	verifySchedule    = flag.String("verify-schedule", "0 */6 * * *", "Cron schedule for chain verification (default: every 6 hours)")
	runOnce           = flag.Bool("run-once", false, "Run retention and verification once and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay-janitor: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	store, err := audit.NewDBStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit store")
		os.Exit(1)
	}

	var archiver *audit.Archiver
	if cfg.Audit.ArchiveEnabled {
		archiver, err = audit.NewArchiver(audit.ArchiveConfig{
			Bucket:       cfg.Audit.S3Bucket,
			Region:       cfg.Audit.S3Region,
			Endpoint:     cfg.Audit.S3Endpoint,
			AccessKey:    cfg.Audit.S3AccessKey,
			SecretKey:    cfg.Audit.S3SecretKey,
			UsePathStyle: cfg.Audit.S3UsePathStyle,
		})
		if err != nil {
			logger.WithError(err).Error("failed to initialize archiver")
			os.Exit(1)
		}
	}

	retention := audit.NewRetentionJob(store, archiver, audit.RetentionPolicy{
		RetentionDays:  cfg.Audit.RetentionDays,
		ArchiveEnabled: cfg.Audit.ArchiveEnabled,
	}, logger)

	if *runOnce {
		ctx := context.Background()
		if _, err := retention.Run(ctx); err != nil {
			logger.WithError(err).Error("retention run failed")
			os.Exit(1)
		}
		verifyAllChains(ctx, store, logger)
		logger.Info("Maintenance run completed")
		return
	}

	c := cron.New()

	_, err = c.AddFunc(*retentionSchedule, func() {
		logger.Info("Starting audit retention pass")
		if _, err := retention.Run(context.Background()); err != nil {
			logger.WithError(err).Error("retention pass failed")
		}
	})
	if err != nil {
		logger.WithError(err).Error("failed to schedule retention")
		os.Exit(1)
	}

	_, err = c.AddFunc(*verifySchedule, func() {
		logger.Info("Starting audit chain verification")
		verifyAllChains(context.Background(), store, logger)
	})
	if err != nil {
		logger.WithError(err).Error("failed to schedule verification")
		os.Exit(1)
	}

	c.Start()
	logger.Info("relay-janitor started")
	logger.Infof("Retention schedule: %s", *retentionSchedule)
	logger.Infof("Verification schedule: %s", *verifySchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")
	<-c.Stop().Done()
}

// verifyAllChains checks every scope's hash chain and logs any break. A
// broken chain is an operator-level incident, not something to fix in code.
func verifyAllChains(ctx context.Context, store audit.Store, logger *observability.Logger) {
	scopes, err := store.Scopes(ctx)
	if err != nil {
		logger.WithError(err).Error("failed to list audit scopes")
		return
	}

	broken := 0
	for _, scope := range scopes {
		report, err := audit.VerifyChain(ctx, store, scope)
		if err != nil {
			logger.WithError(err).WithField("scope", scope).Error("chain verification errored")
			continue
		}
		if !report.Valid {
			broken++
			logger.WithFields(map[string]interface{}{
				"scope":            scope,
				"broken_record_id": report.BrokenRecordID,
				"reason":           report.Reason,
			}).Error("audit chain verification FAILED")
		}
	}

	if broken == 0 {
		logger.Infof("Verified %d audit chains, all intact", len(scopes))
	}
}
