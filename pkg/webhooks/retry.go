package webhooks

import (
	"context"
	"math"
	"time"

	"github.com/streamflow/relay/pkg/async"
	"github.com/streamflow/relay/pkg/observability"
)

// RetryConfig configures backoff behavior
type RetryConfig struct {
	BaseDelay         time.Duration `json:"base_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default backoff configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseDelay:         1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff with a ceiling
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.BaseDelay <= 0 {
		config.BaseDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Minute
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = 2.0
	}
	return &RetryPolicy{config: config}
}

// BaseDelay returns the configured base delay
func (p *RetryPolicy) BaseDelay() time.Duration {
	return p.config.BaseDelay
}

// NextRetryDelay computes the backoff for the retry following the given
// attempt count: base * multiplier^attempts, capped at the ceiling. The first
// retry (after attempt 1) therefore waits base*multiplier.
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.BaseDelay
	}

	delay := float64(p.config.BaseDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// SweeperConfig tunes the retry sweeper
type SweeperConfig struct {
	Interval   time.Duration
	BatchSize  int
	ClaimLease time.Duration
}

// Sweeper polls the store for deliveries whose retry time has passed and
// re-dispatches them. Because the schedule lives in the store rather than in
// process memory, retries survive restarts: the first sweep after startup
// picks up everything that came due while the process was down.
type Sweeper struct {
	store  DeliveryStore
	engine *Engine
	logger *observability.Logger
	config SweeperConfig
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper creates a retry sweeper
func NewSweeper(store DeliveryStore, engine *Engine, logger *observability.Logger, config SweeperConfig) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = 15 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = 2 * time.Minute
	}
	return &Sweeper{
		store:  store,
		engine: engine,
		logger: logger,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or the context is cancelled.
// An immediate first sweep recovers deliveries left due by a previous process.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)

		s.sweep(ctx)

		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now()
	claimed, err := s.store.ClaimDue(ctx, now, s.config.ClaimLease, s.config.BatchSize)
	if err != nil {
		s.logger.WithError(err).Error("failed to claim due deliveries")
		return
	}
	if len(claimed) == 0 {
		return
	}

	if s.engine.metrics != nil {
		s.engine.metrics.SweepClaimedTotal.Add(float64(len(claimed)))
	}
	s.logger.WithField("count", len(claimed)).Debug("claimed due deliveries")

	for _, d := range claimed {
		deliveryID := d.ID
		async.SafeGo(ctx, s.engine.config.RequestTimeout+30*time.Second, "webhook-retry", func(taskCtx context.Context) error {
			return s.engine.Attempt(taskCtx, deliveryID)
		})
	}
}
