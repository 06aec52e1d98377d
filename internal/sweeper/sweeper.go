// Package sweeper runs periodic maintenance over the intent store: stale PENDING intents are
// expired and old terminal intents are purged.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/upimatch/internal/clock"
	"github.com/smallbiznis/upimatch/internal/config"
	obsmetrics "github.com/smallbiznis/upimatch/internal/observability/metrics"
	"github.com/smallbiznis/upimatch/internal/reconcile/domain"
)

var ErrInvalidConfig = errors.New("sweeper: missing dependency")

type Params struct {
	fx.In

	Log     *zap.Logger
	Service domain.Service
	Clock   clock.Clock
	Rules   *config.MatchingRulesHolder
	Metrics *obsmetrics.SweeperMetrics `optional:"true"`
	Config  Config                     `optional:"true"`
}

type Sweeper struct {
	log     *zap.Logger
	svc     domain.Service
	clock   clock.Clock
	rules   *config.MatchingRulesHolder
	metrics *obsmetrics.SweeperMetrics
	cfg     Config
}

func New(p Params) (*Sweeper, error) {
	if p.Log == nil || p.Service == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		log:     p.Log.Named("sweeper"),
		svc:     p.Service,
		clock:   p.Clock,
		rules:   p.Rules,
		metrics: p.Metrics,
		cfg:     p.Config.withDefaults(),
	}, nil
}

// runJob bounds fn by timeout and records its outcome. Timeouts are logged and swallowed so
// the next tick retries.
func (s *Sweeper) runJob(parent context.Context, name string, fn func(ctx context.Context) (int, error)) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	s.metrics.IncJobRun(name)
	processed, err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	s.metrics.AddProcessed(name, processed)
	if err == nil {
		if processed > 0 {
			s.log.Debug("job finished", zap.String("job", name), zap.Int("processed", processed))
		}
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobTimeout(name)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce expires stale intents, then purges terminal ones past retention.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	rules := s.rules.Get()
	now := s.clock.Now()

	err := s.runJob(ctx, obsmetrics.JobExpirePending, func(ctx context.Context) (int, error) {
		expired, err := s.svc.ExpirePending(ctx, now.Add(-rules.ExpireAfter))
		return len(expired), err
	})
	err = errors.Join(err, s.runJob(ctx, obsmetrics.JobPurgeTerminal, func(ctx context.Context) (int, error) {
		return s.svc.Purge(ctx, now.Add(-rules.Retention))
	}))

	s.metrics.SetPending(s.svc.Stats(ctx).Pending)
	return err
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.metrics.ObserveRunLoopLag(time.Since(nextRun))
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}
