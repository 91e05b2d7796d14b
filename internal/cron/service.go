package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/apmatch-backend/pkg/logger"
	"github.com/angelmondragon/apmatch-backend/pkg/metrics"
)

const defaultInterval = 15 * time.Minute

// ServiceParams configure the cron service. CycleTimeout bounds one pass over
// every job and should stay below the lock TTL so the lock never lapses while
// jobs are still running.
type ServiceParams struct {
	Logger       *logger.Logger
	Registry     *Registry
	Lock         Lock
	Metrics      *metrics.CronJobMetrics
	Interval     time.Duration
	CycleTimeout time.Duration
}

// Service runs the registered jobs once per interval while it holds the
// shared lock. Replicas that lose the lock skip the cycle.
type Service struct {
	logg         *logger.Logger
	registry     *Registry
	lock         Lock
	metrics      *metrics.CronJobMetrics
	interval     time.Duration
	cycleTimeout time.Duration
}

// CycleResult summarises one call to RunOnce.
type CycleResult struct {
	Skipped bool
	Ran     int
	Failed  []string
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Lock == nil:
		return nil, fmt.Errorf("lock required")
	case params.CycleTimeout < 0:
		return nil, fmt.Errorf("cycle timeout must not be negative")
	}
	svc := &Service{
		logg:         params.Logger,
		registry:     params.Registry,
		lock:         params.Lock,
		metrics:      params.Metrics,
		interval:     params.Interval,
		cycleTimeout: params.CycleTimeout,
	}
	if svc.registry == nil {
		svc.registry = &Registry{}
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	return svc, nil
}

// Run starts with a cycle and then repeats on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"jobs":     s.registry.Names(),
		"interval": s.interval.String(),
	}), "cron.started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron.cycle_failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce takes the lock and runs every job in order. A failing job does not
// stop the ones after it; its name is reported in the result instead.
func (s *Service) RunOnce(ctx context.Context) (CycleResult, error) {
	var result CycleResult
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return result, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Debug(ctx, "cron.lock_held_elsewhere")
		result.Skipped = true
		return result, nil
	}
	defer func() {
		// ctx may already be done; release on a fresh context so the
		// next replica is not kept waiting for the TTL.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(releaseCtx); err != nil {
			s.logg.Error(ctx, "cron.lock_release_failed", err)
		}
	}()

	cycleCtx := ctx
	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	s.registry.each(func(job Job) bool {
		if cycleCtx.Err() != nil {
			return false
		}
		result.Ran++
		if err := s.runJob(cycleCtx, job); err != nil {
			result.Failed = append(result.Failed, job.Name())
		}
		return true
	})
	return result, cycleCtx.Err()
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	name := job.Name()
	ctx = s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}
		elapsed := time.Since(start)
		s.metrics.ObserveRun(name, elapsed, err)
		ctx = s.logg.WithField(ctx, "duration_ms", elapsed.Milliseconds())
		if err != nil {
			s.logg.Error(ctx, "cron.job_failed", err)
			return
		}
		s.logg.Info(ctx, "cron.job_completed")
	}()
	return job.Run(ctx)
}
