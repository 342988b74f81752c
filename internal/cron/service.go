package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/metrics"
)

const defaultInterval = 15 * time.Minute

// ServiceParams configure the sweep service. LockRefresh, when set, extends
// the lock on that period while a cycle is running.
type ServiceParams struct {
	Logger      *logger.Logger
	Registry    *Registry
	Lock        Lock
	Metrics     *metrics.CronJobMetrics
	Interval    time.Duration
	LockRefresh time.Duration
}

// Service executes the registered sweep on a fixed cadence. Only the
// instance holding the lock runs a cycle.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	refresh  time.Duration
	now      func() time.Time
}

// CycleReport summarizes one sweep. Skipped lists jobs not run because a
// gate failed earlier in the cycle.
type CycleReport struct {
	StartedAt time.Time
	Duration  time.Duration
	LockHeld  bool
	Ran       []string
	Failed    []string
	Skipped   []string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		refresh:  params.LockRefresh,
		now:      time.Now,
	}, nil
}

// Run sweeps immediately and then once per interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	report, err := s.RunOnce(ctx)
	s.logCycle(ctx, report, err)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := s.RunOnce(ctx)
			s.logCycle(ctx, report, err)
		}
	}
}

// RunOnce performs a single sweep if the lock can be taken. Job failures are
// reported, not returned; the error covers lock handling only.
func (s *Service) RunOnce(ctx context.Context) (CycleReport, error) {
	report := CycleReport{StartedAt: s.now()}
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return report, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		return report, nil
	}
	report.LockHeld = true
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release sweep lock", err)
		}
	}()

	stopRefresh := s.keepLock(ctx)
	defer stopRefresh()

	gateFailed := false
	for _, st := range s.registry.snapshot() {
		name := st.job.Name()
		if gateFailed || ctx.Err() != nil {
			report.Skipped = append(report.Skipped, name)
			s.metrics.IncSkipped(name)
			continue
		}
		report.Ran = append(report.Ran, name)
		if err := s.runJob(ctx, st.job); err != nil {
			report.Failed = append(report.Failed, name)
			gateFailed = st.gate
		}
	}
	report.Duration = s.now().Sub(report.StartedAt)
	return report, nil
}

// keepLock refreshes the lock until the returned stop func is called.
func (s *Service) keepLock(ctx context.Context) func() {
	refresher, ok := s.lock.(Refresher)
	if !ok || s.refresh <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := refresher.Refresh(ctx); err != nil && ctx.Err() == nil {
					s.logg.Error(ctx, "failed to refresh sweep lock", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)

	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return err
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
	return nil
}

func (s *Service) logCycle(ctx context.Context, report CycleReport, err error) {
	if err != nil {
		s.logg.Error(ctx, "sweep cycle failed", err)
		return
	}
	if !report.LockHeld {
		s.logg.Info(ctx, "another sync worker holds the sweep lock; skipping cycle")
		return
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"ran":         report.Ran,
		"failed":      report.Failed,
		"skipped":     report.Skipped,
		"duration_ms": report.Duration.Milliseconds(),
	})
	if len(report.Failed) > 0 {
		s.logg.Warn(ctx, "sweep cycle finished with failures")
		return
	}
	s.logg.Info(ctx, "sweep cycle complete")
}
