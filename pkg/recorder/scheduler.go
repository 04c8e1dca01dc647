package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/enx-analytics/pkg/observability"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultFlushSchedule submits pending analytics every 15 minutes
	DefaultFlushSchedule = "*/15 * * * *"
	// DefaultFlushTimeout bounds a scheduled flush
	DefaultFlushTimeout = 2 * time.Minute
)

// Scheduler triggers FlushIfEnabled on a cron schedule. Unlike an explicit
// flush, scheduled runs are skipped while the recorder is backing off after
// transient failures.
type Scheduler struct {
	recorder *Recorder
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	log      *logrus.Logger
}

// NewScheduler parses schedule (standard 5-field cron syntax, or a
// descriptor such as "@every 10m") and returns a stopped scheduler
func NewScheduler(r *Recorder, schedule string, timeout time.Duration, log *logrus.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultFlushSchedule
	}
	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}
	if log == nil {
		log = logrus.New()
	}

	cronLog := cron.PrintfLogger(log)
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	s := &Scheduler{recorder: r, cron: c, schedule: schedule, timeout: timeout, log: log}
	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid flush schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("Analytics flush scheduler started")
}

// Stop stops the scheduler and waits for a running flush to finish or ctx
// to expire
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("Analytics flush scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce performs one scheduled flush. It returns a FlushResultBackoff
// report without flushing while a backoff is in effect.
func (s *Scheduler) RunOnce(ctx context.Context) FlushReport {
	r := s.recorder
	if until := r.BackoffUntil(); !until.IsZero() && r.now().Before(until) {
		r.metrics.FlushesTotal.WithLabelValues(observability.FlushResultBackoff).Inc()
		s.log.WithField("retry_after", until).Debug("Skipping scheduled analytics flush during backoff")
		return FlushReport{Result: observability.FlushResultBackoff}
	}

	report := r.FlushIfEnabled(ctx)
	if report.Sent() {
		s.log.WithFields(logrus.Fields{
			"batch_id": report.BatchID,
			"events":   report.Events,
			"outcome":  report.Outcome.String(),
		}).Debug("Scheduled analytics flush finished")
	}
	return report
}
