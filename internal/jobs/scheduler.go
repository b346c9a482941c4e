package jobs

import (
	"context"
	"fmt"
	"time"

	"expert-booking/internal/usecase"
	"expert-booking/pkg/utils"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// sweepTimeout bounds a single run of either sweep.
const sweepTimeout = 4 * time.Minute

type CaptureSweeper interface {
	SweepCaptures(ctx context.Context) (usecase.SweepResult, error)
}

type EndedMarker interface {
	MarkEndedAppointments(ctx context.Context) (int, error)
}

// Scheduler runs the periodic sweeps on cron schedules in the operating timezone.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  *zap.Logger
}

func NewScheduler(ctx context.Context, capture CaptureSweeper, ended EndedMarker, jobs utils.JobsConfig, loc *time.Location, log *zap.Logger) (*Scheduler, error) {
	log = log.With(zap.String("component", "scheduler"))
	cronLog := zapCronLogger{log: log}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		ctx: ctx,
		log: log,
	}

	if _, err := s.cron.AddFunc(jobs.CaptureCron, s.captureJob(capture)); err != nil {
		return nil, fmt.Errorf("schedule capture sweep %q: %w", jobs.CaptureCron, err)
	}
	if _, err := s.cron.AddFunc(jobs.EndedCron, s.endedJob(ended)); err != nil {
		return nil, fmt.Errorf("schedule ended sweep %q: %w", jobs.EndedCron, err)
	}
	return s, nil
}

func (s *Scheduler) captureJob(capture CaptureSweeper) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, sweepTimeout)
		defer cancel()

		result, err := capture.SweepCaptures(ctx)
		if err != nil {
			s.log.Error("Capture sweep failed", zap.Error(err))
			return
		}
		if result.Due > 0 {
			s.log.Info("Capture sweep finished",
				zap.Int("due", result.Due),
				zap.Int("captured", result.Captured),
				zap.Int("failed", result.Failed),
			)
		}
	}
}

func (s *Scheduler) endedJob(ended EndedMarker) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, sweepTimeout)
		defer cancel()

		if _, err := ended.MarkEndedAppointments(ctx); err != nil {
			s.log.Error("Ended sweep failed", zap.Error(err))
		}
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for running ones, or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("Scheduler stop timed out with jobs still running")
	}
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	log *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, zap.Any("details", keysAndValues))
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
