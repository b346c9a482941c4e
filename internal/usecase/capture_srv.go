package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"expert-booking/internal/data/entity"
	"expert-booking/internal/data/repository"
	"expert-booking/pkg/payment"
	"expert-booking/pkg/utils"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type CaptureService interface {
	// SweepCaptures captures every authorization whose scheduled time has come.
	SweepCaptures(ctx context.Context) (SweepResult, error)
}

type SweepResult struct {
	Due      int
	Captured int
	Failed   int
}

type captureService struct {
	repo    *repository.Repository
	gateway PaymentGateway
	config  utils.JobsConfig
	now     func() time.Time
	log     *zap.Logger
}

func NewCaptureService(repo *repository.Repository, gateway PaymentGateway, config utils.JobsConfig, now func() time.Time, log *zap.Logger) CaptureService {
	return &captureService{
		repo:    repo,
		gateway: gateway,
		config:  config,
		now:     now,
		log:     log.With(zap.String("service", "capture")),
	}
}

func (s *captureService) SweepCaptures(ctx context.Context) (SweepResult, error) {
	ctx, span := tracer.Start(ctx, "capture.sweep")
	defer span.End()

	now := s.now()
	due, err := s.repo.BookedSlot.FindDueForCapture(ctx, now, s.config.CaptureBatchSize)
	if err != nil {
		s.log.Error("Failed to load slots due for capture", zap.Error(err))
		return SweepResult{}, err
	}
	span.SetAttributes(attribute.Int("due", len(due)))

	var captured, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(max(s.config.CaptureConcurrency, 1))

	for _, slot := range due {
		g.Go(func() error {
			if s.captureOne(ctx, slot, now) {
				captured.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := SweepResult{Due: len(due), Captured: int(captured.Load()), Failed: int(failed.Load())}
	if result.Due > 0 {
		s.log.Info("Capture sweep finished",
			zap.Int("due", result.Due),
			zap.Int("captured", result.Captured),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// captureOne never returns an error: a failed slot stays authorized for the next sweep.
func (s *captureService) captureOne(ctx context.Context, slot *entity.BookedSlot, now time.Time) bool {
	if slot.PaymentIntentRef == nil {
		s.log.Error("Authorized slot without payment intent", zap.String("slot_id", slot.ID.String()))
		return false
	}

	if err := s.gateway.Capture(ctx, *slot.PaymentIntentRef); err != nil {
		if errors.Is(err, payment.ErrAuthorizationClosed) {
			s.log.Warn("Authorization no longer capturable, waiting for provider event",
				zap.Error(err),
				zap.String("slot_id", slot.ID.String()),
			)
		} else {
			s.log.Error("Failed to capture payment",
				zap.Error(err),
				zap.String("slot_id", slot.ID.String()),
			)
		}
		return false
	}

	if err := markCaptured(ctx, s.repo, slot, now, s.log); err != nil {
		// The provider's succeeded event will record it.
		s.log.Error("Captured upstream but failed to record", zap.Error(err), zap.String("slot_id", slot.ID.String()))
	}
	return true
}
