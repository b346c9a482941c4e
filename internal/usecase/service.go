package usecase

import (
	"context"
	"time"

	"expert-booking/internal/data/repository"
	"expert-booking/pkg/payment"
	"expert-booking/pkg/utils"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("expert-booking/usecase")

// PaymentGateway is the card payment provider.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, params payment.CheckoutParams) (*payment.CheckoutSession, error)
	Capture(ctx context.Context, paymentIntentRef string) error
	CancelAuthorization(ctx context.Context, paymentIntentRef string) error
	Refund(ctx context.Context, paymentIntentRef string) error
	ExpireCheckout(ctx context.Context, sessionRef string) error
	ParseEvent(payload []byte, signature string) (*payment.Event, error)
}

// Publisher delivers notification events to the messaging collaborator.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// EventDeduper remembers provider event ids already applied. A claim is taken with a
// short TTL before the event is applied and extended by Confirm once it succeeded.
type EventDeduper interface {
	Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	Confirm(ctx context.Context, eventID string, ttl time.Duration) error
	Release(ctx context.Context, eventID string) error
}

type Service struct {
	Availability AvailabilityService
	Booking      BookingService
	Payment      PaymentService
	Capture      CaptureService
}

// Dependencies groups what the services need. Publisher, Deduper and Now are optional.
type Dependencies struct {
	Repo      *repository.Repository
	Config    *utils.Config
	Gateway   PaymentGateway
	Publisher Publisher
	Deduper   EventDeduper
	Now       func() time.Time
}

func NewService(deps Dependencies, log *zap.Logger) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	notices := newNotifier(deps.Publisher, log)
	availability := NewAvailabilityService(deps.Repo, deps.Config.Booking, deps.Now, log)

	return &Service{
		Availability: availability,
		Booking:      NewBookingService(deps.Repo, availability, deps.Gateway, notices, deps.Config.Booking, deps.Now, log),
		Payment:      NewPaymentService(deps.Repo, deps.Gateway, deps.Deduper, notices, deps.Config, deps.Now, log),
		Capture:      NewCaptureService(deps.Repo, deps.Gateway, deps.Config.Jobs, deps.Now, log),
	}
}
