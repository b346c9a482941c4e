package usecase

import (
	"context"
	"time"

	"expert-booking/internal/data/entity"

	"go.uber.org/zap"
)

// Routing keys of booking notification events.
const (
	EventBookingHeld      = "booking.held"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingEnded     = "booking.ended"
)

const publishTimeout = 5 * time.Second

type BookingEvent struct {
	Event      string    `json:"event"`
	SlotID     string    `json:"slot_id"`
	ExpertID   string    `json:"expert_id"`
	ClientID   string    `json:"client_id"`
	Date       string    `json:"date"`
	Start      string    `json:"start"`
	End        string    `json:"end"`
	Price      string    `json:"price"`
	Visio      bool      `json:"visio"`
	Location   *string   `json:"location,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// notifier publishes fire-and-forget events. Failures are logged only.
type notifier struct {
	pub Publisher
	log *zap.Logger
}

func newNotifier(pub Publisher, log *zap.Logger) *notifier {
	return &notifier{pub: pub, log: log.With(zap.String("service", "notifier"))}
}

func (n *notifier) publish(ctx context.Context, event string, slot *entity.BookedSlot, now time.Time) {
	if n.pub == nil {
		n.log.Debug("No publisher configured, dropping event",
			zap.String("event", event),
			zap.String("slot_id", slot.ID.String()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	payload := BookingEvent{
		Event:      event,
		SlotID:     slot.ID.String(),
		ExpertID:   slot.ExpertID.String(),
		ClientID:   slot.ClientID.String(),
		Date:       slot.Date.String(),
		Start:      slot.Start.String(),
		End:        slot.End.String(),
		Price:      slot.Price.StringFixed(2),
		Visio:      slot.Visio,
		Location:   slot.Location,
		OccurredAt: now,
	}

	if err := n.pub.PublishJSON(ctx, event, payload); err != nil {
		n.log.Warn("Failed to publish event",
			zap.Error(err),
			zap.String("event", event),
			zap.String("slot_id", slot.ID.String()),
		)
	}
}
