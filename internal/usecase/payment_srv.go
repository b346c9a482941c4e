package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"expert-booking/internal/calendar"
	"expert-booking/internal/data/entity"
	"expert-booking/internal/data/repository"
	"expert-booking/internal/dto/request"
	"expert-booking/internal/dto/response"
	"expert-booking/pkg/payment"
	"expert-booking/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// eventInFlightTTL bounds a claim taken before the event is applied. A process that dies
// mid-apply leaves the event free for the provider's next redelivery.
const eventInFlightTTL = 5 * time.Minute

type PaymentService interface {
	StartCheckout(ctx context.Context, principal utils.Principal, slotID string, req *request.CheckoutRequest) (*response.CheckoutResponse, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type paymentService struct {
	repo    *repository.Repository
	gateway PaymentGateway
	deduper EventDeduper
	notices *notifier
	config  *utils.Config
	capture calendar.CaptureRule
	now     func() time.Time
	log     *zap.Logger
}

func NewPaymentService(repo *repository.Repository, gateway PaymentGateway, deduper EventDeduper, notices *notifier, config *utils.Config, now func() time.Time, log *zap.Logger) PaymentService {
	return &paymentService{
		repo:    repo,
		gateway: gateway,
		deduper: deduper,
		notices: notices,
		config:  config,
		capture: calendar.CaptureRule{
			Weekday:  config.Booking.CaptureWeekday,
			At:       calendar.MustParseClock(config.Booking.CaptureTime),
			Location: config.Booking.Location,
		},
		now: now,
		log: log.With(zap.String("service", "payment")),
	}
}

func (s *paymentService) StartCheckout(ctx context.Context, principal utils.Principal, slotID string, req *request.CheckoutRequest) (*response.CheckoutResponse, error) {
	ctx, span := tracer.Start(ctx, "payment.start_checkout")
	defer span.End()
	span.SetAttributes(attribute.String("slot_id", slotID))

	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, NewValidationError("validation failed: %s", utils.FormatValidationErrors(errs))
	}

	slotUUID, err := uuid.Parse(slotID)
	if err != nil {
		return nil, NewValidationError("invalid slot ID format %s", slotID)
	}
	slot, err := s.repo.BookedSlot.FindByID(ctx, slotUUID)
	if err != nil {
		return nil, fmt.Errorf("find booked slot %s: %w", slotID, err)
	}
	if slot == nil {
		return nil, NewNotFoundError("booked slot %s not found", slotID)
	}
	if slot.ClientID != principal.ID {
		return nil, NewAuthorizationError("only the slot's client can pay for it")
	}

	now := s.now()
	switch state := slot.State(now); state {
	case entity.SlotStateHeld:
	case entity.SlotStateCheckoutStarted:
		if slot.CheckoutSessionRef != nil && slot.CheckoutURL != nil {
			return existingCheckout(slot), nil
		}
		return nil, NewConflictError("checkout for slot %s is already in progress", slotID)
	default:
		return nil, NewConflictError("slot %s is %s, checkout needs an active hold", slotID, state)
	}

	expiresAt := now.Add(time.Duration(s.config.Payment.CheckoutTTLMinutes) * time.Minute)
	amount := slot.Price

	var promoCode *string
	if req.PromoCode != nil && strings.TrimSpace(*req.PromoCode) != "" {
		code := strings.TrimSpace(*req.PromoCode)
		amount, err = s.reservePromo(ctx, code, slot, expiresAt, now)
		if err != nil {
			return nil, err
		}
		promoCode = &code
	}

	successURL, cancelURL := s.config.Payment.SuccessURL, s.config.Payment.CancelURL
	if req.SuccessURL != "" {
		successURL = req.SuccessURL
	}
	if req.CancelURL != "" {
		cancelURL = req.CancelURL
	}

	session, err := s.gateway.CreateCheckout(ctx, payment.CheckoutParams{
		SlotID:      slot.ID.String(),
		Amount:      amount,
		Currency:    s.config.Payment.Currency,
		Description: fmt.Sprintf("Appointment on %s %s-%s", slot.Date, slot.Start, slot.End),
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		s.releasePromo(ctx, promoCode, slot.ID)
		return nil, NewUpstreamPaymentError(err, "could not start checkout")
	}

	started, err := s.repo.BookedSlot.MarkCheckoutStarted(ctx, slot.ID, repository.CheckoutUpdate{
		SessionRef: session.ID,
		URL:        session.URL,
		HoldUntil:  session.ExpiresAt,
		AmountDue:  amount,
		PromoCode:  promoCode,
		Now:        now,
	})
	if err != nil || !started {
		// The hold lapsed or another checkout won; the orphan session must not be payable.
		if expireErr := s.gateway.ExpireCheckout(ctx, session.ID); expireErr != nil {
			s.log.Warn("Failed to expire orphan checkout session", zap.Error(expireErr), zap.String("session_id", session.ID))
		}
		s.releasePromo(ctx, promoCode, slot.ID)
		if err != nil {
			return nil, err
		}
		return nil, NewConflictError("hold on slot %s ended before checkout started", slotID)
	}

	s.log.Info("Checkout started",
		zap.String("slot_id", slotID),
		zap.String("session_id", session.ID),
		zap.String("amount", amount.StringFixed(2)),
	)

	return &response.CheckoutResponse{
		SlotID:    slotID,
		SessionID: session.ID,
		URL:       session.URL,
		AmountDue: amount.StringFixed(2),
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func existingCheckout(slot *entity.BookedSlot) *response.CheckoutResponse {
	amount := slot.Price
	if slot.AmountDue != nil {
		amount = *slot.AmountDue
	}
	resp := &response.CheckoutResponse{
		SlotID:    slot.ID.String(),
		SessionID: *slot.CheckoutSessionRef,
		URL:       *slot.CheckoutURL,
		AmountDue: amount.StringFixed(2),
	}
	if slot.HoldExpiresAt != nil {
		resp.ExpiresAt = *slot.HoldExpiresAt
	}
	return resp
}

// reservePromo validates a code, locks it for the slot until the session expires and
// returns the discounted amount.
func (s *paymentService) reservePromo(ctx context.Context, code string, slot *entity.BookedSlot, until, now time.Time) (decimal.Decimal, error) {
	promo, err := s.repo.PromoCode.FindByCode(ctx, code)
	if err != nil {
		return decimal.Zero, fmt.Errorf("find promo code %s: %w", code, err)
	}
	if promo == nil || !promo.Active || !promo.InWindow(now) || promo.Used {
		return decimal.Zero, NewValidationError("promo code %s is not valid", code)
	}
	if promo.ReservedByOther(slot.ID, now) {
		return decimal.Zero, NewConflictError("promo code %s is reserved by another checkout", code)
	}

	amount := ApplyDiscount(slot.Price, promo.PercentOff)
	if !amount.IsPositive() {
		return decimal.Zero, NewValidationError("promo code %s cannot cover the full price", code)
	}

	reserved, err := s.repo.PromoCode.Reserve(ctx, code, slot.ID, until, now)
	if err != nil {
		return decimal.Zero, err
	}
	if !reserved {
		return decimal.Zero, NewConflictError("promo code %s is reserved by another checkout", code)
	}
	return amount, nil
}

func (s *paymentService) releasePromo(ctx context.Context, code *string, slotID uuid.UUID) {
	if code == nil {
		return
	}
	if err := s.repo.PromoCode.Release(ctx, *code, slotID); err != nil {
		s.log.Warn("Failed to release promo code", zap.Error(err), zap.String("slot_id", slotID.String()))
	}
}

func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			s.log.Warn("Rejected webhook", zap.Error(err))
			return NewValidationError("invalid webhook signature")
		}
		return err
	}

	ctx, span := tracer.Start(ctx, "payment.webhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", event.ID),
		attribute.String("event_type", event.Type),
	)

	claimed := false
	if s.deduper != nil {
		ok, err := s.deduper.Claim(ctx, event.ID, eventInFlightTTL)
		if err != nil {
			// State transitions are conditional, so applying twice is still safe.
			s.log.Warn("Event dedup unavailable", zap.Error(err), zap.String("event_id", event.ID))
		} else if !ok {
			s.log.Debug("Event already applied", zap.String("event_id", event.ID))
			return nil
		}
		claimed = ok
	}

	if err := s.apply(ctx, event); err != nil {
		if claimed {
			if relErr := s.deduper.Release(ctx, event.ID); relErr != nil {
				s.log.Warn("Failed to release event claim", zap.Error(relErr), zap.String("event_id", event.ID))
			}
		}
		s.log.Error("Failed to apply payment event",
			zap.Error(err),
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		return err
	}

	if claimed {
		if err := s.deduper.Confirm(ctx, event.ID, s.config.Payment.WebhookDedupTTL); err != nil {
			s.log.Warn("Failed to confirm event claim", zap.Error(err), zap.String("event_id", event.ID))
		}
	}
	return nil
}

func (s *paymentService) apply(ctx context.Context, event *payment.Event) error {
	switch event.Kind {
	case payment.EventIgnored:
		s.log.Debug("Ignoring payment event", zap.String("event_type", event.Type))
		return nil
	case payment.EventAccountUpdated:
		s.log.Info("Connected account updated", zap.String("event_id", event.ID))
		return nil
	}

	slot, err := s.resolveSlot(ctx, event)
	if err != nil {
		return err
	}
	if slot == nil {
		s.log.Warn("Payment event for unknown slot",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("slot_id", event.SlotID),
		)
		return nil
	}

	now := s.now()
	from := slot.State(now)

	// A late authorization must not keep money reserved for a cancelled appointment.
	if from == entity.SlotStateCancelled && event.Kind == payment.EventAuthorized {
		return s.voidLateAuthorization(ctx, slot, event)
	}

	to, ok := nextState(from, event.Kind)
	if !ok {
		s.log.Info("Stale payment event",
			zap.String("event_id", event.ID),
			zap.String("slot_id", slot.ID.String()),
			zap.String("state", string(from)),
			zap.String("event_kind", string(event.Kind)),
		)
		return nil
	}

	if from == entity.SlotStateHoldExpired && (to == entity.SlotStateAuthorized || to == entity.SlotStateCaptured) {
		return s.reclaimLapsedHold(ctx, slot, event, to, now)
	}

	switch to {
	case entity.SlotStateAuthorized:
		return s.authorize(ctx, slot, event, now)
	case entity.SlotStateCaptured:
		if err := markCaptured(ctx, s.repo, slot, now, s.log); err != nil {
			return err
		}
		s.confirm(ctx, slot, now)
		return nil
	case entity.SlotStateVoided:
		changed, err := s.repo.BookedSlot.MarkVoided(ctx, slot.ID)
		if err != nil {
			return err
		}
		if changed {
			s.releasePromo(ctx, slot.PromoCode, slot.ID)
			s.log.Info("Authorization voided", zap.String("slot_id", slot.ID.String()))
		}
		return nil
	case entity.SlotStateCancelled:
		changed, err := s.cancelUnpaid(ctx, slot, now)
		if err != nil {
			return err
		}
		if changed {
			s.log.Info("Checkout failed, slot cancelled", zap.String("slot_id", slot.ID.String()))
		}
		return nil
	}
	return nil
}

// cancelUnpaid cancels a slot that never got an authorization and frees what it held.
func (s *paymentService) cancelUnpaid(ctx context.Context, slot *entity.BookedSlot, now time.Time) (bool, error) {
	changed, err := s.repo.BookedSlot.MarkPaymentFailed(ctx, slot.ID)
	if err != nil || !changed {
		return false, err
	}
	s.releasePromo(ctx, slot.PromoCode, slot.ID)
	if err := s.repo.Availability.RemoveSlotRef(ctx, slot.ExpertID, slot.Date, slot.ID); err != nil {
		s.log.Warn("Failed to remove slot from day index", zap.Error(err), zap.String("slot_id", slot.ID.String()))
	}
	s.notices.publish(ctx, EventBookingCancelled, slot, now)
	return true, nil
}

func (s *paymentService) resolveSlot(ctx context.Context, event *payment.Event) (*entity.BookedSlot, error) {
	if event.SlotID != "" {
		slotUUID, err := uuid.Parse(event.SlotID)
		if err != nil {
			s.log.Warn("Malformed slot id in payment metadata", zap.String("slot_id", event.SlotID))
			return nil, nil
		}
		return s.repo.BookedSlot.FindByID(ctx, slotUUID)
	}
	if event.SessionRef != "" {
		return s.repo.BookedSlot.FindByCheckoutSession(ctx, event.SessionRef)
	}
	return nil, nil
}

func (s *paymentService) authorize(ctx context.Context, slot *entity.BookedSlot, event *payment.Event, now time.Time) error {
	if event.PaymentIntentRef == "" {
		s.log.Warn("Authorization without payment intent", zap.String("event_id", event.ID))
		return nil
	}

	captureAt := s.capture.Next(now, slot.EndsAt(s.config.Booking.Location))
	changed, err := s.repo.BookedSlot.MarkAuthorized(ctx, slot.ID, event.PaymentIntentRef, now, captureAt)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.holdPromoUntilCapture(ctx, slot, now)

	s.log.Info("Payment authorized",
		zap.String("slot_id", slot.ID.String()),
		zap.Time("capture_scheduled_for", captureAt),
	)
	s.confirm(ctx, slot, now)
	return nil
}

// reclaimLapsedHold applies a payment that landed after the slot's hold lapsed. Under the
// day lock it either takes the interval back or, when another booking holds it now, hands
// the money back and cancels the slot.
func (s *paymentService) reclaimLapsedHold(ctx context.Context, slot *entity.BookedSlot, event *payment.Event, to entity.SlotState, now time.Time) error {
	if event.PaymentIntentRef == "" {
		s.log.Warn("Payment event without payment intent", zap.String("event_id", event.ID))
		return nil
	}

	expert, err := s.repo.Expert.FindByID(ctx, slot.ExpertID)
	if err != nil {
		return fmt.Errorf("find expert %s: %w", slot.ExpertID.String(), err)
	}
	gap := 0
	if expert != nil {
		gap = expert.GapMinutes
	}

	captureAt := s.capture.Next(now, slot.EndsAt(s.config.Booking.Location))
	var (
		clash   *calendar.Interval
		changed bool
	)
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context, tx *repository.Repository) error {
		day, err := tx.Availability.LockByExpertAndDate(ctx, slot.ExpertID, slot.Date)
		if err != nil {
			return err
		}
		if day == nil {
			own := slot.Interval()
			clash = &own
			return nil
		}

		others := make([]uuid.UUID, 0, len(day.BookedSlotIDs))
		for _, id := range day.BookedSlotIDs {
			if id != slot.ID {
				others = append(others, id)
			}
		}
		booked, err := tx.BookedSlot.FindByIDs(ctx, others)
		if err != nil {
			return err
		}
		if clash = findClash(booked, slot.Interval(), gap, now); clash != nil {
			return nil
		}

		if to == entity.SlotStateCaptured {
			return markCaptured(ctx, tx, slot, now, s.log)
		}
		changed, err = tx.BookedSlot.MarkAuthorized(ctx, slot.ID, event.PaymentIntentRef, now, captureAt)
		return err
	})
	if err != nil {
		return err
	}

	if clash != nil {
		return s.refuseLapsedPayment(ctx, slot, event, to, *clash, now)
	}
	if changed {
		s.holdPromoUntilCapture(ctx, slot, now)
		s.log.Info("Payment authorized after hold lapsed",
			zap.String("slot_id", slot.ID.String()),
			zap.Time("capture_scheduled_for", captureAt),
		)
	}
	s.confirm(ctx, slot, now)
	return nil
}

// refuseLapsedPayment returns the money of a slot whose interval was rebooked while its
// hold was lapsed, then cancels the slot. A failed provider call leaves the slot as it is
// so the redelivered event runs the check again.
func (s *paymentService) refuseLapsedPayment(ctx context.Context, slot *entity.BookedSlot, event *payment.Event, to entity.SlotState, clash calendar.Interval, now time.Time) error {
	var err error
	if to == entity.SlotStateCaptured {
		err = s.gateway.Refund(ctx, event.PaymentIntentRef)
	} else {
		err = s.gateway.CancelAuthorization(ctx, event.PaymentIntentRef)
	}
	if err != nil && !errors.Is(err, payment.ErrAuthorizationClosed) {
		return fmt.Errorf("return payment of slot %s: %w", slot.ID.String(), err)
	}

	if _, err := s.cancelUnpaid(ctx, slot, now); err != nil {
		return err
	}
	s.log.Warn("Payment arrived after the hold lapsed and the interval was rebooked",
		zap.String("slot_id", slot.ID.String()),
		zap.String("payment_intent", event.PaymentIntentRef),
		zap.String("event_kind", string(event.Kind)),
		zap.String("clash", clash.Start.String()+"-"+clash.End.String()),
	)
	return nil
}

// holdPromoUntilCapture keeps the slot's promo reservation alive past the checkout session,
// until the payment is captured or voided.
func (s *paymentService) holdPromoUntilCapture(ctx context.Context, slot *entity.BookedSlot, now time.Time) {
	if slot.PromoCode == nil {
		return
	}
	held, err := s.repo.PromoCode.HoldUntilCapture(ctx, *slot.PromoCode, slot.ID, now)
	if err != nil {
		s.log.Warn("Failed to hold promo code until capture", zap.Error(err), zap.String("slot_id", slot.ID.String()))
		return
	}
	if !held {
		s.log.Warn("Promo code no longer reserved for the authorized slot",
			zap.String("slot_id", slot.ID.String()),
			zap.String("code", *slot.PromoCode),
		)
	}
}

func (s *paymentService) voidLateAuthorization(ctx context.Context, slot *entity.BookedSlot, event *payment.Event) error {
	if event.PaymentIntentRef == "" {
		return nil
	}
	err := s.gateway.CancelAuthorization(ctx, event.PaymentIntentRef)
	if err != nil && !errors.Is(err, payment.ErrAuthorizationClosed) {
		return fmt.Errorf("void late authorization of slot %s: %w", slot.ID.String(), err)
	}
	s.log.Info("Voided authorization of cancelled slot", zap.String("slot_id", slot.ID.String()))
	return nil
}

// confirm announces a confirmed booking once per slot.
func (s *paymentService) confirm(ctx context.Context, slot *entity.BookedSlot, now time.Time) {
	claimed, err := s.repo.BookedSlot.ClaimConfirmationNotice(ctx, slot.ID)
	if err != nil {
		s.log.Warn("Failed to claim confirmation notice", zap.Error(err), zap.String("slot_id", slot.ID.String()))
		return
	}
	if claimed {
		s.notices.publish(ctx, EventBookingConfirmed, slot, now)
	}
}

// markCaptured records a capture and consumes the promo code it used.
func markCaptured(ctx context.Context, repo *repository.Repository, slot *entity.BookedSlot, now time.Time, log *zap.Logger) error {
	changed, err := repo.BookedSlot.MarkCaptured(ctx, slot.ID, now)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if slot.PromoCode != nil {
		if _, err := repo.PromoCode.Consume(ctx, *slot.PromoCode, slot.ID); err != nil {
			log.Warn("Failed to consume promo code", zap.Error(err), zap.String("slot_id", slot.ID.String()))
		}
	}

	log.Info("Payment captured", zap.String("slot_id", slot.ID.String()))
	return nil
}
