package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"expert-booking/internal/calendar"
	"expert-booking/internal/data/entity"
	"expert-booking/internal/data/repository"
	"expert-booking/internal/dto/request"
	"expert-booking/internal/dto/response"
	"expert-booking/pkg/payment"
	"expert-booking/pkg/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const endedBatchSize = 500

type BookingService interface {
	// Client endpoints
	BookSlot(ctx context.Context, clientID string, req *request.CreateBookingRequest) (*response.BookedSlotResponse, error)
	ListClientBookings(ctx context.Context, clientID string, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookedSlotResponse], error)

	// Expert endpoints
	ListExpertBookings(ctx context.Context, expertID string, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookedSlotResponse], error)

	// Slot owner endpoints
	GetSlot(ctx context.Context, principal utils.Principal, slotID string) (*response.BookedSlotResponse, error)
	GetSlotByCheckoutSession(ctx context.Context, principal utils.Principal, sessionID string) (*response.BookedSlotResponse, error)
	CancelAppointment(ctx context.Context, principal utils.Principal, slotID string) (*response.BookedSlotResponse, error)

	// Admin endpoints
	DeleteBookedSlot(ctx context.Context, slotID string) error

	// Jobs
	MarkEndedAppointments(ctx context.Context) (int, error)
}

type materializer interface {
	Materialize(ctx context.Context, expertID uuid.UUID) error
}

type bookingService struct {
	repo         *repository.Repository
	availability materializer
	gateway      PaymentGateway
	notices      *notifier
	config       utils.BookingConfig
	now          func() time.Time
	log          *zap.Logger
}

func NewBookingService(repo *repository.Repository, availability materializer, gateway PaymentGateway, notices *notifier, config utils.BookingConfig, now func() time.Time, log *zap.Logger) BookingService {
	return &bookingService{
		repo:         repo,
		availability: availability,
		gateway:      gateway,
		notices:      notices,
		config:       config,
		now:          now,
		log:          log.With(zap.String("service", "booking")),
	}
}

func (s *bookingService) BookSlot(ctx context.Context, clientID string, req *request.CreateBookingRequest) (*response.BookedSlotResponse, error) {
	ctx, span := tracer.Start(ctx, "booking.book_slot")
	defer span.End()

	// Validate request
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Book slot validation failed", zap.Any("errors", errs))
		return nil, NewValidationError("validation failed: %s", utils.FormatValidationErrors(errs))
	}

	clientUUID, err := uuid.Parse(clientID)
	if err != nil {
		return nil, NewValidationError("invalid client ID format %s", clientID)
	}
	expertUUID, err := uuid.Parse(req.ExpertID)
	if err != nil {
		return nil, NewValidationError("invalid expert ID format %s", req.ExpertID)
	}
	specialtyUUID, err := uuid.Parse(req.SpecialtyID)
	if err != nil {
		return nil, NewValidationError("invalid specialty ID format %s", req.SpecialtyID)
	}
	date, err := calendar.ParseDate(req.Date)
	if err != nil {
		return nil, NewValidationError("%v", err)
	}
	start, err := calendar.ParseClock(req.Start)
	if err != nil {
		return nil, NewValidationError("%v", err)
	}

	end := start.Add(req.Duration)
	if int(end) > calendar.MinutesPerDay {
		return nil, NewValidationError("appointment %s-%s crosses midnight", start, end)
	}

	span.SetAttributes(
		attribute.String("expert_id", req.ExpertID),
		attribute.String("date", req.Date),
		attribute.String("start", req.Start),
	)

	expert, err := s.repo.Expert.FindByID(ctx, expertUUID)
	if err != nil {
		return nil, fmt.Errorf("find expert %s: %w", req.ExpertID, err)
	}
	if expert == nil {
		return nil, NewNotFoundError("expert %s not found", req.ExpertID)
	}

	offering, err := s.repo.Expert.FindOffering(ctx, expertUUID, specialtyUUID)
	if err != nil {
		return nil, fmt.Errorf("find offering: %w", err)
	}
	if offering == nil {
		return nil, NewNotFoundError("specialty %s not offered by expert %s", req.SpecialtyID, req.ExpertID)
	}

	now := s.now()
	leadTime := s.config.DefaultLeadMinutes
	if offering.LeadTimeMinutes != nil {
		leadTime = *offering.LeadTimeMinutes
	}
	if date.At(start, s.config.Location).Before(now.Add(time.Duration(leadTime) * time.Minute)) {
		return nil, NewValidationError("appointments must start at least %d minutes from now", leadTime)
	}

	price, err := ResolvePrice(offering.Prices, req.Duration)
	if err != nil {
		return nil, err
	}

	if err := s.availability.Materialize(ctx, expertUUID); err != nil {
		return nil, err
	}

	holdUntil := now.Add(time.Duration(s.config.HoldMinutes) * time.Minute)
	slot := &entity.BookedSlot{
		BaseNoDelete:  entity.BaseNoDelete{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		ExpertID:      expertUUID,
		ClientID:      clientUUID,
		SpecialtyID:   specialtyUUID,
		Date:          date,
		Start:         start,
		End:           end,
		Price:         price,
		Visio:         req.Visio,
		Location:      req.Location,
		HoldExpiresAt: &holdUntil,
	}

	// The day row lock serializes bookings of one expert on one date.
	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context, tx *repository.Repository) error {
		day, err := tx.Availability.LockByExpertAndDate(ctx, expertUUID, date)
		if err != nil {
			return err
		}
		if day == nil {
			return NewNotFoundError("expert %s has no availability on %s", req.ExpertID, req.Date)
		}
		if !day.Covers(start, end) {
			return NewValidationError("%s-%s is outside the expert's availability on %s", start, end, req.Date)
		}

		booked, err := tx.BookedSlot.FindByIDs(ctx, day.BookedSlotIDs)
		if err != nil {
			return err
		}
		if clash := findClash(booked, slot.Interval(), expert.GapMinutes, now); clash != nil {
			return NewConflictError("%s-%s conflicts with booked slot %s-%s", start, end, clash.Start, clash.End)
		}

		if err := tx.BookedSlot.Create(ctx, slot); err != nil {
			return err
		}
		return tx.Availability.AppendSlotRef(ctx, day.ID, slot.ID)
	})
	if err != nil {
		if KindOf(err) == "" {
			s.log.Error("Failed to book slot", zap.Error(err), zap.String("expert_id", req.ExpertID))
		} else {
			s.log.Warn("Booking rejected", zap.Error(err), zap.String("expert_id", req.ExpertID))
		}
		return nil, err
	}

	// Back-references only feed listings; the booking stands without them.
	if err := s.repo.Client.AppendBookedSlot(ctx, clientUUID, slot.ID); err != nil {
		s.log.Warn("Failed to index slot on client", zap.Error(err), zap.String("slot_id", slot.ID.String()))
	}
	if err := s.repo.Expert.AppendBookedSlot(ctx, expertUUID, slot.ID); err != nil {
		s.log.Warn("Failed to index slot on expert", zap.Error(err), zap.String("slot_id", slot.ID.String()))
	}

	s.notices.publish(ctx, EventBookingHeld, slot, now)

	s.log.Info("Slot booked",
		zap.String("slot_id", slot.ID.String()),
		zap.String("expert_id", req.ExpertID),
		zap.String("date", req.Date),
		zap.String("start", start.String()),
		zap.String("price", price.StringFixed(2)),
	)

	resp := response.BookedSlotToResponse(slot, now, s.config.Location)
	return &resp, nil
}

// findClash returns the first blocking slot the candidate would touch, counting the
// expert's gap on both sides of every booked interval.
func findClash(booked []*entity.BookedSlot, candidate calendar.Interval, gap int, now time.Time) *calendar.Interval {
	for _, slot := range booked {
		if !slot.Blocks(now) {
			continue
		}
		padded := calendar.Interval{Start: slot.Start.Add(-gap), End: slot.End.Add(gap)}
		if candidate.Overlaps(padded) {
			clash := slot.Interval()
			return &clash
		}
	}
	return nil
}

func (s *bookingService) GetSlot(ctx context.Context, principal utils.Principal, slotID string) (*response.BookedSlotResponse, error) {
	slot, err := s.loadSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	return s.ownedResponse(principal, slot)
}

func (s *bookingService) GetSlotByCheckoutSession(ctx context.Context, principal utils.Principal, sessionID string) (*response.BookedSlotResponse, error) {
	slot, err := s.repo.BookedSlot.FindByCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find slot by checkout session %s: %w", sessionID, err)
	}
	if slot == nil {
		return nil, NewNotFoundError("no booked slot for checkout session %s", sessionID)
	}
	return s.ownedResponse(principal, slot)
}

func (s *bookingService) ownedResponse(principal utils.Principal, slot *entity.BookedSlot) (*response.BookedSlotResponse, error) {
	if !slot.IsOwnedBy(principal.ID) && !principal.IsAdmin() {
		return nil, NewAuthorizationError("booked slot %s does not belong to you", slot.ID.String())
	}
	resp := response.BookedSlotToResponse(slot, s.now(), s.config.Location)
	return &resp, nil
}

func (s *bookingService) loadSlot(ctx context.Context, slotID string) (*entity.BookedSlot, error) {
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
	return slot, nil
}

func (s *bookingService) ListClientBookings(ctx context.Context, clientID string, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookedSlotResponse], error) {
	clientUUID, err := uuid.Parse(clientID)
	if err != nil {
		return nil, NewValidationError("invalid client ID format %s", clientID)
	}

	client, err := s.repo.Client.FindByID(ctx, clientUUID)
	if err != nil {
		return nil, fmt.Errorf("find client %s: %w", clientID, err)
	}

	var ids []uuid.UUID
	if client != nil {
		ids = client.BookedSlotIDs
	}
	return s.listSlots(ctx, ids, req)
}

func (s *bookingService) ListExpertBookings(ctx context.Context, expertID string, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookedSlotResponse], error) {
	expertUUID, err := uuid.Parse(expertID)
	if err != nil {
		return nil, NewValidationError("invalid expert ID format %s", expertID)
	}

	expert, err := s.repo.Expert.FindByID(ctx, expertUUID)
	if err != nil {
		return nil, fmt.Errorf("find expert %s: %w", expertID, err)
	}
	if expert == nil {
		return nil, NewNotFoundError("expert %s not found", expertID)
	}
	return s.listSlots(ctx, expert.BookedSlotIDs, req)
}

// listSlots pages through back-referenced slots, most recent appointment first.
func (s *bookingService) listSlots(ctx context.Context, ids []uuid.UUID, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookedSlotResponse], error) {
	slots, err := s.repo.BookedSlot.FindByIDs(ctx, ids)
	if err != nil {
		s.log.Error("Failed to list booked slots", zap.Error(err))
		return nil, err
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Date != slots[j].Date {
			return slots[i].Date.After(slots[j].Date)
		}
		return slots[i].Start > slots[j].Start
	})

	total := int64(len(slots))
	from := min(req.Offset(), len(slots))
	to := min(from+req.Limit(), len(slots))

	now := s.now()
	page := make([]response.BookedSlotResponse, 0, to-from)
	for _, slot := range slots[from:to] {
		page = append(page, response.BookedSlotToResponse(slot, now, s.config.Location))
	}

	return response.NewPaginatedResponse(page, req.Page, req.Limit(), total), nil
}

func (s *bookingService) CancelAppointment(ctx context.Context, principal utils.Principal, slotID string) (*response.BookedSlotResponse, error) {
	ctx, span := tracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("slot_id", slotID))

	slot, err := s.loadSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}

	if !slot.IsOwnedBy(principal.ID) {
		return nil, NewAuthorizationError("only the slot's expert or client can cancel it")
	}

	now := s.now()
	if slot.Cancel {
		resp := response.BookedSlotToResponse(slot, now, s.config.Location)
		return &resp, nil
	}

	// Upstream first: a failed void leaves the slot untouched.
	if slot.Authorized && !slot.Paid && slot.PaymentIntentRef != nil {
		if err := s.gateway.CancelAuthorization(ctx, *slot.PaymentIntentRef); err != nil && !errors.Is(err, payment.ErrAuthorizationClosed) {
			s.log.Error("Failed to void authorization", zap.Error(err), zap.String("slot_id", slotID))
			return nil, NewUpstreamPaymentError(err, "could not cancel the payment authorization")
		}
	}

	if slot.State(now) == entity.SlotStateCheckoutStarted && slot.CheckoutSessionRef != nil {
		if err := s.gateway.ExpireCheckout(ctx, *slot.CheckoutSessionRef); err != nil {
			s.log.Warn("Failed to expire checkout session", zap.Error(err), zap.String("slot_id", slotID))
		}
	}

	prior, err := s.repo.BookedSlot.Cancel(ctx, slot.ID)
	if err != nil {
		return nil, err
	}

	if prior != nil {
		s.voidRacedAuthorization(ctx, slot, prior)
		s.releaseSlot(ctx, slot)
		s.notices.publish(ctx, EventBookingCancelled, slot, now)
		s.log.Info("Appointment cancelled",
			zap.String("slot_id", slotID),
			zap.String("by", principal.ID.String()),
		)
	}

	fresh, err := s.repo.BookedSlot.FindByID(ctx, slot.ID)
	if err != nil {
		return nil, fmt.Errorf("reload booked slot %s: %w", slotID, err)
	}
	if fresh == nil {
		return nil, NewNotFoundError("booked slot %s not found", slotID)
	}

	resp := response.BookedSlotToResponse(fresh, now, s.config.Location)
	return &resp, nil
}

// voidRacedAuthorization voids an authorization that was applied after CancelAppointment
// read the slot. Cancel already cleared it locally, so only the provider side is left.
func (s *bookingService) voidRacedAuthorization(ctx context.Context, read *entity.BookedSlot, prior *repository.PriorPayment) {
	if !prior.Authorized || prior.Paid || prior.PaymentIntentRef == nil {
		return
	}
	ref := *prior.PaymentIntentRef
	if read.Authorized && read.PaymentIntentRef != nil && *read.PaymentIntentRef == ref {
		return
	}

	err := s.gateway.CancelAuthorization(ctx, ref)
	if err != nil && !errors.Is(err, payment.ErrAuthorizationClosed) {
		s.log.Error("Failed to void authorization of cancelled slot",
			zap.Error(err),
			zap.String("slot_id", read.ID.String()),
			zap.String("payment_intent", ref),
		)
		return
	}
	s.log.Info("Voided authorization applied during cancellation", zap.String("slot_id", read.ID.String()))
}

// releaseSlot drops the slot from its day index and frees an unconsumed promo reservation.
func (s *bookingService) releaseSlot(ctx context.Context, slot *entity.BookedSlot) {
	if err := s.repo.Availability.RemoveSlotRef(ctx, slot.ExpertID, slot.Date, slot.ID); err != nil {
		s.log.Warn("Failed to remove slot from day index", zap.Error(err), zap.String("slot_id", slot.ID.String()))
	}
	if slot.PromoCode != nil && !slot.Paid {
		if err := s.repo.PromoCode.Release(ctx, *slot.PromoCode, slot.ID); err != nil {
			s.log.Warn("Failed to release promo code", zap.Error(err), zap.String("slot_id", slot.ID.String()))
		}
	}
}

func (s *bookingService) DeleteBookedSlot(ctx context.Context, slotID string) error {
	slot, err := s.loadSlot(ctx, slotID)
	if err != nil {
		return err
	}

	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context, tx *repository.Repository) error {
		if err := tx.Availability.RemoveSlotRef(ctx, slot.ExpertID, slot.Date, slot.ID); err != nil {
			return err
		}
		return tx.BookedSlot.Delete(ctx, slot.ID)
	})
	if err != nil {
		s.log.Error("Failed to delete booked slot", zap.Error(err), zap.String("slot_id", slotID))
		return err
	}

	if err := s.repo.Client.RemoveBookedSlot(ctx, slot.ClientID, slot.ID); err != nil {
		s.log.Warn("Failed to unindex slot on client", zap.Error(err), zap.String("slot_id", slotID))
	}
	if err := s.repo.Expert.RemoveBookedSlot(ctx, slot.ExpertID, slot.ID); err != nil {
		s.log.Warn("Failed to unindex slot on expert", zap.Error(err), zap.String("slot_id", slotID))
	}
	if slot.PromoCode != nil && !slot.Paid {
		if err := s.repo.PromoCode.Release(ctx, *slot.PromoCode, slot.ID); err != nil {
			s.log.Warn("Failed to release promo code", zap.Error(err), zap.String("slot_id", slotID))
		}
	}

	s.log.Info("Booked slot deleted", zap.String("slot_id", slotID))
	return nil
}

// MarkEndedAppointments flags slots whose end passed and announces the end of paid ones once.
func (s *bookingService) MarkEndedAppointments(ctx context.Context) (int, error) {
	now := s.now()
	today := calendar.DateOf(now.In(s.config.Location))

	slots, err := s.repo.BookedSlot.FindNotEnded(ctx, today, endedBatchSize)
	if err != nil {
		return 0, err
	}

	ended := 0
	for _, slot := range slots {
		if !slot.EndsAt(s.config.Location).Before(now) {
			continue
		}

		changed, err := s.repo.BookedSlot.MarkEnded(ctx, slot.ID)
		if err != nil {
			s.log.Warn("Failed to mark slot ended", zap.Error(err), zap.String("slot_id", slot.ID.String()))
			continue
		}
		if changed {
			ended++
		}

		if !slot.Paid || slot.Cancel {
			continue
		}
		claimed, err := s.repo.BookedSlot.ClaimEndedNotice(ctx, slot.ID)
		if err != nil {
			s.log.Warn("Failed to claim ended notice", zap.Error(err), zap.String("slot_id", slot.ID.String()))
			continue
		}
		if claimed {
			s.notices.publish(ctx, EventBookingEnded, slot, now)
		}
	}

	if ended > 0 {
		s.log.Info("Appointments ended", zap.Int("count", ended))
	}
	return ended, nil
}
