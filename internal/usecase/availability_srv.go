package usecase

import (
	"context"
	"fmt"
	"time"

	"expert-booking/internal/calendar"
	"expert-booking/internal/data/entity"
	"expert-booking/internal/data/repository"
	"expert-booking/internal/dto/request"
	"expert-booking/internal/dto/response"
	"expert-booking/pkg/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type AvailabilityService interface {
	// Materialize keeps one row per bookable date of the rolling horizon. Safe to call on every read.
	Materialize(ctx context.Context, expertID uuid.UUID) error
	GetAvailability(ctx context.Context, expertID string, req *request.AvailabilityRequest) (*response.AvailabilityResponse, error)
	UpdateWeeklySchedule(ctx context.Context, principal utils.Principal, expertID string, req *request.UpdateWeeklyScheduleRequest) (*response.WeeklyScheduleResponse, error)
}

type availabilityService struct {
	repo   *repository.Repository
	config utils.BookingConfig
	now    func() time.Time
	log    *zap.Logger
}

func NewAvailabilityService(repo *repository.Repository, config utils.BookingConfig, now func() time.Time, log *zap.Logger) AvailabilityService {
	return &availabilityService{
		repo:   repo,
		config: config,
		now:    now,
		log:    log.With(zap.String("service", "availability")),
	}
}

// horizon returns the first and last date of the rolling window.
func (s *availabilityService) horizon() (calendar.Date, calendar.Date) {
	today := calendar.DateOf(s.now().In(s.config.Location))
	return today, today.AddDays(s.config.HorizonDays - 1)
}

func (s *availabilityService) Materialize(ctx context.Context, expertID uuid.UUID) error {
	expert, err := s.repo.Expert.FindByID(ctx, expertID)
	if err != nil {
		return fmt.Errorf("find expert %s: %w", expertID.String(), err)
	}
	if expert == nil {
		return NewNotFoundError("expert %s not found", expertID.String())
	}
	return s.materialize(ctx, s.repo, expert)
}

func (s *availabilityService) materialize(ctx context.Context, repo *repository.Repository, expert *entity.Expert) error {
	ctx, span := tracer.Start(ctx, "availability.materialize")
	defer span.End()
	span.SetAttributes(attribute.String("expert_id", expert.ID.String()))

	from, to := s.horizon()

	pruned, err := repo.Availability.DeleteOutsideWindow(ctx, expert.ID, from, to)
	if err != nil {
		return err
	}

	duplicates, err := repo.Availability.DeleteDuplicates(ctx, expert.ID)
	if err != nil {
		return err
	}
	if duplicates > 0 {
		s.log.Warn("Removed duplicate availability rows",
			zap.String("expert_id", expert.ID.String()),
			zap.Int64("count", duplicates),
		)
	}

	existing, err := repo.Availability.ListByExpert(ctx, expert.ID, from, to)
	if err != nil {
		return err
	}
	present := make(map[calendar.Date]bool, len(existing))
	for _, day := range existing {
		present[day.Date] = true
	}

	created := 0
	for _, date := range calendar.DaysBetween(from, to) {
		if present[date] {
			continue
		}
		ranges := expert.WeeklySchedule.RangesFor(date.Weekday())
		if len(ranges) == 0 {
			continue
		}

		now := s.now()
		inserted, err := repo.Availability.InsertIfAbsent(ctx, &entity.DayAvailability{
			BaseNoDelete: entity.BaseNoDelete{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
			ExpertID:     expert.ID,
			Date:         date,
			Ranges:       ranges,
		})
		if err != nil {
			return err
		}
		if inserted {
			created++
		}
	}

	if pruned > 0 || created > 0 {
		s.log.Info("Availability materialized",
			zap.String("expert_id", expert.ID.String()),
			zap.Int64("pruned", pruned),
			zap.Int("created", created),
		)
	}
	return nil
}

func (s *availabilityService) GetAvailability(ctx context.Context, expertID string, req *request.AvailabilityRequest) (*response.AvailabilityResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, NewValidationError("validation failed: %s", utils.FormatValidationErrors(errs))
	}

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

	leadTime := s.config.DefaultLeadMinutes
	if req.SpecialtyID != "" {
		offering, err := s.findOffering(ctx, expert.ID, req.SpecialtyID)
		if err != nil {
			return nil, err
		}
		if offering.LeadTimeMinutes != nil {
			leadTime = *offering.LeadTimeMinutes
		}
	}

	if err := s.materialize(ctx, s.repo, expert); err != nil {
		s.log.Error("Failed to materialize availability", zap.Error(err), zap.String("expert_id", expertID))
		return nil, err
	}

	from, to := s.horizon()
	days, err := s.repo.Availability.ListByExpert(ctx, expert.ID, from, to)
	if err != nil {
		return nil, err
	}

	blocking, err := s.blockingByDate(ctx, days)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := &response.AvailabilityResponse{
		ExpertID: expert.ID.String(),
		Duration: req.Duration,
		LeadTime: leadTime,
		Gap:      expert.GapMinutes,
		Days:     make([]response.DayAvailabilityResponse, 0, len(days)),
	}

	for _, day := range days {
		slots := calendar.GenerateSlots(calendar.SlotQuery{
			Date:     day.Date,
			Ranges:   day.Ranges,
			Duration: req.Duration,
			LeadTime: leadTime,
			Gap:      expert.GapMinutes,
			Blocking: blocking[day.Date],
			Now:      now,
			Location: s.config.Location,
		})
		if slots == nil {
			slots = []calendar.Interval{}
		}
		result.Days = append(result.Days, response.DayAvailabilityResponse{
			Date:    day.Date.String(),
			Weekday: day.Date.Weekday().String(),
			Ranges:  day.Ranges,
			Slots:   slots,
		})
	}

	return result, nil
}

func (s *availabilityService) findOffering(ctx context.Context, expertID uuid.UUID, specialtyID string) (*entity.SpecialtyOffering, error) {
	specialtyUUID, err := uuid.Parse(specialtyID)
	if err != nil {
		return nil, NewValidationError("invalid specialty ID format %s", specialtyID)
	}
	offering, err := s.repo.Expert.FindOffering(ctx, expertID, specialtyUUID)
	if err != nil {
		return nil, fmt.Errorf("find offering: %w", err)
	}
	if offering == nil {
		return nil, NewNotFoundError("specialty %s not offered by expert %s", specialtyID, expertID.String())
	}
	return offering, nil
}

// blockingByDate dereferences every day's slot index and keeps the slots that hold capacity now.
func (s *availabilityService) blockingByDate(ctx context.Context, days []*entity.DayAvailability) (map[calendar.Date][]calendar.Interval, error) {
	var ids []uuid.UUID
	for _, day := range days {
		ids = append(ids, day.BookedSlotIDs...)
	}

	result := make(map[calendar.Date][]calendar.Interval)
	if len(ids) == 0 {
		return result, nil
	}

	slots, err := s.repo.BookedSlot.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, slot := range slots {
		if slot.Blocks(now) {
			result[slot.Date] = append(result[slot.Date], slot.Interval())
		}
	}
	return result, nil
}

func (s *availabilityService) UpdateWeeklySchedule(ctx context.Context, principal utils.Principal, expertID string, req *request.UpdateWeeklyScheduleRequest) (*response.WeeklyScheduleResponse, error) {
	expertUUID, err := uuid.Parse(expertID)
	if err != nil {
		return nil, NewValidationError("invalid expert ID format %s", expertID)
	}

	if principal.ID != expertUUID && !principal.IsAdmin() {
		return nil, NewAuthorizationError("only the expert can edit this schedule")
	}

	if err := req.WeeklySchedule.Validate(); err != nil {
		return nil, NewValidationError("invalid weekly schedule: %v", err)
	}
	schedule := req.WeeklySchedule.Normalized()

	err = s.repo.Tx.WithinTx(ctx, func(ctx context.Context, tx *repository.Repository) error {
		expert, err := tx.Expert.FindByID(ctx, expertUUID)
		if err != nil {
			return fmt.Errorf("find expert %s: %w", expertID, err)
		}
		if expert == nil {
			return NewNotFoundError("expert %s not found", expertID)
		}

		if err := tx.Expert.UpdateWeeklySchedule(ctx, expertUUID, schedule); err != nil {
			return err
		}
		expert.WeeklySchedule = schedule

		if err := s.rematerialize(ctx, tx, expert); err != nil {
			return err
		}
		return s.materialize(ctx, tx, expert)
	})
	if err != nil {
		if KindOf(err) == "" {
			s.log.Error("Failed to update weekly schedule", zap.Error(err), zap.String("expert_id", expertID))
		}
		return nil, err
	}

	s.log.Info("Weekly schedule updated", zap.String("expert_id", expertID))

	return &response.WeeklyScheduleResponse{
		ExpertID:       expertID,
		WeeklySchedule: schedule,
	}, nil
}

// rematerialize replaces the ranges of every horizon date with the new template.
// A date left without ranges is dropped, or emptied when it still indexes slots.
func (s *availabilityService) rematerialize(ctx context.Context, repo *repository.Repository, expert *entity.Expert) error {
	from, to := s.horizon()

	for _, date := range calendar.DaysBetween(from, to) {
		ranges := expert.WeeklySchedule.RangesFor(date.Weekday())
		if len(ranges) > 0 {
			if err := repo.Availability.UpsertRanges(ctx, expert.ID, date, ranges); err != nil {
				return err
			}
			continue
		}

		day, err := repo.Availability.FindByExpertAndDate(ctx, expert.ID, date)
		if err != nil {
			return err
		}
		if day == nil {
			continue
		}

		deleted, err := repo.Availability.DeleteIfUnreferenced(ctx, expert.ID, date)
		if err != nil {
			return err
		}
		if !deleted {
			if err := repo.Availability.UpsertRanges(ctx, expert.ID, date, []calendar.Range{}); err != nil {
				return err
			}
		}
	}
	return nil
}
