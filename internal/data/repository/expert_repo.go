package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"expert-booking/internal/calendar"
	"expert-booking/internal/data/entity"
	"expert-booking/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ExpertRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Expert, error)
	FindOffering(ctx context.Context, expertID, specialtyID uuid.UUID) (*entity.SpecialtyOffering, error)
	UpdateWeeklySchedule(ctx context.Context, id uuid.UUID, schedule calendar.WeeklySchedule) error

	// Denormalized reservation history
	AppendBookedSlot(ctx context.Context, expertID, slotID uuid.UUID) error
	RemoveBookedSlot(ctx context.Context, expertID, slotID uuid.UUID) error
}

type expertRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewExpertRepository(db database.Querier, log *zap.Logger) ExpertRepository {
	return &expertRepository{
		db:  db,
		log: log.With(zap.String("repository", "expert")),
	}
}

func (r *expertRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Expert, error) {
	query := `
		SELECT id, display_name, weekly_schedule, gap_minutes, booked_slot_ids::text[], created_at, updated_at
		FROM experts
		WHERE id = $1
	`

	var (
		expert   entity.Expert
		schedule []byte
		slotIDs  []string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&expert.ID,
		&expert.DisplayName,
		&schedule,
		&expert.GapMinutes,
		&slotIDs,
		&expert.CreatedAt,
		&expert.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find expert by ID",
			zap.Error(err),
			zap.String("expert_id", id.String()),
		)
		return nil, fmt.Errorf("find expert by ID %s: %w", id.String(), err)
	}

	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &expert.WeeklySchedule); err != nil {
			return nil, fmt.Errorf("decode weekly schedule of expert %s: %w", id.String(), err)
		}
	}
	if expert.BookedSlotIDs, err = parseUUIDs(slotIDs); err != nil {
		return nil, err
	}

	return &expert, nil
}

func (r *expertRepository) FindOffering(ctx context.Context, expertID, specialtyID uuid.UUID) (*entity.SpecialtyOffering, error) {
	query := `
		SELECT expert_id, specialty_id, lead_time_minutes,
		       price_15::text, price_30::text, price_45::text, price_60::text, price_90::text
		FROM expert_specialties
		WHERE expert_id = $1 AND specialty_id = $2
	`

	var (
		offering entity.SpecialtyOffering
		prices   [5]*string
	)
	err := r.db.QueryRow(ctx, query, expertID, specialtyID).Scan(
		&offering.ExpertID,
		&offering.SpecialtyID,
		&offering.LeadTimeMinutes,
		&prices[0],
		&prices[1],
		&prices[2],
		&prices[3],
		&prices[4],
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find specialty offering",
			zap.Error(err),
			zap.String("expert_id", expertID.String()),
			zap.String("specialty_id", specialtyID.String()),
		)
		return nil, fmt.Errorf("find offering of expert %s for specialty %s: %w",
			expertID.String(), specialtyID.String(), err)
	}

	offering.Prices = make(map[int]decimal.Decimal)
	for i, raw := range prices {
		price, err := parseDecimal(raw)
		if err != nil {
			return nil, err
		}
		if price != nil {
			offering.Prices[entity.PriceTierDurations[i]] = *price
		}
	}

	return &offering, nil
}

func (r *expertRepository) UpdateWeeklySchedule(ctx context.Context, id uuid.UUID, schedule calendar.WeeklySchedule) error {
	payload, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("encode weekly schedule: %w", err)
	}

	query := `
		UPDATE experts
		SET weekly_schedule = $2, updated_at = now()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, payload)
	if err != nil {
		r.log.Error("Failed to update weekly schedule",
			zap.Error(err),
			zap.String("expert_id", id.String()),
		)
		return fmt.Errorf("update weekly schedule of expert %s: %w", id.String(), err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("expert %s not found", id.String())
	}

	return nil
}

func (r *expertRepository) AppendBookedSlot(ctx context.Context, expertID, slotID uuid.UUID) error {
	query := `
		UPDATE experts
		SET booked_slot_ids = array_append(booked_slot_ids, $2::uuid), updated_at = now()
		WHERE id = $1 AND NOT ($2::uuid = ANY(booked_slot_ids))
	`

	if _, err := r.db.Exec(ctx, query, expertID, slotID.String()); err != nil {
		r.log.Error("Failed to append booked slot to expert",
			zap.Error(err),
			zap.String("expert_id", expertID.String()),
			zap.String("slot_id", slotID.String()),
		)
		return fmt.Errorf("append slot %s to expert %s: %w", slotID.String(), expertID.String(), err)
	}

	return nil
}

func (r *expertRepository) RemoveBookedSlot(ctx context.Context, expertID, slotID uuid.UUID) error {
	query := `
		UPDATE experts
		SET booked_slot_ids = array_remove(booked_slot_ids, $2::uuid), updated_at = now()
		WHERE id = $1
	`

	if _, err := r.db.Exec(ctx, query, expertID, slotID.String()); err != nil {
		r.log.Error("Failed to remove booked slot from expert",
			zap.Error(err),
			zap.String("expert_id", expertID.String()),
			zap.String("slot_id", slotID.String()),
		)
		return fmt.Errorf("remove slot %s from expert %s: %w", slotID.String(), expertID.String(), err)
	}

	return nil
}
