package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expert-booking/internal/calendar"
	"expert-booking/internal/data/entity"
	"expert-booking/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type AvailabilityRepository interface {
	ListByExpert(ctx context.Context, expertID uuid.UUID, from, to calendar.Date) ([]*entity.DayAvailability, error)
	FindByExpertAndDate(ctx context.Context, expertID uuid.UUID, date calendar.Date) (*entity.DayAvailability, error)

	// LockByExpertAndDate takes a row lock until the surrounding transaction ends.
	LockByExpertAndDate(ctx context.Context, expertID uuid.UUID, date calendar.Date) (*entity.DayAvailability, error)

	// Materialization
	InsertIfAbsent(ctx context.Context, day *entity.DayAvailability) (bool, error)
	UpsertRanges(ctx context.Context, expertID uuid.UUID, date calendar.Date, ranges []calendar.Range) error
	DeleteOutsideWindow(ctx context.Context, expertID uuid.UUID, from, to calendar.Date) (int64, error)
	DeleteDuplicates(ctx context.Context, expertID uuid.UUID) (int64, error)
	DeleteIfUnreferenced(ctx context.Context, expertID uuid.UUID, date calendar.Date) (bool, error)

	// Slot index
	AppendSlotRef(ctx context.Context, dayID, slotID uuid.UUID) error
	RemoveSlotRef(ctx context.Context, expertID uuid.UUID, date calendar.Date, slotID uuid.UUID) error
}

type availabilityRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewAvailabilityRepository(db database.Querier, log *zap.Logger) AvailabilityRepository {
	return &availabilityRepository{
		db:  db,
		log: log.With(zap.String("repository", "availability")),
	}
}

const dayColumns = `id, expert_id, date, ranges, booked_slot_ids::text[], created_at, updated_at`

func scanDay(row pgx.Row) (*entity.DayAvailability, error) {
	var (
		day     entity.DayAvailability
		date    time.Time
		ranges  []byte
		slotIDs []string
	)
	if err := row.Scan(&day.ID, &day.ExpertID, &date, &ranges, &slotIDs, &day.CreatedAt, &day.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	day.Date = calendar.DateOf(date)
	if day.Ranges, err = decodeRanges(ranges); err != nil {
		return nil, err
	}
	if day.BookedSlotIDs, err = parseUUIDs(slotIDs); err != nil {
		return nil, err
	}
	return &day, nil
}

func (r *availabilityRepository) ListByExpert(ctx context.Context, expertID uuid.UUID, from, to calendar.Date) ([]*entity.DayAvailability, error) {
	query := `
		SELECT ` + dayColumns + `
		FROM day_availabilities
		WHERE expert_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC
	`

	rows, err := r.db.Query(ctx, query, expertID, from.Time(), to.Time())
	if err != nil {
		r.log.Error("Failed to list availability",
			zap.Error(err),
			zap.String("expert_id", expertID.String()),
		)
		return nil, fmt.Errorf("list availability of expert %s: %w", expertID.String(), err)
	}
	defer rows.Close()

	var days []*entity.DayAvailability
	for rows.Next() {
		day, err := scanDay(rows)
		if err != nil {
			r.log.Error("Failed to scan availability", zap.Error(err))
			return nil, fmt.Errorf("scan availability: %w", err)
		}
		days = append(days, day)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate availability: %w", err)
	}

	return days, nil
}

func (r *availabilityRepository) FindByExpertAndDate(ctx context.Context, expertID uuid.UUID, date calendar.Date) (*entity.DayAvailability, error) {
	query := `
		SELECT ` + dayColumns + `
		FROM day_availabilities
		WHERE expert_id = $1 AND date = $2
	`
	return r.findOne(ctx, query, expertID, date)
}

func (r *availabilityRepository) LockByExpertAndDate(ctx context.Context, expertID uuid.UUID, date calendar.Date) (*entity.DayAvailability, error) {
	query := `
		SELECT ` + dayColumns + `
		FROM day_availabilities
		WHERE expert_id = $1 AND date = $2
		FOR UPDATE
	`
	return r.findOne(ctx, query, expertID, date)
}

func (r *availabilityRepository) findOne(ctx context.Context, query string, expertID uuid.UUID, date calendar.Date) (*entity.DayAvailability, error) {
	day, err := scanDay(r.db.QueryRow(ctx, query, expertID, date.Time()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find availability",
			zap.Error(err),
			zap.String("expert_id", expertID.String()),
			zap.String("date", date.String()),
		)
		return nil, fmt.Errorf("find availability of expert %s on %s: %w", expertID.String(), date.String(), err)
	}
	return day, nil
}

func (r *availabilityRepository) InsertIfAbsent(ctx context.Context, day *entity.DayAvailability) (bool, error) {
	ranges, err := encodeRanges(day.Ranges)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO day_availabilities (id, expert_id, date, ranges, booked_slot_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '{}', $5, $6)
		ON CONFLICT (expert_id, date) DO NOTHING
	`

	result, err := r.db.Exec(ctx, query,
		day.ID,
		day.ExpertID,
		day.Date.Time(),
		ranges,
		day.CreatedAt,
		day.UpdatedAt,
	)
	if err != nil {
		r.log.Error("Failed to insert availability",
			zap.Error(err),
			zap.String("expert_id", day.ExpertID.String()),
			zap.String("date", day.Date.String()),
		)
		return false, fmt.Errorf("insert availability of expert %s on %s: %w", day.ExpertID.String(), day.Date.String(), err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *availabilityRepository) UpsertRanges(ctx context.Context, expertID uuid.UUID, date calendar.Date, ranges []calendar.Range) error {
	payload, err := encodeRanges(ranges)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO day_availabilities (id, expert_id, date, ranges, booked_slot_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '{}', now(), now())
		ON CONFLICT (expert_id, date) DO UPDATE
		SET ranges = EXCLUDED.ranges, updated_at = now()
	`

	if _, err := r.db.Exec(ctx, query, uuid.New(), expertID, date.Time(), payload); err != nil {
		r.log.Error("Failed to upsert availability ranges",
			zap.Error(err),
			zap.String("expert_id", expertID.String()),
			zap.String("date", date.String()),
		)
		return fmt.Errorf("upsert ranges of expert %s on %s: %w", expertID.String(), date.String(), err)
	}

	return nil
}

func (r *availabilityRepository) DeleteOutsideWindow(ctx context.Context, expertID uuid.UUID, from, to calendar.Date) (int64, error) {
	query := `
		DELETE FROM day_availabilities
		WHERE expert_id = $1 AND (date < $2 OR date > $3)
	`

	result, err := r.db.Exec(ctx, query, expertID, from.Time(), to.Time())
	if err != nil {
		r.log.Error("Failed to prune availability",
			zap.Error(err),
			zap.String("expert_id", expertID.String()),
		)
		return 0, fmt.Errorf("prune availability of expert %s: %w", expertID.String(), err)
	}

	return result.RowsAffected(), nil
}

// DeleteDuplicates keeps the oldest row per date. The unique constraint makes this
// a no-op unless rows were loaded from a source without it.
func (r *availabilityRepository) DeleteDuplicates(ctx context.Context, expertID uuid.UUID) (int64, error) {
	query := `
		DELETE FROM day_availabilities d
		USING day_availabilities keep
		WHERE d.expert_id = $1
		  AND keep.expert_id = d.expert_id
		  AND keep.date = d.date
		  AND (keep.created_at, keep.id) < (d.created_at, d.id)
	`

	result, err := r.db.Exec(ctx, query, expertID)
	if err != nil {
		r.log.Error("Failed to dedup availability",
			zap.Error(err),
			zap.String("expert_id", expertID.String()),
		)
		return 0, fmt.Errorf("dedup availability of expert %s: %w", expertID.String(), err)
	}

	return result.RowsAffected(), nil
}

func (r *availabilityRepository) DeleteIfUnreferenced(ctx context.Context, expertID uuid.UUID, date calendar.Date) (bool, error) {
	query := `
		DELETE FROM day_availabilities
		WHERE expert_id = $1 AND date = $2 AND cardinality(booked_slot_ids) = 0
	`

	result, err := r.db.Exec(ctx, query, expertID, date.Time())
	if err != nil {
		r.log.Error("Failed to delete availability",
			zap.Error(err),
			zap.String("expert_id", expertID.String()),
			zap.String("date", date.String()),
		)
		return false, fmt.Errorf("delete availability of expert %s on %s: %w", expertID.String(), date.String(), err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *availabilityRepository) AppendSlotRef(ctx context.Context, dayID, slotID uuid.UUID) error {
	query := `
		UPDATE day_availabilities
		SET booked_slot_ids = array_append(booked_slot_ids, $2::uuid), updated_at = now()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, dayID, slotID.String())
	if err != nil {
		r.log.Error("Failed to append slot to day",
			zap.Error(err),
			zap.String("day_id", dayID.String()),
			zap.String("slot_id", slotID.String()),
		)
		return fmt.Errorf("append slot %s to day %s: %w", slotID.String(), dayID.String(), err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("day availability %s not found", dayID.String())
	}

	return nil
}

func (r *availabilityRepository) RemoveSlotRef(ctx context.Context, expertID uuid.UUID, date calendar.Date, slotID uuid.UUID) error {
	query := `
		UPDATE day_availabilities
		SET booked_slot_ids = array_remove(booked_slot_ids, $3::uuid), updated_at = now()
		WHERE expert_id = $1 AND date = $2
	`

	if _, err := r.db.Exec(ctx, query, expertID, date.Time(), slotID.String()); err != nil {
		r.log.Error("Failed to remove slot from day",
			zap.Error(err),
			zap.String("expert_id", expertID.String()),
			zap.String("slot_id", slotID.String()),
		)
		return fmt.Errorf("remove slot %s from day %s: %w", slotID.String(), date.String(), err)
	}

	return nil
}
