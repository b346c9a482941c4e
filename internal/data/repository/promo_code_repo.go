package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expert-booking/internal/data/entity"
	"expert-booking/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type PromoCodeRepository interface {
	FindByCode(ctx context.Context, code string) (*entity.PromoCode, error)
	Reserve(ctx context.Context, code string, slotID uuid.UUID, until, now time.Time) (bool, error)
	HoldUntilCapture(ctx context.Context, code string, slotID uuid.UUID, now time.Time) (bool, error)
	Release(ctx context.Context, code string, slotID uuid.UUID) error
	Consume(ctx context.Context, code string, slotID uuid.UUID) (bool, error)
}

type promoCodeRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewPromoCodeRepository(db database.Querier, log *zap.Logger) PromoCodeRepository {
	return &promoCodeRepository{
		db:  db,
		log: log.With(zap.String("repository", "promo_code")),
	}
}

func (r *promoCodeRepository) FindByCode(ctx context.Context, code string) (*entity.PromoCode, error) {
	query := `
		SELECT code, percent_off, active, valid_from, valid_to, single_use, used,
		       reserved_by, reserved_until, created_at, updated_at
		FROM promo_codes
		WHERE code = $1
	`

	var promo entity.PromoCode
	err := r.db.QueryRow(ctx, query, code).Scan(
		&promo.Code,
		&promo.PercentOff,
		&promo.Active,
		&promo.ValidFrom,
		&promo.ValidTo,
		&promo.SingleUse,
		&promo.Used,
		&promo.ReservedBy,
		&promo.ReservedUntil,
		&promo.CreatedAt,
		&promo.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find promo code", zap.Error(err), zap.String("code", code))
		return nil, fmt.Errorf("find promo code %s: %w", code, err)
	}

	return &promo, nil
}

// Reserve locks the code for slotID until the given time. It fails (false) when the
// code is inactive, out of its window, already used, or held by another live reservation.
func (r *promoCodeRepository) Reserve(ctx context.Context, code string, slotID uuid.UUID, until, now time.Time) (bool, error) {
	query := `
		UPDATE promo_codes
		SET reserved_by = $2, reserved_until = $3, updated_at = now()
		WHERE code = $1
		  AND active AND NOT used
		  AND (valid_from IS NULL OR valid_from <= $4)
		  AND (valid_to IS NULL OR valid_to >= $4)
		  AND (reserved_by IS NULL OR reserved_by = $2 OR reserved_until <= $4)
	`

	result, err := r.db.Exec(ctx, query, code, slotID, until, now)
	if err != nil {
		r.log.Error("Failed to reserve promo code",
			zap.Error(err),
			zap.String("code", code),
			zap.String("slot_id", slotID.String()),
		)
		return false, fmt.Errorf("reserve promo code %s: %w", code, err)
	}

	return result.RowsAffected() > 0, nil
}

// HoldUntilCapture turns the slot's reservation into an open-ended one. A reservation
// with no reserved_until lasts until Consume or Release.
func (r *promoCodeRepository) HoldUntilCapture(ctx context.Context, code string, slotID uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE promo_codes
		SET reserved_by = $2, reserved_until = NULL, updated_at = now()
		WHERE code = $1 AND NOT used
		  AND (reserved_by IS NULL OR reserved_by = $2 OR reserved_until <= $3)
	`

	result, err := r.db.Exec(ctx, query, code, slotID, now)
	if err != nil {
		r.log.Error("Failed to hold promo code until capture",
			zap.Error(err),
			zap.String("code", code),
			zap.String("slot_id", slotID.String()),
		)
		return false, fmt.Errorf("hold promo code %s: %w", code, err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *promoCodeRepository) Release(ctx context.Context, code string, slotID uuid.UUID) error {
	query := `
		UPDATE promo_codes
		SET reserved_by = NULL, reserved_until = NULL, updated_at = now()
		WHERE code = $1 AND reserved_by = $2
	`

	if _, err := r.db.Exec(ctx, query, code, slotID); err != nil {
		r.log.Error("Failed to release promo code",
			zap.Error(err),
			zap.String("code", code),
			zap.String("slot_id", slotID.String()),
		)
		return fmt.Errorf("release promo code %s: %w", code, err)
	}

	return nil
}

// Consume marks a single-use code as used and drops the reservation. Multi-use codes
// only lose the reservation.
func (r *promoCodeRepository) Consume(ctx context.Context, code string, slotID uuid.UUID) (bool, error) {
	query := `
		UPDATE promo_codes
		SET used = used OR single_use, reserved_by = NULL, reserved_until = NULL, updated_at = now()
		WHERE code = $1 AND NOT used AND (reserved_by IS NULL OR reserved_by = $2)
	`

	result, err := r.db.Exec(ctx, query, code, slotID)
	if err != nil {
		r.log.Error("Failed to consume promo code",
			zap.Error(err),
			zap.String("code", code),
			zap.String("slot_id", slotID.String()),
		)
		return false, fmt.Errorf("consume promo code %s: %w", code, err)
	}

	return result.RowsAffected() > 0, nil
}
