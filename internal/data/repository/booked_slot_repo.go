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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BookedSlotRepository persists reservations. Every Mark* method is a conditional
// update guarded by the slot's current flags and reports whether it changed a row,
// so callers can treat stale or replayed transitions as no-ops.
type BookedSlotRepository interface {
	Create(ctx context.Context, slot *entity.BookedSlot) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.BookedSlot, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*entity.BookedSlot, error)
	FindByCheckoutSession(ctx context.Context, sessionRef string) (*entity.BookedSlot, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Payment-hold transitions
	MarkCheckoutStarted(ctx context.Context, id uuid.UUID, checkout CheckoutUpdate) (bool, error)
	MarkAuthorized(ctx context.Context, id uuid.UUID, paymentIntentRef string, authorizedAt, captureAt time.Time) (bool, error)
	MarkCaptured(ctx context.Context, id uuid.UUID, capturedAt time.Time) (bool, error)
	MarkVoided(ctx context.Context, id uuid.UUID) (bool, error)
	MarkPaymentFailed(ctx context.Context, id uuid.UUID) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (*PriorPayment, error)

	// Sweeps
	FindDueForCapture(ctx context.Context, now time.Time, limit int) ([]*entity.BookedSlot, error)
	FindNotEnded(ctx context.Context, upTo calendar.Date, limit int) ([]*entity.BookedSlot, error)
	MarkEnded(ctx context.Context, id uuid.UUID) (bool, error)

	// Notification flags
	ClaimConfirmationNotice(ctx context.Context, id uuid.UUID) (bool, error)
	ClaimEndedNotice(ctx context.Context, id uuid.UUID) (bool, error)
}

// CheckoutUpdate carries what a started checkout stores on the slot.
type CheckoutUpdate struct {
	SessionRef string
	URL        string
	HoldUntil  time.Time
	AmountDue  decimal.Decimal
	PromoCode  *string
	Now        time.Time
}

// PriorPayment is the payment side of a slot as it stood right before Cancel overwrote it.
type PriorPayment struct {
	Authorized       bool
	Paid             bool
	PaymentIntentRef *string
}

type bookedSlotRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewBookedSlotRepository(db database.Querier, log *zap.Logger) BookedSlotRepository {
	return &bookedSlotRepository{
		db:  db,
		log: log.With(zap.String("repository", "booked_slot")),
	}
}

const slotColumns = `
	id, expert_id, client_id, specialty_id, date, start_time, end_time, price::text, amount_due::text,
	visio, location, cancel, paid, ended,
	hold_expires_at, checkout_session_ref, checkout_url, authorized, payment_intent_ref,
	authorized_at, capture_scheduled_for, captured_at, promo_code,
	email_confirmation_sent, expert_notification_sent, email_ended_sent,
	created_at, updated_at`

func scanSlot(row pgx.Row) (*entity.BookedSlot, error) {
	var (
		slot       entity.BookedSlot
		date       time.Time
		start, end string
		price      string
		amountDue  *string
	)
	err := row.Scan(
		&slot.ID,
		&slot.ExpertID,
		&slot.ClientID,
		&slot.SpecialtyID,
		&date,
		&start,
		&end,
		&price,
		&amountDue,
		&slot.Visio,
		&slot.Location,
		&slot.Cancel,
		&slot.Paid,
		&slot.Ended,
		&slot.HoldExpiresAt,
		&slot.CheckoutSessionRef,
		&slot.CheckoutURL,
		&slot.Authorized,
		&slot.PaymentIntentRef,
		&slot.AuthorizedAt,
		&slot.CaptureScheduledFor,
		&slot.CapturedAt,
		&slot.PromoCode,
		&slot.EmailConfirmationSent,
		&slot.ExpertNotificationSent,
		&slot.EmailEndedSent,
		&slot.CreatedAt,
		&slot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	slot.Date = calendar.DateOf(date)
	if slot.Start, err = calendar.ParseClock(start); err != nil {
		return nil, err
	}
	if slot.End, err = calendar.ParseClock(end); err != nil {
		return nil, err
	}
	if slot.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	if slot.AmountDue, err = parseDecimal(amountDue); err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *bookedSlotRepository) Create(ctx context.Context, slot *entity.BookedSlot) error {
	query := `
		INSERT INTO booked_slots (
			id, expert_id, client_id, specialty_id, date, start_time, end_time, price,
			visio, location, cancel, paid, ended, hold_expires_at, authorized, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.db.Exec(ctx, query,
		slot.ID,
		slot.ExpertID,
		slot.ClientID,
		slot.SpecialtyID,
		slot.Date.Time(),
		slot.Start.String(),
		slot.End.String(),
		slot.Price.StringFixed(2),
		slot.Visio,
		slot.Location,
		slot.Cancel,
		slot.Paid,
		slot.Ended,
		slot.HoldExpiresAt,
		slot.Authorized,
		slot.CreatedAt,
		slot.UpdatedAt,
	)

	if err != nil {
		r.log.Error("Failed to create booked slot",
			zap.Error(err),
			zap.String("expert_id", slot.ExpertID.String()),
			zap.String("client_id", slot.ClientID.String()),
			zap.String("date", slot.Date.String()),
			zap.String("start", slot.Start.String()),
		)
		return fmt.Errorf("create booked slot for expert %s on %s at %s: %w",
			slot.ExpertID.String(), slot.Date.String(), slot.Start.String(), err)
	}

	return nil
}

func (r *bookedSlotRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.BookedSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM booked_slots WHERE id = $1`

	slot, err := scanSlot(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find booked slot by ID",
			zap.Error(err),
			zap.String("slot_id", id.String()),
		)
		return nil, fmt.Errorf("find booked slot by ID %s: %w", id.String(), err)
	}

	return slot, nil
}

func (r *bookedSlotRepository) FindByCheckoutSession(ctx context.Context, sessionRef string) (*entity.BookedSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM booked_slots WHERE checkout_session_ref = $1`

	slot, err := scanSlot(r.db.QueryRow(ctx, query, sessionRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find booked slot by checkout session",
			zap.Error(err),
			zap.String("session_ref", sessionRef),
		)
		return nil, fmt.Errorf("find booked slot by checkout session %s: %w", sessionRef, err)
	}

	return slot, nil
}

func (r *bookedSlotRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*entity.BookedSlot, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + slotColumns + `
		FROM booked_slots
		WHERE id = ANY($1::uuid[])
		ORDER BY date ASC, start_time ASC
	`
	return r.list(ctx, "find booked slots by IDs", query, uuidStrings(ids))
}

func (r *bookedSlotRepository) FindDueForCapture(ctx context.Context, now time.Time, limit int) ([]*entity.BookedSlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM booked_slots
		WHERE authorized AND NOT paid AND NOT cancel
		  AND capture_scheduled_for IS NOT NULL AND capture_scheduled_for <= $1
		ORDER BY capture_scheduled_for ASC
		LIMIT $2
	`
	return r.list(ctx, "find slots due for capture", query, now, limit)
}

func (r *bookedSlotRepository) FindNotEnded(ctx context.Context, upTo calendar.Date, limit int) ([]*entity.BookedSlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM booked_slots
		WHERE NOT ended AND date <= $1
		ORDER BY date ASC, end_time ASC
		LIMIT $2
	`
	return r.list(ctx, "find slots not ended", query, upTo.Time(), limit)
}

func (r *bookedSlotRepository) list(ctx context.Context, op, query string, args ...any) ([]*entity.BookedSlot, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.log.Error("Failed to "+op, zap.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var slots []*entity.BookedSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			r.log.Error("Failed to scan booked slot", zap.Error(err))
			return nil, fmt.Errorf("scan booked slot: %w", err)
		}
		slots = append(slots, slot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate booked slots: %w", err)
	}

	return slots, nil
}

func (r *bookedSlotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM booked_slots WHERE id = $1`, id)
	if err != nil {
		r.log.Error("Failed to delete booked slot",
			zap.Error(err),
			zap.String("slot_id", id.String()),
		)
		return fmt.Errorf("delete booked slot %s: %w", id.String(), err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("booked slot %s not found", id.String())
	}

	r.log.Info("Booked slot deleted", zap.String("slot_id", id.String()))
	return nil
}

func (r *bookedSlotRepository) MarkCheckoutStarted(ctx context.Context, id uuid.UUID, checkout CheckoutUpdate) (bool, error) {
	query := `
		UPDATE booked_slots
		SET checkout_session_ref = $2, checkout_url = $3, hold_expires_at = $4,
		    amount_due = $5::numeric, promo_code = $6, updated_at = now()
		WHERE id = $1
		  AND NOT cancel AND NOT paid AND NOT authorized AND authorized_at IS NULL
		  AND checkout_session_ref IS NULL
		  AND hold_expires_at > $7
	`
	return r.transition(ctx, "mark checkout started", id, query,
		id,
		checkout.SessionRef,
		checkout.URL,
		checkout.HoldUntil,
		checkout.AmountDue.StringFixed(2),
		checkout.PromoCode,
		checkout.Now,
	)
}

func (r *bookedSlotRepository) MarkAuthorized(ctx context.Context, id uuid.UUID, paymentIntentRef string, authorizedAt, captureAt time.Time) (bool, error) {
	query := `
		UPDATE booked_slots
		SET authorized = true, payment_intent_ref = $2, authorized_at = $3,
		    capture_scheduled_for = $4, hold_expires_at = NULL, updated_at = now()
		WHERE id = $1
		  AND NOT cancel AND NOT paid AND NOT authorized AND authorized_at IS NULL
	`
	return r.transition(ctx, "mark authorized", id, query, id, paymentIntentRef, authorizedAt, captureAt)
}

func (r *bookedSlotRepository) MarkCaptured(ctx context.Context, id uuid.UUID, capturedAt time.Time) (bool, error) {
	query := `
		UPDATE booked_slots
		SET paid = true, captured_at = $2, hold_expires_at = NULL, updated_at = now()
		WHERE id = $1
		  AND NOT cancel AND NOT paid
		  AND (authorized OR authorized_at IS NULL)
	`
	return r.transition(ctx, "mark captured", id, query, id, capturedAt)
}

func (r *bookedSlotRepository) MarkVoided(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE booked_slots
		SET authorized = false, payment_intent_ref = NULL, capture_scheduled_for = NULL, updated_at = now()
		WHERE id = $1 AND authorized AND NOT paid
	`
	return r.transition(ctx, "mark voided", id, query, id)
}

func (r *bookedSlotRepository) MarkPaymentFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE booked_slots
		SET cancel = true, updated_at = now()
		WHERE id = $1
		  AND NOT cancel AND NOT paid AND NOT authorized AND authorized_at IS NULL
	`
	return r.transition(ctx, "mark payment failed", id, query, id)
}

// Cancel returns the payment state the update replaced, read under the row lock, or nil
// when the slot was already cancelled.
func (r *bookedSlotRepository) Cancel(ctx context.Context, id uuid.UUID) (*PriorPayment, error) {
	query := `
		WITH prev AS (
			SELECT id, authorized, paid, payment_intent_ref
			FROM booked_slots
			WHERE id = $1 AND NOT cancel
			FOR UPDATE
		)
		UPDATE booked_slots b
		SET cancel = true, authorized = false, capture_scheduled_for = NULL, updated_at = now()
		FROM prev
		WHERE b.id = prev.id
		RETURNING prev.authorized, prev.paid, prev.payment_intent_ref
	`

	var prior PriorPayment
	err := r.db.QueryRow(ctx, query, id).Scan(&prior.Authorized, &prior.Paid, &prior.PaymentIntentRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to cancel",
			zap.Error(err),
			zap.String("slot_id", id.String()),
		)
		return nil, fmt.Errorf("cancel %s: %w", id.String(), err)
	}
	return &prior, nil
}

func (r *bookedSlotRepository) MarkEnded(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE booked_slots SET ended = true, updated_at = now() WHERE id = $1 AND NOT ended`
	return r.transition(ctx, "mark ended", id, query, id)
}

func (r *bookedSlotRepository) ClaimConfirmationNotice(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE booked_slots
		SET email_confirmation_sent = true, expert_notification_sent = true, updated_at = now()
		WHERE id = $1 AND NOT email_confirmation_sent
	`
	return r.transition(ctx, "claim confirmation notice", id, query, id)
}

func (r *bookedSlotRepository) ClaimEndedNotice(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE booked_slots
		SET email_ended_sent = true, updated_at = now()
		WHERE id = $1 AND NOT email_ended_sent
	`
	return r.transition(ctx, "claim ended notice", id, query, id)
}

func (r *bookedSlotRepository) transition(ctx context.Context, op string, id uuid.UUID, query string, args ...any) (bool, error) {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.log.Error("Failed to "+op,
			zap.Error(err),
			zap.String("slot_id", id.String()),
		)
		return false, fmt.Errorf("%s %s: %w", op, id.String(), err)
	}
	return result.RowsAffected() > 0, nil
}
