package repository

import (
	"context"
	"fmt"

	"expert-booking/pkg/database"

	"go.uber.org/zap"
)

type Repository struct {
	Expert       ExpertRepository
	Client       ClientRepository
	Availability AvailabilityRepository
	BookedSlot   BookedSlotRepository
	PromoCode    PromoCodeRepository
	Tx           Transactor
}

// Transactor runs fn with repositories bound to a single database transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx *Repository) error) error
}

func NewRepository(db database.PgxIface, log *zap.Logger) *Repository {
	repo := newRepository(db, log)
	repo.Tx = &pgxTransactor{db: db, log: log.With(zap.String("repository", "tx"))}
	return repo
}

func newRepository(q database.Querier, log *zap.Logger) *Repository {
	return &Repository{
		Expert:       NewExpertRepository(q, log),
		Client:       NewClientRepository(q, log),
		Availability: NewAvailabilityRepository(q, log),
		BookedSlot:   NewBookedSlotRepository(q, log),
		PromoCode:    NewPromoCodeRepository(q, log),
	}
}

type pgxTransactor struct {
	db  database.PgxIface
	log *zap.Logger
}

func (t *pgxTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx *Repository) error) error {
	tx, err := t.db.Begin(ctx)
	if err != nil {
		t.log.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, newRepository(tx, t.log)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		t.log.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
