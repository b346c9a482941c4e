package repository

import (
	"context"
	"errors"
	"fmt"

	"expert-booking/internal/data/entity"
	"expert-booking/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type ClientRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Client, error)
	AppendBookedSlot(ctx context.Context, clientID, slotID uuid.UUID) error
	RemoveBookedSlot(ctx context.Context, clientID, slotID uuid.UUID) error
}

type clientRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewClientRepository(db database.Querier, log *zap.Logger) ClientRepository {
	return &clientRepository{
		db:  db,
		log: log.With(zap.String("repository", "client")),
	}
}

func (r *clientRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Client, error) {
	query := `
		SELECT id, booked_slot_ids::text[], created_at, updated_at
		FROM clients
		WHERE id = $1
	`

	var (
		client  entity.Client
		slotIDs []string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&client.ID,
		&slotIDs,
		&client.CreatedAt,
		&client.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find client by ID",
			zap.Error(err),
			zap.String("client_id", id.String()),
		)
		return nil, fmt.Errorf("find client by ID %s: %w", id.String(), err)
	}

	if client.BookedSlotIDs, err = parseUUIDs(slotIDs); err != nil {
		return nil, err
	}

	return &client, nil
}

// AppendBookedSlot creates the client row on first booking; accounts live with the identity provider.
func (r *clientRepository) AppendBookedSlot(ctx context.Context, clientID, slotID uuid.UUID) error {
	query := `
		INSERT INTO clients (id, booked_slot_ids, created_at, updated_at)
		VALUES ($1, ARRAY[$2::uuid], now(), now())
		ON CONFLICT (id) DO UPDATE
		SET booked_slot_ids = array_append(clients.booked_slot_ids, $2::uuid), updated_at = now()
		WHERE NOT ($2::uuid = ANY(clients.booked_slot_ids))
	`

	if _, err := r.db.Exec(ctx, query, clientID, slotID.String()); err != nil {
		r.log.Error("Failed to append booked slot to client",
			zap.Error(err),
			zap.String("client_id", clientID.String()),
			zap.String("slot_id", slotID.String()),
		)
		return fmt.Errorf("append slot %s to client %s: %w", slotID.String(), clientID.String(), err)
	}

	return nil
}

func (r *clientRepository) RemoveBookedSlot(ctx context.Context, clientID, slotID uuid.UUID) error {
	query := `
		UPDATE clients
		SET booked_slot_ids = array_remove(booked_slot_ids, $2::uuid), updated_at = now()
		WHERE id = $1
	`

	if _, err := r.db.Exec(ctx, query, clientID, slotID.String()); err != nil {
		r.log.Error("Failed to remove booked slot from client",
			zap.Error(err),
			zap.String("client_id", clientID.String()),
			zap.String("slot_id", slotID.String()),
		)
		return fmt.Errorf("remove slot %s from client %s: %w", slotID.String(), clientID.String(), err)
	}

	return nil
}
