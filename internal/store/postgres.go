package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"negosync/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS negotiations (
	id                text PRIMARY KEY,
	item_number       bigint NOT NULL DEFAULT 1,
	payload           jsonb NOT NULL,
	calendar_event_id text,
	updated_at        timestamptz NOT NULL DEFAULT now()
)`

// PostgresRepository stores negotiations as JSONB rows.
type PostgresRepository struct {
	db *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository connects to databaseURL.
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresRepository{db: pool}, nil
}

// EnsureSchema creates the negotiations table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.db.Close()
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Negotiation, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM negotiations WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return decodePayload(payload)
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.Negotiation, error) {
	rows, err := r.db.Query(ctx, `SELECT payload FROM negotiations ORDER BY item_number, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Negotiation
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		n, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Save(ctx context.Context, n *models.Negotiation) error {
	if err := n.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal negotiation %s: %w", n.ID, err)
	}
	var eventID *string
	if n.Synced() {
		s := string(n.CalendarEventID)
		eventID = &s
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO negotiations (id, item_number, payload, calendar_event_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			item_number=EXCLUDED.item_number,
			payload=EXCLUDED.payload,
			calendar_event_id=EXCLUDED.calendar_event_id,
			updated_at=now()
	`, n.ID, n.ItemNumber, payload, eventID)
	return err
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM negotiations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func decodePayload(payload []byte) (*models.Negotiation, error) {
	n := &models.Negotiation{}
	if err := json.Unmarshal(payload, n); err != nil {
		return nil, fmt.Errorf("failed to decode negotiation payload: %w", err)
	}
	return n, nil
}
