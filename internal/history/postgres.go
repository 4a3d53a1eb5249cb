package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wildid/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS identifications (
	id TEXT PRIMARY KEY,
	identity TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	species TEXT NOT NULL,
	common_name TEXT NOT NULL,
	confidence TEXT NOT NULL,
	description TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	conservation_status TEXT NOT NULL DEFAULT '',
	habitat TEXT NOT NULL DEFAULT '',
	fun_fact TEXT NOT NULL DEFAULT '',
	feedback TEXT NOT NULL DEFAULT '',
	feedback_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_identifications_identity
	ON identifications (identity, created_at DESC);
`

// PostgresStorage persists identifications in PostgreSQL via a pgx connection
// pool. The production backend for multi-process deployments.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to the configured database and ensures the
// schema exists.
func NewPostgresStorage(cfg models.DatabaseConfig) (*PostgresStorage, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required for postgres history storage")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(context.Background(), postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Save stores a completed identification.
func (p *PostgresStorage) Save(ctx context.Context, ident *models.Identification) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO identifications
			(id, identity, created_at, species, common_name, confidence,
			 description, notes, conservation_status, habitat, fun_fact, feedback, feedback_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ident.ID, ident.Identity, ident.CreatedAt, ident.Species, ident.CommonName,
		ident.Confidence, ident.Description, ident.Notes, ident.ConservationStatus,
		ident.Habitat, ident.FunFact, ident.Feedback, ident.FeedbackAt,
	)
	if err != nil {
		return fmt.Errorf("save identification: %w", err)
	}
	return nil
}

// List returns the identity's identifications, newest first.
func (p *PostgresStorage) List(ctx context.Context, identity string, limit int) ([]*models.Identification, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, identity, created_at, species, common_name, confidence,
		       description, notes, conservation_status, habitat, fun_fact, feedback, feedback_at
		FROM identifications
		WHERE identity = $1
		ORDER BY created_at DESC
		LIMIT $2`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("list identifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Identification
	for rows.Next() {
		ident, err := scanPgIdentification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identifications: %w", err)
	}
	return out, nil
}

// Get retrieves a single identification by ID.
func (p *PostgresStorage) Get(ctx context.Context, id string) (*models.Identification, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, identity, created_at, species, common_name, confidence,
		       description, notes, conservation_status, habitat, fun_fact, feedback, feedback_at
		FROM identifications
		WHERE id = $1`, id)

	ident, err := scanPgIdentification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ident, err
}

// RecordFeedback attaches feedback to a stored identification.
func (p *PostgresStorage) RecordFeedback(ctx context.Context, id, feedback string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE identifications SET feedback = $1, feedback_at = $2 WHERE id = $3`,
		feedback, at, id)
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

func scanPgIdentification(row pgx.Row) (*models.Identification, error) {
	var ident models.Identification
	var feedbackAt *time.Time

	err := row.Scan(
		&ident.ID, &ident.Identity, &ident.CreatedAt, &ident.Species, &ident.CommonName,
		&ident.Confidence, &ident.Description, &ident.Notes, &ident.ConservationStatus,
		&ident.Habitat, &ident.FunFact, &ident.Feedback, &feedbackAt,
	)
	if err != nil {
		return nil, err
	}
	ident.FeedbackAt = feedbackAt
	return &ident, nil
}
