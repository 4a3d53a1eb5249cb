package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"wildid/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS identifications (
	id TEXT PRIMARY KEY,
	identity TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	species TEXT NOT NULL,
	common_name TEXT NOT NULL,
	confidence TEXT NOT NULL,
	description TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	conservation_status TEXT NOT NULL DEFAULT '',
	habitat TEXT NOT NULL DEFAULT '',
	fun_fact TEXT NOT NULL DEFAULT '',
	feedback TEXT NOT NULL DEFAULT '',
	feedback_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_identifications_identity
	ON identifications (identity, created_at DESC);
`

// SQLiteStorage persists identifications in a SQLite database. Suited to
// single-node deployments that need durability without a database server.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at the configured DSN and
// ensures the schema exists.
func NewSQLiteStorage(cfg models.DatabaseConfig) (*SQLiteStorage, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required for sqlite history storage")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Save stores a completed identification.
func (s *SQLiteStorage) Save(ctx context.Context, ident *models.Identification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identifications
			(id, identity, created_at, species, common_name, confidence,
			 description, notes, conservation_status, habitat, fun_fact, feedback, feedback_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
func (s *SQLiteStorage) List(ctx context.Context, identity string, limit int) ([]*models.Identification, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, created_at, species, common_name, confidence,
		       description, notes, conservation_status, habitat, fun_fact, feedback, feedback_at
		FROM identifications
		WHERE identity = ?
		ORDER BY created_at DESC
		LIMIT ?`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("list identifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Identification
	for rows.Next() {
		ident, err := scanIdentification(rows)
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
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*models.Identification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identity, created_at, species, common_name, confidence,
		       description, notes, conservation_status, habitat, fun_fact, feedback, feedback_at
		FROM identifications
		WHERE id = ?`, id)

	ident, err := scanIdentification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ident, err
}

// RecordFeedback attaches feedback to a stored identification.
func (s *SQLiteStorage) RecordFeedback(ctx context.Context, id, feedback string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identifications SET feedback = ?, feedback_at = ? WHERE id = ?`,
		feedback, at, id)
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanIdentification(row scanner) (*models.Identification, error) {
	var ident models.Identification
	var feedbackAt sql.NullTime

	err := row.Scan(
		&ident.ID, &ident.Identity, &ident.CreatedAt, &ident.Species, &ident.CommonName,
		&ident.Confidence, &ident.Description, &ident.Notes, &ident.ConservationStatus,
		&ident.Habitat, &ident.FunFact, &ident.Feedback, &feedbackAt,
	)
	if err != nil {
		return nil, err
	}
	if feedbackAt.Valid {
		ident.FeedbackAt = &feedbackAt.Time
	}
	return &ident, nil
}
