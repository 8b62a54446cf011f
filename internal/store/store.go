package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a row addressed by key does not exist.
var ErrNotFound = errors.New("not found")

// Store manages the PostgreSQL connection holding the SKU catalogue and run history.
type Store struct {
	conn *pgx.Conn
}

// SkuCode is one catalogue entry.
type SkuCode struct {
	Label     string
	Code      int
	UpdatedAt time.Time
}

// RunRecord summarises one pipeline run.
type RunRecord struct {
	RunID           string
	VideoID         string
	VideoPath       string
	StartedAt       time.Time
	FinishedAt      time.Time
	FramesRead      uint64
	FramesDropped   uint64
	FramesForwarded uint64
	DetectorErrors  uint64
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sku_codes (
			label TEXT PRIMARY KEY,
			code INT NOT NULL CHECK (code > 0),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			video_path TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			frames_read BIGINT NOT NULL DEFAULT 0,
			frames_dropped BIGINT NOT NULL DEFAULT 0,
			frames_forwarded BIGINT NOT NULL DEFAULT 0,
			detector_errors BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS runs_video_id_idx ON runs (video_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// ListSkus returns the catalogue ordered by label.
func (s *Store) ListSkus(ctx context.Context) ([]SkuCode, error) {
	rows, err := s.conn.Query(ctx, "SELECT label, code, updated_at FROM sku_codes ORDER BY label")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SkuCode
	for rows.Next() {
		var c SkuCode
		if err := rows.Scan(&c.Label, &c.Code, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SkuMap returns the catalogue as a label to code map.
func (s *Store) SkuMap(ctx context.Context) (map[string]int, error) {
	codes, err := s.ListSkus(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]int, len(codes))
	for _, c := range codes {
		m[c.Label] = c.Code
	}
	return m, nil
}

// UpsertSku creates or replaces the code for label.
func (s *Store) UpsertSku(ctx context.Context, label string, code int) error {
	if label == "" {
		return errors.New("label must not be empty")
	}
	if code <= 0 {
		return fmt.Errorf("code must be positive, got %d", code)
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sku_codes (label, code, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (label) DO UPDATE SET code = EXCLUDED.code, updated_at = NOW()
	`, label, code)
	return err
}

// DeleteSku removes label from the catalogue. Returns ErrNotFound if it was not present.
func (s *Store) DeleteSku(ctx context.Context, label string) error {
	tag, err := s.conn.Exec(ctx, "DELETE FROM sku_codes WHERE label = $1", label)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sku %q: %w", label, ErrNotFound)
	}
	return nil
}

// RecordRun stores the summary of a finished run. Re-recording a run id replaces it.
func (s *Store) RecordRun(ctx context.Context, r RunRecord) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO runs (run_id, video_id, video_path, started_at, finished_at,
			frames_read, frames_dropped, frames_forwarded, detector_errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET finished_at = EXCLUDED.finished_at,
			frames_read = EXCLUDED.frames_read, frames_dropped = EXCLUDED.frames_dropped,
			frames_forwarded = EXCLUDED.frames_forwarded, detector_errors = EXCLUDED.detector_errors
	`, r.RunID, r.VideoID, r.VideoPath, r.StartedAt, r.FinishedAt,
		int64(r.FramesRead), int64(r.FramesDropped), int64(r.FramesForwarded), int64(r.DetectorErrors))
	return err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all of them.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT run_id, video_id, video_path, started_at, finished_at,
		frames_read, frames_dropped, frames_forwarded, detector_errors
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var read, dropped, forwarded, detErrs int64
		if err := rows.Scan(&r.RunID, &r.VideoID, &r.VideoPath, &r.StartedAt, &r.FinishedAt,
			&read, &dropped, &forwarded, &detErrs); err != nil {
			return nil, err
		}
		r.FramesRead, r.FramesDropped = uint64(read), uint64(dropped)
		r.FramesForwarded, r.DetectorErrors = uint64(forwarded), uint64(detErrs)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS sku_codes CASCADE;
		DROP TABLE IF EXISTS runs CASCADE;
	`)
	return err
}
