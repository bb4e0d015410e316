package store

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/fallwatch/internal/types"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection for sources and alert history.
type Store struct {
	conn *pgx.Conn
}

// AlertRecord is one persisted alert.
type AlertRecord struct {
	ID                int64
	SourceID          string
	RunID             string
	Sequence          int64
	Identity          string
	FrameIndex        int
	Box               types.BBox
	ConsecutiveFrames int
	AspectRatio       float64
	Artifact          string
	DetectedAt        time.Time
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
		CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			location TEXT NOT NULL,
			registered_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS fall_alerts (
			id BIGSERIAL PRIMARY KEY,
			source_id TEXT REFERENCES sources(id),
			run_id TEXT NOT NULL,
			sequence BIGINT NOT NULL,
			identity TEXT NOT NULL,
			frame_index INT NOT NULL,
			bbox INT[] NOT NULL,
			consecutive_frames INT NOT NULL,
			aspect_ratio DOUBLE PRECISION NOT NULL,
			artifact TEXT NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			UNIQUE (run_id, sequence)
		);
		CREATE INDEX IF NOT EXISTS fall_alerts_source_id_idx ON fall_alerts (source_id, detected_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureSource registers a video source. If it exists, it updates the timestamp.
func (s *Store) EnsureSource(ctx context.Context, sourceID, location string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sources (id, location, registered_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET registered_at = NOW(), location = EXCLUDED.location
	`, sourceID, location)
	return err
}

// InsertAlert saves one fall alert. Re-delivering the same (run, sequence) is a no-op.
func (s *Store) InsertAlert(ctx context.Context, ev types.AlertEvent, artifact string) error {
	var source any
	if ev.Source != "" {
		source = ev.Source
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO fall_alerts (source_id, run_id, sequence, identity, frame_index, bbox,
			consecutive_frames, aspect_ratio, artifact, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, sequence) DO NOTHING
	`, source, ev.RunID, ev.Sequence, ev.Identity, ev.FrameIndex,
		[]int{ev.Box.X1, ev.Box.Y1, ev.Box.X2, ev.Box.Y2},
		ev.ConsecutiveFrames, ev.AspectRatio, artifact, ev.Timestamp)
	return err
}

// ListAlerts returns the newest alerts first. An empty sourceID lists every source.
func (s *Store) ListAlerts(ctx context.Context, sourceID string, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, COALESCE(source_id, ''), run_id, sequence, identity, frame_index, bbox,
			consecutive_frames, aspect_ratio, artifact, detected_at
		FROM fall_alerts
		WHERE $1 = '' OR source_id = $1
		ORDER BY detected_at DESC, id DESC
		LIMIT $2
	`, sourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var r AlertRecord
		var box []int32
		if err := rows.Scan(&r.ID, &r.SourceID, &r.RunID, &r.Sequence, &r.Identity, &r.FrameIndex,
			&box, &r.ConsecutiveFrames, &r.AspectRatio, &r.Artifact, &r.DetectedAt); err != nil {
			return nil, err
		}
		if len(box) == 4 {
			r.Box = types.BBox{X1: int(box[0]), Y1: int(box[1]), X2: int(box[2]), Y2: int(box[3])}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS fall_alerts CASCADE;
		DROP TABLE IF EXISTS sources CASCADE;
	`)
	return err
}
