// Package pgstore provides a PostgreSQL-backed archive of completed voice
// turns.
//
// Each turn is appended to a single turns table together with its latency
// intervals, so deployments can analyse response times over longer windows
// than the in-process metrics retain. The store is optional; the engine runs
// without one.
//
// Usage:
//
//	store, err := pgstore.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.WriteTurn(ctx, sessionID, record)
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voicewire/internal/timing"
	"github.com/MrWong99/voicewire/internal/transcript"
)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    id                    BIGSERIAL    PRIMARY KEY,
    session_id            TEXT         NOT NULL,
    started_at            TIMESTAMPTZ  NOT NULL,
    completed_at          TIMESTAMPTZ  NOT NULL,
    transcript            TEXT         NOT NULL,
    capture_ns            BIGINT,
    transcription_ns      BIGINT,
    inference_ns          BIGINT,
    tool_execution_ns     BIGINT,
    synthesis_ns          BIGINT,
    playback_ns           BIGINT
);

CREATE INDEX IF NOT EXISTS idx_turns_session_id
    ON turns (session_id);

CREATE INDEX IF NOT EXISTS idx_turns_completed_at
    ON turns (completed_at);
`

// Store archives completed turns in PostgreSQL. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the database at dsn and runs
// [Migrate] to ensure the turns table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("turn store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("turn store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("turn store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates the turns table and its indexes. It is idempotent and safe
// to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTurns); err != nil {
		return fmt.Errorf("turn store migrate: %w", err)
	}
	return nil
}

// WriteTurn appends record to the turns table under sessionID. Intervals the
// turn never produced (a turn without a tool call has no tool_execution
// interval) are stored as NULL.
func (s *Store) WriteTurn(ctx context.Context, sessionID string, record transcript.TurnRecord) error {
	const q = `
		INSERT INTO turns
		    (session_id, started_at, completed_at, transcript,
		     capture_ns, transcription_ns, inference_ns,
		     tool_execution_ns, synthesis_ns, playback_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		sessionID,
		record.StartedAt,
		record.CompletedAt,
		record.Transcript,
		nanos(record.Report.Capture),
		nanos(record.Report.Transcription),
		nanos(record.Report.Inference),
		nanos(record.Report.ToolExecution),
		nanos(record.Report.Synthesis),
		nanos(record.Report.Playback),
	)
	if err != nil {
		return fmt.Errorf("turn store: write turn: %w", err)
	}
	return nil
}

// Recent returns the turns for sessionID completed no earlier than
// time.Now()-window, ordered chronologically (oldest first).
func (s *Store) Recent(ctx context.Context, sessionID string, window time.Duration) ([]transcript.TurnRecord, error) {
	const q = `
		SELECT started_at, completed_at, transcript,
		       capture_ns, transcription_ns, inference_ns,
		       tool_execution_ns, synthesis_ns, playback_ns
		FROM   turns
		WHERE  session_id   = $1
		  AND  completed_at >= now() - ($2::bigint * interval '1 microsecond')
		ORDER  BY completed_at`

	rows, err := s.pool.Query(ctx, q, sessionID, window.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("turn store: recent: %w", err)
	}
	return collectTurns(rows)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// collectTurns scans pgx rows into a slice of TurnRecord values.
func collectTurns(rows pgx.Rows) ([]transcript.TurnRecord, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.TurnRecord, error) {
		var (
			r             transcript.TurnRecord
			capture       *int64
			transcription *int64
			inference     *int64
			toolExecution *int64
			synthesis     *int64
			playback      *int64
		)
		if err := row.Scan(
			&r.StartedAt,
			&r.CompletedAt,
			&r.Transcript,
			&capture,
			&transcription,
			&inference,
			&toolExecution,
			&synthesis,
			&playback,
		); err != nil {
			return transcript.TurnRecord{}, err
		}
		r.Report = timing.Report{
			Capture:       interval(capture),
			Transcription: interval(transcription),
			Inference:     interval(inference),
			ToolExecution: interval(toolExecution),
			Synthesis:     interval(synthesis),
			Playback:      interval(playback),
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("turn store: scan rows: %w", err)
	}
	if records == nil {
		records = []transcript.TurnRecord{}
	}
	return records, nil
}

// nanos converts an interval to its nullable column value.
func nanos(iv timing.Interval) *int64 {
	if !iv.OK {
		return nil
	}
	n := iv.Duration.Nanoseconds()
	return &n
}

// interval converts a nullable column value back to an interval.
func interval(n *int64) timing.Interval {
	if n == nil {
		return timing.Interval{}
	}
	return timing.Interval{Duration: time.Duration(*n), OK: true}
}
