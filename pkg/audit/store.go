// Package audit persists run outcomes and their attempt logs to SQLite so
// escalated runs can be reviewed after the fact. The Store satisfies the
// orchestrator's AuditSink interface; the engine treats recording as
// fire-and-forget and never depends on it for correctness.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/assaylab/assay/internal/metrics"
	"github.com/assaylab/assay/pkg/orchestrator"
	"github.com/assaylab/assay/pkg/provider"
	"github.com/assaylab/assay/pkg/validate"
)

// ErrNotFound is returned when no record matches the requested run ID.
var ErrNotFound = errors.New("run not found")

// Config holds audit store configuration.
type Config struct {
	DBPath string
	Logger zerolog.Logger
}

// Store persists run records. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// RunRecord is a persisted run. ListRuns returns records without the
// attempt log and history; GetRun fills both.
type RunRecord struct {
	ID            string
	RunID         string
	Status        orchestrator.Status
	Mode          orchestrator.Mode
	Content       string
	Reasoning     string
	Error         string
	ProviderCalls int
	Duration      time.Duration
	History       []provider.Message
	Attempts      []orchestrator.AttemptRecord
	CreatedAt     time.Time
}

// NewStore opens the audit database, creating the file and its parent
// directory if necessary.
func NewStore(cfg Config) (*Store, error) {
	metrics.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode keeps run recording from blocking concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.DBPath).Msg("Audit store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			mode TEXT NOT NULL,
			content TEXT NOT NULL,
			reasoning TEXT NOT NULL,
			error TEXT NOT NULL,
			provider_calls INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			history TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id);
		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at_ms);

		CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			run_row_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			attempt INTEGER NOT NULL,
			cycle INTEGER NOT NULL,
			mode TEXT NOT NULL,
			cached INTEGER NOT NULL,
			response TEXT NOT NULL,
			tool_calls INTEGER NOT NULL,
			validation TEXT,
			error TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			FOREIGN KEY (run_row_id) REFERENCES runs(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_row_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordRun persists one completed run and its attempt log in a single
// transaction.
func (s *Store) RecordRun(ctx context.Context, result *orchestrator.Result) error {
	if result == nil {
		return errors.New("result is required")
	}

	start := time.Now()

	history, err := json.Marshal(result.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rowID := uuid.NewString()
	_, err = tx.Exec(
		`INSERT INTO runs (id, run_id, status, mode, content, reasoning, error, provider_calls, duration_ms, history, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rowID, result.ID, string(result.Status), string(result.Mode),
		result.Content, result.Reasoning, result.Error,
		result.ProviderCalls, result.Duration.Milliseconds(),
		string(history), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, att := range result.Attempts {
		var validation interface{}
		if att.Validation != nil {
			encoded, err := json.Marshal(att.Validation)
			if err != nil {
				return fmt.Errorf("failed to encode validation: %w", err)
			}
			validation = string(encoded)
		}

		_, err = tx.Exec(
			`INSERT INTO attempts (id, run_row_id, seq, attempt, cycle, mode, cached, response, tool_calls, validation, error, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), rowID, i, att.Attempt, att.Cycle, string(att.Mode),
			att.Cached, att.Response, att.ToolCalls, validation, att.Err,
			att.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert attempt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run record: %w", err)
	}

	metrics.RecordAuditWrite(time.Since(start))

	s.logger.Debug().
		Str("run_id", result.ID).
		Str("status", string(result.Status)).
		Int("attempts", len(result.Attempts)).
		Msg("Run recorded")

	return nil
}

// GetRun returns the most recent record for a run ID, including its attempt
// log and conversation history.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, status, mode, content, reasoning, error, provider_calls, duration_ms, history, created_at_ms
		FROM runs
		WHERE run_id = ?
		ORDER BY created_at_ms DESC, rowid DESC
		LIMIT 1
	`, runID)

	var rec RunRecord
	var status, mode, history string
	var durationMs, createdAtMs int64
	err := row.Scan(
		&rec.ID, &rec.RunID, &status, &mode, &rec.Content, &rec.Reasoning,
		&rec.Error, &rec.ProviderCalls, &durationMs, &history, &createdAtMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read run: %w", err)
	}

	rec.Status = orchestrator.Status(status)
	rec.Mode = orchestrator.Mode(mode)
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.CreatedAt = time.UnixMilli(createdAtMs)
	if err := json.Unmarshal([]byte(history), &rec.History); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT attempt, cycle, mode, cached, response, tool_calls, validation, error, duration_ms
		FROM attempts
		WHERE run_row_id = ?
		ORDER BY seq
	`, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var att orchestrator.AttemptRecord
		var attMode string
		var validation sql.NullString
		var attDurationMs int64
		err := rows.Scan(
			&att.Attempt, &att.Cycle, &attMode, &att.Cached, &att.Response,
			&att.ToolCalls, &validation, &att.Err, &attDurationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		att.Mode = orchestrator.Mode(attMode)
		att.Duration = time.Duration(attDurationMs) * time.Millisecond
		if validation.Valid {
			var agg validate.Aggregate
			if err := json.Unmarshal([]byte(validation.String), &agg); err != nil {
				return nil, fmt.Errorf("failed to decode validation: %w", err)
			}
			att.Validation = &agg
		}

		rec.Attempts = append(rec.Attempts, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attempts: %w", err)
	}

	return &rec, nil
}

// ListRuns returns the most recent run records, newest first, without their
// attempt logs or histories. A non-positive limit defaults to 50.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, status, mode, content, reasoning, error, provider_calls, duration_ms, created_at_ms
		FROM runs
		ORDER BY created_at_ms DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var status, mode string
		var durationMs, createdAtMs int64
		err := rows.Scan(
			&rec.ID, &rec.RunID, &status, &mode, &rec.Content, &rec.Reasoning,
			&rec.Error, &rec.ProviderCalls, &durationMs, &createdAtMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		rec.Status = orchestrator.Status(status)
		rec.Mode = orchestrator.Mode(mode)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(createdAtMs)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// PurgeOlderThan deletes run records older than age, cascading to their
// attempt rows. It returns the number of runs removed.
func (s *Store) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UnixMilli()

	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE created_at_ms < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge runs: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info().Int64("purged", purged).Msg("Purged aged run records")
	}

	return purged, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
