// Package archive keeps the final record of cleaned up jobs in PostgreSQL.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobprogress/internal/jobprogress"
	"github.com/cuongbtq/jobprogress/internal/states"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// ErrNotArchived is returned when no archive entry exists for a job
var ErrNotArchived = errors.New("job not archived")

const schema = `
CREATE TABLE IF NOT EXISTS job_archive (
	job_id            TEXT PRIMARY KEY,
	state             TEXT NOT NULL,
	amount            BIGINT NOT NULL,
	data              JSONB NOT NULL,
	progress          JSONB NOT NULL,
	detailed_progress JSONB NOT NULL,
	archived_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const upsertQuery = `
INSERT INTO job_archive (job_id, state, amount, data, progress, detailed_progress, archived_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (job_id) DO UPDATE
SET state = EXCLUDED.state,
	amount = EXCLUDED.amount,
	data = EXCLUDED.data,
	progress = EXCLUDED.progress,
	detailed_progress = EXCLUDED.detailed_progress,
	archived_at = EXCLUDED.archived_at`

const getQuery = `
SELECT job_id, state, amount, data, progress, detailed_progress, archived_at
FROM job_archive
WHERE job_id = $1`

// Entry is an archived job row
type Entry struct {
	JobID            string         `db:"job_id"`
	State            states.State   `db:"state"`
	Amount           int64          `db:"amount"`
	Data             types.JSONText `db:"data"`
	Progress         types.JSONText `db:"progress"`
	DetailedProgress types.JSONText `db:"detailed_progress"`
	ArchivedAt       time.Time      `db:"archived_at"`
}

// Record decodes the entry back into a job record
func (e *Entry) Record() (*jobprogress.Record, error) {
	rec := &jobprogress.Record{
		ID:      e.JobID,
		Amount:  e.Amount,
		State:   e.State,
		IsReady: e.State.IsReady(),
	}
	if err := e.Data.Unmarshal(&rec.Data); err != nil {
		return nil, fmt.Errorf("failed to decode archived data: %w", err)
	}
	if err := e.Progress.Unmarshal(&rec.Progress); err != nil {
		return nil, fmt.Errorf("failed to decode archived progress: %w", err)
	}
	if err := e.DetailedProgress.Unmarshal(&rec.DetailedProgress); err != nil {
		return nil, fmt.Errorf("failed to decode archived detailed progress: %w", err)
	}
	return rec, nil
}

// Store handles all archive database operations
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the archive table when missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create archive table: %w", err)
	}
	return nil
}

// Archive upserts the record of a job
func (s *Store) Archive(ctx context.Context, rec *jobprogress.Record) error {
	data, err := marshalJSON(rec.Data, map[string]string{})
	if err != nil {
		return err
	}
	progress, err := marshalJSON(rec.Progress, map[states.State]int64{})
	if err != nil {
		return err
	}
	detail, err := marshalJSON(rec.DetailedProgress, map[states.State][]string{})
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, upsertQuery, rec.ID, rec.State.String(), rec.Amount, data, progress, detail)
	if err != nil {
		return fmt.Errorf("failed to archive job %s: %w", rec.ID, err)
	}

	s.logger.Info("Job archived",
		slog.String("job_id", rec.ID),
		slog.String("state", rec.State.String()),
	)
	return nil
}

// Get returns the archive entry of a job
func (s *Store) Get(ctx context.Context, jobID string) (*Entry, error) {
	var e Entry
	if err := s.db.GetContext(ctx, &e, getQuery, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotArchived, jobID)
		}
		return nil, fmt.Errorf("failed to get archived job %s: %w", jobID, err)
	}
	return &e, nil
}

// marshalJSON encodes v, substituting empty when v is a nil map so the
// column never holds JSON null.
func marshalJSON[M ~map[K]V, K comparable, V any](v, empty M) (types.JSONText, error) {
	if v == nil {
		v = empty
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode archive column: %w", err)
	}
	return types.JSONText(raw), nil
}
