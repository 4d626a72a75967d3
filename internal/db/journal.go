package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/buildtall-systems/ticketbot/internal/fsm"
)

// ErrRunNotFound indicates the run does not exist.
var ErrRunNotFound = errors.New("run not found")

// ErrRunFinished indicates the run already has a result.
var ErrRunFinished = errors.New("run already finished")

// Run results.
const (
	ResultRunning   = "running"
	ResultDone      = "done"
	ResultAborted   = "aborted"
	ResultCancelled = "cancelled"
	ResultFailed    = "failed"
)

// Target identifies the ticket a run is buying.
type Target struct {
	ProjectID int64
	ScreenID  int64
	SkuID     int64
}

// Run is one purchase attempt from start to finish.
type Run struct {
	ID         int64
	Target     Target
	StartedAt  time.Time
	FinishedAt *time.Time
	Result     string
	Detail     string
}

// StepRecord is a journaled transition.
type StepRecord struct {
	RunID     int64
	Seq       int
	Trigger   string
	From      string
	To        string
	Rule      string
	Code      string
	RawCode   *int
	Message   string
	CreatedAt time.Time
}

// StartRun opens a new run in the running state.
func (db *DB) StartRun(ctx context.Context, target Target, startedAt time.Time) (*Run, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO runs (project_id, screen_id, sku_id, started_at, result)
		VALUES (?, ?, ?, ?, ?)
	`, target.ProjectID, target.ScreenID, target.SkuID, startedAt.UnixMilli(), ResultRunning)
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting run id: %w", err)
	}

	return &Run{
		ID:        id,
		Target:    target,
		StartedAt: time.UnixMilli(startedAt.UnixMilli()),
		Result:    ResultRunning,
	}, nil
}

// FinishRun records the final result of a running run.
func (db *DB) FinishRun(ctx context.Context, runID int64, result, detail string, finishedAt time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE runs
		SET result = ?, detail = ?, finished_at = ?
		WHERE id = ? AND finished_at IS NULL
	`, result, detail, finishedAt.UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := db.GetRun(ctx, runID); err != nil {
			return err
		}
		return ErrRunFinished
	}
	return nil
}

// GetRun returns a run by ID.
func (db *DB) GetRun(ctx context.Context, runID int64) (*Run, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, project_id, screen_id, sku_id, started_at, finished_at, result, detail
		FROM runs WHERE id = ?
	`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, project_id, screen_id, sku_id, started_at, finished_at, result, detail
		FROM runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// RecordStep appends a transition to a run.
func (db *DB) RecordStep(ctx context.Context, runID int64, step fsm.Step) error {
	code, raw, message := describeOutcome(step.Outcome)
	_, err := db.ExecContext(ctx, `
		INSERT INTO steps (run_id, seq, event, src, dst, rule, code, raw_code, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, step.Seq, string(step.Trigger), string(step.From), string(step.To), step.Rule,
		code, raw, message, step.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("recording step: %w", err)
	}
	return nil
}

// ListSteps returns the steps of a run in firing order.
func (db *DB) ListSteps(ctx context.Context, runID int64) ([]StepRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, seq, event, src, dst, rule, code, raw_code, message, created_at
		FROM steps WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var s StepRecord
		var raw sql.NullInt64
		var created int64
		if err := rows.Scan(&s.RunID, &s.Seq, &s.Trigger, &s.From, &s.To, &s.Rule,
			&s.Code, &raw, &s.Message, &created); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		if raw.Valid {
			v := int(raw.Int64)
			s.RawCode = &v
		}
		s.CreatedAt = time.UnixMilli(created)
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var started int64
	var finished sql.NullInt64
	if err := s.Scan(&r.ID, &r.Target.ProjectID, &r.Target.ScreenID, &r.Target.SkuID,
		&started, &finished, &r.Result, &r.Detail); err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		r.FinishedAt = &t
	}
	return &r, nil
}

func describeOutcome(o fsm.Outcome) (code string, raw sql.NullInt64, message string) {
	switch v := o.(type) {
	case fsm.CodeOutcome:
		msg := v.Message
		if msg == "" {
			msg = v.Reason
		}
		return v.Code.String(), sql.NullInt64{Int64: int64(v.Raw), Valid: true}, msg
	case fsm.FlagOutcome:
		if v {
			return "true", sql.NullInt64{}, ""
		}
		return "false", sql.NullInt64{}, ""
	default:
		return "", sql.NullInt64{}, ""
	}
}

// Recorder journals every step of one run.
type Recorder struct {
	db     *DB
	runID  int64
	logger *zap.Logger
}

func NewRecorder(db *DB, runID int64, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{db: db, runID: runID, logger: logger.Named("journal")}
}

// Observe writes step to the journal. A failed write is logged and the run
// continues.
func (r *Recorder) Observe(ctx context.Context, step fsm.Step) {
	if err := r.db.RecordStep(context.WithoutCancel(ctx), r.runID, step); err != nil {
		r.logger.Warn("journal write failed", zap.Int64("run_id", r.runID), zap.Int("seq", step.Seq), zap.Error(err))
	}
}
