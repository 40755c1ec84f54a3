// Package journal persists deploy history in a local SQLite database so
// operators can audit what ran, when, and with what outcome.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danmuck/deployctl/internal/deploy"
)

var ErrNotFound = errors.New("journal: deploy not found")

// timeLayout pads fractional seconds to fixed width so the stored text
// sorts in time order. RFC3339Nano trims trailing zeros, which would put
// a whole second after fractional instants within that second.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Journal records pipeline reports.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database and applies migrations.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS deploys (
			deploy_id   TEXT PRIMARY KEY,
			trigger     TEXT NOT NULL,
			branch      TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			env_changes TEXT NOT NULL DEFAULT '{}',
			started_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS deploy_steps (
			deploy_id   TEXT NOT NULL REFERENCES deploys(deploy_id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			name        TEXT NOT NULL,
			status      TEXT NOT NULL,
			exit_code   INTEGER NOT NULL DEFAULT 0,
			detail      TEXT NOT NULL DEFAULT '',
			stdout      TEXT NOT NULL DEFAULT '',
			stderr      TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (deploy_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deploys_started_at ON deploys(started_at);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// Record stores one report and its steps atomically.
func (j *Journal) Record(ctx context.Context, report deploy.Report) error {
	envChanges, err := json.Marshal(report.EnvChanges)
	if err != nil {
		return err
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deploys (deploy_id, trigger, branch, outcome, error, env_changes, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.DeployID,
		string(report.Trigger),
		report.Branch,
		report.Outcome,
		report.Error,
		string(envChanges),
		report.StartedAt.UTC().Format(timeLayout),
		report.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return err
	}

	for seq, step := range report.Steps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO deploy_steps (deploy_id, seq, name, status, exit_code, detail, stdout, stderr, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.DeployID,
			seq,
			step.Name,
			step.Status,
			step.ExitCode,
			step.Detail,
			step.Stdout,
			step.Stderr,
			step.Duration.Milliseconds(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Recent returns the newest reports, steps included, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]deploy.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT deploy_id, trigger, branch, outcome, error, env_changes, started_at, finished_at
		FROM deploys
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []deploy.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range reports {
		steps, err := j.stepsFor(ctx, reports[i].DeployID)
		if err != nil {
			return nil, err
		}
		reports[i].Steps = steps
	}
	return reports, nil
}

// ByID returns one report by deploy id.
func (j *Journal) ByID(ctx context.Context, deployID string) (deploy.Report, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT deploy_id, trigger, branch, outcome, error, env_changes, started_at, finished_at
		FROM deploys
		WHERE deploy_id = ?
	`, deployID)

	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return deploy.Report{}, fmt.Errorf("%w: %s", ErrNotFound, deployID)
		}
		return deploy.Report{}, err
	}
	report.Steps, err = j.stepsFor(ctx, deployID)
	if err != nil {
		return deploy.Report{}, err
	}
	return report, nil
}

// LastSuccess returns the most recent successful deploy, if any.
func (j *Journal) LastSuccess(ctx context.Context) (deploy.Report, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT deploy_id, trigger, branch, outcome, error, env_changes, started_at, finished_at
		FROM deploys
		WHERE outcome = ?
		ORDER BY started_at DESC
		LIMIT 1
	`, deploy.OutcomeSuccess)

	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return deploy.Report{}, ErrNotFound
		}
		return deploy.Report{}, err
	}
	report.Steps, err = j.stepsFor(ctx, report.DeployID)
	if err != nil {
		return deploy.Report{}, err
	}
	return report, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (deploy.Report, error) {
	var report deploy.Report
	var trigger, envChanges, startedAt, finishedAt string
	if err := row.Scan(
		&report.DeployID,
		&trigger,
		&report.Branch,
		&report.Outcome,
		&report.Error,
		&envChanges,
		&startedAt,
		&finishedAt,
	); err != nil {
		return deploy.Report{}, err
	}
	report.Trigger = deploy.Trigger(trigger)
	if err := json.Unmarshal([]byte(envChanges), &report.EnvChanges); err != nil {
		return deploy.Report{}, err
	}

	var err error
	report.StartedAt, err = time.Parse(timeLayout, startedAt)
	if err != nil {
		return deploy.Report{}, err
	}
	report.FinishedAt, err = time.Parse(timeLayout, finishedAt)
	if err != nil {
		return deploy.Report{}, err
	}
	return report, nil
}

func (j *Journal) stepsFor(ctx context.Context, deployID string) ([]deploy.StepResult, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT name, status, exit_code, detail, stdout, stderr, duration_ms
		FROM deploy_steps
		WHERE deploy_id = ?
		ORDER BY seq
	`, deployID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []deploy.StepResult
	for rows.Next() {
		var step deploy.StepResult
		var durationMS int64
		if err := rows.Scan(
			&step.Name,
			&step.Status,
			&step.ExitCode,
			&step.Detail,
			&step.Stdout,
			&step.Stderr,
			&durationMS,
		); err != nil {
			return nil, err
		}
		step.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
