package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/stackform/stackform/internal/core/health"
	"github.com/stackform/stackform/internal/core/reconcile"
	"github.com/stackform/stackform/internal/core/rollout"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sqlx.DB
	exec executor
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db, exec: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction; fn receives a Store bound to it.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txStore := &SQLiteStore{db: s.db, exec: tx}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", "rollback failed: "+rbErr.Error(), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "commit failed", ErrTxFailed)
	}
	return nil
}

// =============================================================================
// Resource Operations
// =============================================================================

// resourceRow represents a resource completion marker in the database.
type resourceRow struct {
	Environment  string  `db:"environment"`
	Module       string  `db:"module"`
	Kind         string  `db:"kind"`
	Name         string  `db:"name"`
	RemoteID     string  `db:"remote_id"`
	DeclaredHash string  `db:"declared_hash"`
	Attributes   *string `db:"attributes"`
	Outputs      *string `db:"outputs"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
}

func (r resourceRow) toDomain() (reconcile.Resource, error) {
	res := reconcile.Resource{
		Environment:  r.Environment,
		Module:       r.Module,
		Kind:         r.Kind,
		Name:         r.Name,
		RemoteID:     r.RemoteID,
		DeclaredHash: r.DeclaredHash,
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
	if r.Attributes != nil && *r.Attributes != "" {
		if err := json.Unmarshal([]byte(*r.Attributes), &res.Attributes); err != nil {
			return res, NewStoreError("toDomain", "resource", r.Name, "failed to decode attributes", ErrInvalidData)
		}
	}
	if r.Outputs != nil && *r.Outputs != "" {
		if err := json.Unmarshal([]byte(*r.Outputs), &res.Outputs); err != nil {
			return res, NewStoreError("toDomain", "resource", r.Name, "failed to decode outputs", ErrInvalidData)
		}
	}
	return res, nil
}

// SaveResource inserts or replaces a resource completion marker.
func (s *SQLiteStore) SaveResource(ctx context.Context, res *reconcile.Resource) error {
	var attributes, outputs *string
	if len(res.Attributes) > 0 {
		data, err := json.Marshal(res.Attributes)
		if err != nil {
			return NewStoreError("SaveResource", "resource", res.Name, "failed to encode attributes", ErrInvalidData)
		}
		str := string(data)
		attributes = &str
	}
	if len(res.Outputs) > 0 {
		data, err := json.Marshal(res.Outputs)
		if err != nil {
			return NewStoreError("SaveResource", "resource", res.Name, "failed to encode outputs", ErrInvalidData)
		}
		str := string(data)
		outputs = &str
	}

	row := resourceRow{
		Environment:  res.Environment,
		Module:       res.Module,
		Kind:         res.Kind,
		Name:         res.Name,
		RemoteID:     res.RemoteID,
		DeclaredHash: res.DeclaredHash,
		Attributes:   attributes,
		Outputs:      outputs,
		CreatedAt:    formatTime(res.CreatedAt),
		UpdatedAt:    formatTime(res.UpdatedAt),
	}

	_, err := s.exec.NamedExecContext(ctx, `
		INSERT INTO resources (environment, module, kind, name, remote_id, declared_hash, attributes, outputs, created_at, updated_at)
		VALUES (:environment, :module, :kind, :name, :remote_id, :declared_hash, :attributes, :outputs, :created_at, :updated_at)
		ON CONFLICT(environment, module, name) DO UPDATE SET
			kind = excluded.kind,
			remote_id = excluded.remote_id,
			declared_hash = excluded.declared_hash,
			attributes = excluded.attributes,
			outputs = excluded.outputs,
			updated_at = excluded.updated_at`,
		row)
	if err != nil {
		return NewStoreError("SaveResource", "resource", res.Name, err.Error(), err)
	}
	return nil
}

// GetResource retrieves a resource marker. Returns ErrNotFound when absent.
func (s *SQLiteStore) GetResource(ctx context.Context, environment, module, name string) (*reconcile.Resource, error) {
	var row resourceRow
	err := s.exec.GetContext(ctx, &row,
		`SELECT * FROM resources WHERE environment = ? AND module = ? AND name = ?`,
		environment, module, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetResource", "resource", name, "not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetResource", "resource", name, err.Error(), err)
	}
	res, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListResourcesByModule lists markers for one module in creation order.
func (s *SQLiteStore) ListResourcesByModule(ctx context.Context, environment, module string) ([]reconcile.Resource, error) {
	var rows []resourceRow
	err := s.exec.SelectContext(ctx, &rows,
		`SELECT * FROM resources WHERE environment = ? AND module = ? ORDER BY created_at, name`,
		environment, module)
	if err != nil {
		return nil, NewStoreError("ListResourcesByModule", "resource", module, err.Error(), err)
	}
	return rowsToResources(rows)
}

// ListResources lists every marker for an environment.
func (s *SQLiteStore) ListResources(ctx context.Context, environment string) ([]reconcile.Resource, error) {
	var rows []resourceRow
	err := s.exec.SelectContext(ctx, &rows,
		`SELECT * FROM resources WHERE environment = ? ORDER BY module, created_at, name`,
		environment)
	if err != nil {
		return nil, NewStoreError("ListResources", "resource", environment, err.Error(), err)
	}
	return rowsToResources(rows)
}

// DeleteResource removes a marker (explicit teardown only).
func (s *SQLiteStore) DeleteResource(ctx context.Context, environment, module, name string) error {
	_, err := s.exec.ExecContext(ctx,
		`DELETE FROM resources WHERE environment = ? AND module = ? AND name = ?`,
		environment, module, name)
	if err != nil {
		return NewStoreError("DeleteResource", "resource", name, err.Error(), err)
	}
	return nil
}

func rowsToResources(rows []resourceRow) ([]reconcile.Resource, error) {
	out := make([]reconcile.Resource, 0, len(rows))
	for _, row := range rows {
		res, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// =============================================================================
// Deployment Run Operations
// =============================================================================

// runRow represents a deployment run in the database.
type runRow struct {
	ID            string  `db:"id"`
	Environment   string  `db:"environment"`
	Substrate     string  `db:"substrate"`
	ArtifactRef   string  `db:"artifact_ref"`
	Stage         string  `db:"stage"`
	ApprovalState string  `db:"approval_state"`
	ErrorMessage  string  `db:"error_message"`
	CreatedAt     string  `db:"created_at"`
	UpdatedAt     string  `db:"updated_at"`
	CompletedAt   *string `db:"completed_at"`
}

func (r runRow) toDomain() rollout.Run {
	run := rollout.Run{
		ID:            r.ID,
		Environment:   r.Environment,
		Substrate:     rollout.Substrate(r.Substrate),
		ArtifactRef:   r.ArtifactRef,
		Stage:         rollout.Stage(r.Stage),
		ApprovalState: rollout.ApprovalState(r.ApprovalState),
		ErrorMessage:  r.ErrorMessage,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
	if r.CompletedAt != nil {
		t := parseTime(*r.CompletedAt)
		run.CompletedAt = &t
	}
	return run
}

func runToRow(run *rollout.Run) runRow {
	row := runRow{
		ID:            run.ID,
		Environment:   run.Environment,
		Substrate:     string(run.Substrate),
		ArtifactRef:   run.ArtifactRef,
		Stage:         string(run.Stage),
		ApprovalState: string(run.ApprovalState),
		ErrorMessage:  run.ErrorMessage,
		CreatedAt:     formatTime(run.CreatedAt),
		UpdatedAt:     formatTime(run.UpdatedAt),
	}
	if run.CompletedAt != nil {
		s := formatTime(*run.CompletedAt)
		row.CompletedAt = &s
	}
	return row
}

// CreateRun inserts a new deployment run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *rollout.Run) error {
	_, err := s.exec.NamedExecContext(ctx, `
		INSERT INTO deployment_runs (id, environment, substrate, artifact_ref, stage, approval_state, error_message, created_at, updated_at, completed_at)
		VALUES (:id, :environment, :substrate, :artifact_ref, :stage, :approval_state, :error_message, :created_at, :updated_at, :completed_at)`,
		runToRow(run))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return NewStoreError("CreateRun", "run", run.ID, "already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRun", "run", run.ID, err.Error(), err)
	}
	return nil
}

// UpdateRun persists a run's current stage and approval state.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *rollout.Run) error {
	result, err := s.exec.NamedExecContext(ctx, `
		UPDATE deployment_runs SET
			stage = :stage,
			approval_state = :approval_state,
			error_message = :error_message,
			updated_at = :updated_at,
			completed_at = :completed_at
		WHERE id = :id`,
		runToRow(run))
	if err != nil {
		return NewStoreError("UpdateRun", "run", run.ID, err.Error(), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewStoreError("UpdateRun", "run", run.ID, "not found", ErrNotFound)
	}
	return nil
}

// GetRun retrieves a deployment run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*rollout.Run, error) {
	var row runRow
	err := s.exec.GetContext(ctx, &row, `SELECT * FROM deployment_runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetRun", "run", id, "not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}
	run := row.toDomain()
	return &run, nil
}

// ListRuns lists runs for an environment, newest first. An empty
// environment lists all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, environment string) ([]rollout.Run, error) {
	var rows []runRow
	var err error
	if environment == "" {
		err = s.exec.SelectContext(ctx, &rows,
			`SELECT * FROM deployment_runs ORDER BY created_at DESC, id`)
	} else {
		err = s.exec.SelectContext(ctx, &rows,
			`SELECT * FROM deployment_runs WHERE environment = ? ORDER BY created_at DESC, id`, environment)
	}
	if err != nil {
		return nil, NewStoreError("ListRuns", "run", environment, err.Error(), err)
	}
	runs := make([]rollout.Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toDomain())
	}
	return runs, nil
}

// =============================================================================
// Health Attempt Operations
// =============================================================================

// healthAttemptRow represents a health attempt in the database.
type healthAttemptRow struct {
	ID         int64  `db:"id"`
	RunID      string `db:"run_id"`
	Target     string `db:"target"`
	Number     int    `db:"number"`
	StatusCode *int   `db:"status_code"`
	Outcome    string `db:"outcome"`
	Error      string `db:"error"`
	At         string `db:"at"`
}

// CreateHealthAttempt appends one attempt to a run's verify history.
func (s *SQLiteStore) CreateHealthAttempt(ctx context.Context, runID string, attempt health.Attempt) error {
	row := healthAttemptRow{
		RunID:      runID,
		Target:     attempt.Target,
		Number:     attempt.Number,
		StatusCode: attempt.StatusCode,
		Outcome:    string(attempt.Outcome),
		Error:      attempt.Error,
		At:         formatTime(attempt.At),
	}
	_, err := s.exec.NamedExecContext(ctx, `
		INSERT INTO health_attempts (run_id, target, number, status_code, outcome, error, at)
		VALUES (:run_id, :target, :number, :status_code, :outcome, :error, :at)`,
		row)
	if err != nil {
		return NewStoreError("CreateHealthAttempt", "health_attempt", runID, err.Error(), err)
	}
	return nil
}

// ListHealthAttempts returns a run's attempts in order.
func (s *SQLiteStore) ListHealthAttempts(ctx context.Context, runID string) ([]health.Attempt, error) {
	var rows []healthAttemptRow
	err := s.exec.SelectContext(ctx, &rows,
		`SELECT * FROM health_attempts WHERE run_id = ? ORDER BY number`, runID)
	if err != nil {
		return nil, NewStoreError("ListHealthAttempts", "health_attempt", runID, err.Error(), err)
	}
	attempts := make([]health.Attempt, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, health.Attempt{
			Target:     row.Target,
			Number:     row.Number,
			StatusCode: row.StatusCode,
			Outcome:    health.Outcome(row.Outcome),
			Error:      row.Error,
			At:         parseTime(row.At),
		})
	}
	return attempts, nil
}

// =============================================================================
// Time Helpers
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
