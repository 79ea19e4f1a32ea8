// Package store persists batch simulation runs: their status, configuration
// and, on success, the aggregated result.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/neuron-sim/neuron-sim/sim"
)

// Status is the lifecycle state of a stored simulation.
type Status string

const (
	StatusPending Status = "pending"
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ParseStatus validates a status filter. The empty string is accepted and
// means no filter.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case "", StatusPending, StatusStarted, StatusSuccess, StatusFailure:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q: want pending, started, success or failure", s)
	}
}

// ErrNotFound is returned for unknown simulation ids.
var ErrNotFound = errors.New("simulation not found")

// Simulation is one stored run.
type Simulation struct {
	ID        string          `json:"id"`
	ModelRef  string          `json:"model_ref"`
	Status    Status          `json:"status"`
	Config    json.RawMessage `json:"config"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS simulations (
	id         TEXT PRIMARY KEY,
	model_ref  TEXT NOT NULL,
	status     TEXT NOT NULL,
	config     TEXT NOT NULL,
	result     TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_simulations_status ON simulations(status);
`

// SQLiteStore implements result persistence on SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create records a new pending simulation.
func (s *SQLiteStore) Create(ctx context.Context, id, modelRef string, cfg *sim.SimulationConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	ts := s.timestamp()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO simulations (id, model_ref, status, config, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, modelRef, string(StatusPending), string(raw), ts, ts)
	if err != nil {
		return fmt.Errorf("inserting simulation %s: %w", id, err)
	}
	return nil
}

// SetStatus moves a simulation to status. errMsg is kept for failures.
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status Status, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE simulations SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("updating simulation %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

// SaveResult stores the aggregated result and marks the run successful.
func (s *SQLiteStore) SaveResult(ctx context.Context, id string, result sim.BatchResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE simulations SET status = ?, result = ?, error = '', updated_at = ? WHERE id = ?`,
		string(StatusSuccess), string(raw), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("saving result of %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

// Get loads one simulation.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Simulation, error) {
	var (
		sm                   Simulation
		status, config       string
		result               sql.NullString
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, model_ref, status, config, result, error, created_at, updated_at FROM simulations WHERE id = ?`, id).
		Scan(&sm.ID, &sm.ModelRef, &status, &config, &result, &sm.Error, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading simulation %s: %w", id, err)
	}
	sm.Status = Status(status)
	sm.Config = json.RawMessage(config)
	if result.Valid {
		sm.Result = json.RawMessage(result.String)
	}
	if sm.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at of %s: %w", id, err)
	}
	if sm.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at of %s: %w", id, err)
	}
	return &sm, nil
}

// List returns simulations with the given status, newest first. An empty
// status lists all.
func (s *SQLiteStore) List(ctx context.Context, status Status) ([]Simulation, error) {
	query := `SELECT id, model_ref, status, error, created_at, updated_at FROM simulations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing simulations: %w", err)
	}
	defer rows.Close()

	var out []Simulation
	for rows.Next() {
		var sm Simulation
		var st, createdAt, updatedAt string
		if err := rows.Scan(&sm.ID, &sm.ModelRef, &st, &sm.Error, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning simulation: %w", err)
		}
		sm.Status = Status(st)
		sm.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		sm.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
