package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database. WAL mode keeps
// registration upserts from blocking concurrent audit reads.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at path and runs
// migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// SQLite handles a single writer; a small pool suffices.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runners (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			mac_address TEXT,
			machine_type TEXT,
			last_seen_at TIMESTAMP NOT NULL,
			available_models TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS request_log (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			runner_id TEXT NOT NULL DEFAULT '',
			request TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			status_code INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_log_model ON request_log(model, created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// UpsertRunner implements Store.
func (s *SQLiteStore) UpsertRunner(ctx context.Context, runner PersistedRunner) error {
	models, err := json.Marshal(runner.AvailableModels)
	if err != nil {
		return fmt.Errorf("store: encode models: %w", err)
	}
	lastSeen := runner.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runners (id, name, mac_address, machine_type, last_seen_at, available_models)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			mac_address = CASE WHEN excluded.mac_address != '' THEN excluded.mac_address ELSE runners.mac_address END,
			machine_type = excluded.machine_type,
			last_seen_at = excluded.last_seen_at,
			available_models = excluded.available_models`,
		runner.ID, runner.Name, runner.MACAddress, runner.MachineType, lastSeen, string(models))
	if err != nil {
		return fmt.Errorf("store: upsert runner %s: %w", runner.ID, err)
	}
	return nil
}

// GetRunner implements Store.
func (s *SQLiteStore) GetRunner(ctx context.Context, id string) (PersistedRunner, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(mac_address, ''), COALESCE(machine_type, ''), last_seen_at, available_models
		FROM runners WHERE id = ?`, id)
	runner, err := scanRunner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PersistedRunner{}, ErrNotFound
	}
	return runner, err
}

// ListRunners implements Store.
func (s *SQLiteStore) ListRunners(ctx context.Context) ([]PersistedRunner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(mac_address, ''), COALESCE(machine_type, ''), last_seen_at, available_models
		FROM runners ORDER BY last_seen_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list runners: %w", err)
	}
	defer rows.Close()
	var runners []PersistedRunner
	for rows.Next() {
		runner, err := scanRunner(rows)
		if err != nil {
			return nil, err
		}
		runners = append(runners, runner)
	}
	return runners, rows.Err()
}

// RunnerMAC implements Store and wake.OfflineDirectory.
func (s *SQLiteStore) RunnerMAC(ctx context.Context, id string) (string, error) {
	runner, err := s.GetRunner(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return runner.MACAddress, nil
}

// RecordRequest implements Store.
func (s *SQLiteStore) RecordRequest(ctx context.Context, record RequestRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_log (id, model, runner_id, request, response, status_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Model, record.RunnerID, record.Request, record.Response, record.StatusCode, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: record request: %w", err)
	}
	return nil
}

// ListRequests implements Store.
func (s *SQLiteStore) ListRequests(ctx context.Context, model string, limit int) ([]RequestRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, model, runner_id, request, response, status_code, created_at
		FROM request_log`
	args := []any{}
	if model != "" {
		query += ` WHERE model = ?`
		args = append(args, model)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list requests: %w", err)
	}
	defer rows.Close()
	var records []RequestRecord
	for rows.Next() {
		var rec RequestRecord
		if err := rows.Scan(&rec.ID, &rec.Model, &rec.RunnerID, &rec.Request, &rec.Response, &rec.StatusCode, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRunner(row scanner) (PersistedRunner, error) {
	var runner PersistedRunner
	var models string
	if err := row.Scan(&runner.ID, &runner.Name, &runner.MACAddress, &runner.MachineType, &runner.LastSeenAt, &models); err != nil {
		return PersistedRunner{}, err
	}
	if err := json.Unmarshal([]byte(models), &runner.AvailableModels); err != nil {
		return PersistedRunner{}, fmt.Errorf("store: decode models for %s: %w", runner.ID, err)
	}
	return runner, nil
}
