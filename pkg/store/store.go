// Package store is the gateway's audit persistence: the durable table of
// historically-seen runners (used to wake machines that are currently
// offline) and the request/response audit log.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// PersistedRunner is the durable record written on every successful runner
// registration. It outlives the connection.
type PersistedRunner struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MACAddress  string    `json:"mac_address,omitempty"`
	MachineType string    `json:"machine_type,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	// AvailableModels is the runner's last-reported available-model list.
	AvailableModels []string `json:"available_models"`
}

// RequestRecord is one audited request/response pair.
type RequestRecord struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	RunnerID   string    `json:"runner_id,omitempty"`
	Request    string    `json:"request"`
	Response   string    `json:"response"`
	StatusCode int       `json:"status_code"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the contract the gateway core holds against the audit store.
type Store interface {
	// UpsertRunner inserts or refreshes the persisted record for a runner.
	UpsertRunner(ctx context.Context, runner PersistedRunner) error
	// GetRunner returns the persisted record, or ErrNotFound.
	GetRunner(ctx context.Context, id string) (PersistedRunner, error)
	// ListRunners returns all persisted records ordered by last-seen time,
	// newest first.
	ListRunners(ctx context.Context) ([]PersistedRunner, error)
	// RunnerMAC returns the persisted MAC for a runner, or "" when unknown.
	RunnerMAC(ctx context.Context, id string) (string, error)
	// RecordRequest appends an audit row.
	RecordRequest(ctx context.Context, record RequestRecord) error
	// ListRequests returns recent audit rows, newest first, optionally
	// filtered by model.
	ListRequests(ctx context.Context, model string, limit int) ([]RequestRecord, error)
	// Close releases the underlying database.
	Close() error
}
