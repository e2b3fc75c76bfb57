// Package state provides persistent storage for environment records and
// their reconciliation against on-disk sentinels.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for state operations.
var (
	ErrNotFound           = errors.New("record not found")
	ErrLockTimeout        = errors.New("failed to acquire state lock")
	ErrIncompatibleSchema = errors.New("record schema not supported")
)

// Status represents the environment lifecycle state.
type Status string

const (
	StatusPlanning          Status = "planning"
	StatusCreating          Status = "creating"
	StatusPluginsJoint      Status = "plugins-joint"
	StatusPluginsIndividual Status = "plugins-individual"
	StatusVerifying         Status = "verifying"
	StatusReady             Status = "ready"
	StatusLaunched          Status = "launched"
	StatusFailed            Status = "failed"
	StatusRemoved           Status = "removed"
)

// Installed reports whether the status marks a finished environment.
func (s Status) Installed() bool {
	return s == StatusReady || s == StatusLaunched
}

// Plugin outcomes recorded per plugin inside a record.
const (
	PluginOK      = "ok"
	PluginFailed  = "failed"
	PluginSkipped = "skipped"
)

// PluginResult is the outcome of installing one plugin.
type PluginResult struct {
	Name       string `json:"name"`
	Outcome    string `json:"outcome"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Record is the persisted state of one environment, keyed by
// "<package>-<version>[-<build>]". Only the installation executor mutates
// records, and only after the corresponding step durably completed.
type Record struct {
	SchemaVersion string         `json:"schema_version"`
	Key           string         `json:"key"`
	Name          string         `json:"name"` // environment name, "<package>-<version>"
	Package       string         `json:"package"`
	Version       string         `json:"version"`
	Build         string         `json:"build,omitempty"`
	Path          string         `json:"path"` // environment prefix
	Status        Status         `json:"status"`
	Plugins       []PluginResult `json:"plugins,omitempty"`
	LockfilePath  string         `json:"lockfile_path,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// CorruptionError reports a record/sentinel disagreement reconciliation
// cannot safely resolve; the conservative resolution (failed) is applied.
type CorruptionError struct {
	Key    string
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("state corruption for %s: %s", e.Key, e.Detail)
}

// Store provides persistent storage for environment records.
type Store interface {
	// Get retrieves a record by key. Returns ErrNotFound if missing.
	Get(ctx context.Context, key string) (*Record, error)

	// Put creates or replaces a record, stamping schema and timestamps.
	Put(ctx context.Context, record *Record) error

	// List returns all records, sorted by key.
	List(ctx context.Context) ([]Record, error)

	// Delete removes a record by key. Returns ErrNotFound if missing.
	Delete(ctx context.Context, key string) error
}
