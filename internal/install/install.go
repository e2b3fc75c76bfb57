// Package install executes environment plans against the package manager
// and keeps the state store in step with what actually happened on disk.
// The ordering rules here are load-bearing: a record only reaches ready
// after the sentinel file durably exists, so a crash at any point leaves
// the environment reconcilable as not ready.
package install

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jmgilman/constructor-manager/internal/plan"
	"github.com/jmgilman/constructor-manager/internal/state"
)

// ErrInstallationFailed means environment creation was exhausted: the joint
// attempt and the fallback base attempt (when one existed) both failed. No
// partial environment is left registered as ready.
var ErrInstallationFailed = errors.New("environment creation failed")

// StepError describes one failed plan step.
type StepError struct {
	Kind   plan.Kind
	Target string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s %s: %v", e.Kind, e.Target, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Outcomes carried by progress events.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Event is one progress notification, published after every executed step.
type Event struct {
	Step       plan.Kind
	Target     string
	Outcome    string
	Diagnostic string
}

// Result is the terminal outcome of executing a plan, emitted as the
// operation's JSON document.
type Result struct {
	Record   *state.Record        `json:"record"`            // final persisted record
	Plugins  []state.PluginResult `json:"plugins,omitempty"` // per-plugin outcomes
	Fallback bool                 `json:"fallback"`          // the fallback branch ran

	// LockDiagnostic reports a post-install lock failure. Locking is
	// best-effort; a failure never fails the update itself.
	LockDiagnostic string `json:"lock_diagnostic,omitempty"`
}

// CondaRunner is the slice of the package-manager client the executor
// drives. Every call is one subprocess invocation with a single outcome.
type CondaRunner interface {
	Create(ctx context.Context, prefix string, specs, channels []string, output io.Writer) error
	Install(ctx context.Context, prefix string, specs, channels []string, output io.Writer) error
	Remove(ctx context.Context, prefix string, output io.Writer) error
}

// LockInstaller materializes an environment from a previously generated
// lockfile. Only restore plans need one.
type LockInstaller interface {
	InstallLockfile(ctx context.Context, prefix, lockfile string, output io.Writer) error
}
