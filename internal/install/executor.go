package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jmgilman/constructor-manager/internal/plan"
	"github.com/jmgilman/constructor-manager/internal/prefix"
	"github.com/jmgilman/constructor-manager/internal/state"
)

// Options configures an Executor.
type Options struct {
	Conda  CondaRunner
	Locks  LockInstaller // only needed for lockfile plans
	Layout *prefix.Layout
	Store  state.Store
	Output io.Writer // subprocess output destination, typically the operation log
	Logger *slog.Logger
}

// Executor runs plans. It is the single writer of environment records:
// every status a record passes through was durably earned by a completed
// step before it was written.
type Executor struct {
	conda  CondaRunner
	locks  LockInstaller
	layout *prefix.Layout
	store  state.Store
	output io.Writer
	logger *slog.Logger
}

// NewExecutor creates an executor from options.
func NewExecutor(opts Options) *Executor {
	output := opts.Output
	if output == nil {
		output = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		conda:  opts.Conda,
		locks:  opts.Locks,
		layout: opts.Layout,
		store:  opts.Store,
		output: output,
		logger: logger,
	}
}

// Execute runs the plan's steps strictly in order. onProgress, when not
// nil, is called with an event after every step; delivery is buffered and
// never blocks execution. Cancellation is honored at step boundaries: a
// canceled run marks the record failed and tears the environment down.
func (e *Executor) Execute(ctx context.Context, p plan.Plan, onProgress func(Event)) (*Result, error) {
	n := newNotifier(onProgress)
	defer n.close()

	if len(p.Steps) > 0 && p.Steps[0].Kind == plan.KindRemoveEnv {
		return e.executeRemoval(ctx, p, n)
	}
	return e.executeInstall(ctx, p, n)
}

func (e *Executor) executeInstall(ctx context.Context, p plan.Plan, n *notifier) (*Result, error) {
	rec := &state.Record{
		Key:     p.Key,
		Name:    p.Name,
		Package: p.Package,
		Version: p.Version,
		Build:   p.Build,
		Path:    e.layout.EnvPrefix(p.Name),
		Status:  state.StatusPlanning,
	}
	// A rebuild of a known key keeps the recorded lockfile path; the
	// lockfile itself stays on disk and a failed run must not orphan it.
	if prev, err := e.store.Get(ctx, p.Key); err == nil {
		rec.LockfilePath = prev.LockfilePath
	}
	if err := e.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("record plan: %w", err)
	}

	result := &Result{Record: rec}
	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			e.abort(ctx, rec)
			return nil, fmt.Errorf("canceled before %s: %w", step.Kind, err)
		}
		if err := e.runStep(ctx, p, rec, step, result, n); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (e *Executor) runStep(ctx context.Context, p plan.Plan, rec *state.Record, step plan.Step, result *Result, n *notifier) error {
	switch step.Kind {
	case plan.KindCreateEnv:
		return e.createEnv(ctx, p, rec, step, result, n)
	case plan.KindInstallPackage:
		return e.installLockfile(ctx, rec, step, n)
	case plan.KindWriteSentinel:
		return e.finalize(ctx, p, rec, step, n)
	default:
		return &StepError{Kind: step.Kind, Target: step.Target, Err: errors.New("unexpected step in installation plan")}
	}
}

// createEnv runs the environment creation step. A joint creation carrying
// plugins gets one retry: its fallback branch, which creates the bare
// environment and installs plugins one at a time.
func (e *Executor) createEnv(ctx context.Context, p plan.Plan, rec *state.Record, step plan.Step, result *Result, n *notifier) error {
	if err := e.transition(ctx, rec, state.StatusCreating); err != nil {
		return err
	}

	err := e.conda.Create(ctx, rec.Path, step.Specs, step.Channels, e.output)
	n.publish(event(step, err))
	if err == nil {
		if len(p.Plugins) == 0 {
			return nil
		}
		rec.Plugins = jointResults(p.Plugins)
		result.Plugins = rec.Plugins
		return e.transition(ctx, rec, state.StatusPluginsJoint)
	}

	if ctx.Err() != nil {
		e.abort(ctx, rec)
		return fmt.Errorf("canceled during %s: %w", step.Kind, ctx.Err())
	}
	stepErr := &StepError{Kind: step.Kind, Target: step.Target, Err: err}
	if len(step.Fallback) == 0 {
		e.fail(ctx, rec)
		return fmt.Errorf("%w: %v", ErrInstallationFailed, stepErr)
	}

	e.logger.Warn("joint creation failed, retrying with individual plugin installs",
		"environment", rec.Name, "error", err)
	result.Fallback = true
	return e.runFallback(ctx, rec, step.Fallback, result, n)
}

func (e *Executor) runFallback(ctx context.Context, rec *state.Record, steps []plan.Step, result *Result, n *notifier) error {
	base, plugins := steps[0], steps[1:]

	err := e.conda.Create(ctx, rec.Path, base.Specs, base.Channels, e.output)
	n.publish(event(base, err))
	if err != nil {
		if ctx.Err() != nil {
			e.abort(ctx, rec)
			return fmt.Errorf("canceled during %s: %w", base.Kind, ctx.Err())
		}
		e.fail(ctx, rec)
		return fmt.Errorf("%w: %v", ErrInstallationFailed,
			&StepError{Kind: base.Kind, Target: base.Target, Err: err})
	}

	if err := e.transition(ctx, rec, state.StatusPluginsIndividual); err != nil {
		return err
	}

	// One plugin failing is recorded and skipped; the environment stays on
	// track as long as the base application is in.
	results := make([]state.PluginResult, 0, len(plugins))
	for _, ps := range plugins {
		if ctx.Err() != nil {
			e.abort(ctx, rec)
			return fmt.Errorf("canceled before %s: %w", ps.Kind, ctx.Err())
		}
		ierr := e.conda.Install(ctx, rec.Path, ps.Specs, ps.Channels, e.output)
		n.publish(event(ps, ierr))
		pr := state.PluginResult{Name: ps.Target, Outcome: state.PluginOK}
		if ierr != nil {
			if ctx.Err() != nil {
				e.abort(ctx, rec)
				return fmt.Errorf("canceled during %s: %w", ps.Kind, ctx.Err())
			}
			pr.Outcome = state.PluginFailed
			pr.Diagnostic = ierr.Error()
			e.logger.Warn("plugin install failed", "plugin", ps.Target, "error", ierr)
		}
		results = append(results, pr)
	}

	rec.Plugins = results
	result.Plugins = results
	if err := e.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("record plugin results: %w", err)
	}
	return nil
}

func (e *Executor) installLockfile(ctx context.Context, rec *state.Record, step plan.Step, n *notifier) error {
	if e.locks == nil {
		e.fail(ctx, rec)
		return &StepError{Kind: step.Kind, Target: step.Target, Err: errors.New("no lockfile installer configured")}
	}
	err := e.locks.InstallLockfile(ctx, rec.Path, step.Lockfile, e.output)
	n.publish(event(step, err))
	if err != nil {
		if ctx.Err() != nil {
			e.abort(ctx, rec)
			return fmt.Errorf("canceled during %s: %w", step.Kind, ctx.Err())
		}
		e.fail(ctx, rec)
		return fmt.Errorf("%w: %v", ErrInstallationFailed,
			&StepError{Kind: step.Kind, Target: step.Target, Err: err})
	}
	rec.LockfilePath = step.Lockfile
	return nil
}

// finalize verifies the environment and writes the sentinel. The sentinel
// is the last durable act before the record goes ready; a crash in between
// is repaired forward by reconciliation, never backward into half-ready.
func (e *Executor) finalize(ctx context.Context, p plan.Plan, rec *state.Record, step plan.Step, n *notifier) error {
	if err := e.transition(ctx, rec, state.StatusVerifying); err != nil {
		return err
	}

	err := e.verify(p, rec.Path)
	if err == nil {
		err = prefix.WriteSentinel(rec.Path, p.Package)
	}
	n.publish(event(step, err))
	if err != nil {
		e.fail(ctx, rec)
		return &StepError{Kind: step.Kind, Target: step.Target, Err: err}
	}
	return e.transition(ctx, rec, state.StatusReady)
}

// verify re-checks the environment before the sentinel: the prefix exists
// and conda-meta records the application at the target version.
func (e *Executor) verify(p plan.Plan, envPrefix string) error {
	if _, err := os.Stat(envPrefix); err != nil {
		return fmt.Errorf("environment prefix: %w", err)
	}
	if !prefix.HasPackageRecord(envPrefix, p.Package, p.Version) {
		return fmt.Errorf("%s %s is not recorded in the environment", p.Package, p.Version)
	}
	return nil
}

func (e *Executor) executeRemoval(ctx context.Context, p plan.Plan, n *notifier) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := e.store.Get(ctx, p.Key)
	if errors.Is(err, state.ErrNotFound) {
		rec = &state.Record{Key: p.Key, Name: p.Name, Package: p.Package, Version: p.Version, Build: p.Build}
	} else if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if rec.Path == "" {
		rec.Path = e.layout.EnvPrefix(p.Name)
	}

	step := p.Steps[0]

	// Sentinel goes first so there is no moment where a half-removed
	// environment still looks ready.
	if err := prefix.RemoveSentinel(rec.Path, p.Package); err != nil {
		e.fail(ctx, rec)
		return nil, &StepError{Kind: step.Kind, Target: step.Target, Err: err}
	}

	if _, err := os.Stat(rec.Path); err == nil {
		removeErr := e.conda.Remove(ctx, rec.Path, e.output)
		n.publish(event(step, removeErr))
		if removeErr != nil {
			e.logger.Warn("package manager removal failed, quarantining instead",
				"environment", rec.Name, "error", removeErr)
		}
		if _, err := os.Stat(rec.Path); err == nil {
			if _, qerr := prefix.Quarantine(rec.Path); qerr != nil {
				e.fail(ctx, rec)
				return nil, fmt.Errorf("environment still present after removal: %w", qerr)
			}
		}
	} else {
		n.publish(event(step, nil))
	}

	if err := e.transition(ctx, rec, state.StatusRemoved); err != nil {
		return nil, err
	}
	return &Result{Record: rec}, nil
}

func (e *Executor) transition(ctx context.Context, rec *state.Record, status state.Status) error {
	rec.Status = status
	if err := e.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("record %s: %w", status, err)
	}
	return nil
}

// fail marks the record failed. It uses a detached context so the write
// survives the cancellation that may have caused the failure.
func (e *Executor) fail(ctx context.Context, rec *state.Record) {
	rec.Status = state.StatusFailed
	if err := e.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Error("could not record failure", "key", rec.Key, "error", err)
	}
}

// abort handles a canceled run: failed record plus best-effort teardown of
// whatever was created.
func (e *Executor) abort(ctx context.Context, rec *state.Record) {
	e.fail(ctx, rec)
	if _, err := os.Stat(rec.Path); err != nil {
		return
	}
	base := context.WithoutCancel(ctx)
	_ = e.conda.Remove(base, rec.Path, e.output) //nolint:errcheck // best-effort teardown
	if _, err := os.Stat(rec.Path); err == nil {
		if _, qerr := prefix.Quarantine(rec.Path); qerr != nil {
			e.logger.Warn("could not quarantine half-made environment", "path", rec.Path, "error", qerr)
		}
	}
}

func event(step plan.Step, err error) Event {
	ev := Event{Step: step.Kind, Target: step.Target, Outcome: OutcomeOK}
	if err != nil {
		ev.Outcome = OutcomeFailed
		ev.Diagnostic = err.Error()
	}
	return ev
}

func jointResults(plugins []string) []state.PluginResult {
	out := make([]state.PluginResult, 0, len(plugins))
	for _, name := range plugins {
		out = append(out, state.PluginResult{Name: name, Outcome: state.PluginOK})
	}
	return out
}
