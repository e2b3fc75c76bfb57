package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmgilman/constructor-manager/internal/conda"
	"github.com/jmgilman/constructor-manager/internal/install"
	"github.com/jmgilman/constructor-manager/internal/plan"
	"github.com/jmgilman/constructor-manager/internal/state"
)

// RestoreOptions control one restore run.
type RestoreOptions struct {
	// Channels to install from. Empty means the default channel.
	Channels []string

	// OnProgress receives an event after every step. Optional.
	OnProgress func(install.Event)
}

// Restore removes the environment of spec and re-creates it: from its
// recorded lockfile when one exists, otherwise from scratch. The existing
// sentinel is removed before recreation begins, so at no observable point
// do both the old and the new content look ready.
func (m *Manager) Restore(ctx context.Context, spec conda.VersionSpec, opts RestoreOptions) (*install.Result, error) {
	spec, err := m.pinCurrent(spec)
	if err != nil {
		return nil, err
	}
	channels := m.channelsOrDefault(opts.Channels)

	if err := m.busy.acquire(spec.Key()); err != nil {
		return nil, err
	}
	defer m.busy.release(spec.Key())

	if _, err := m.reconcile(ctx, spec.Name); err != nil {
		return nil, err
	}

	// Look up the lockfile before the removal plan rewrites the record.
	lockfile := ""
	if rec, err := m.store.Get(ctx, spec.Key()); err == nil && rec.LockfilePath != "" {
		if fileExists(rec.LockfilePath) {
			lockfile = rec.LockfilePath
		}
	}

	log, err := m.openLog("restore")
	if err != nil {
		return nil, err
	}
	defer func() { _ = log.Close() }()

	if _, err := m.execute(ctx, plan.BuildRemoval(spec), log, opts.OnProgress); err != nil {
		return nil, err
	}

	p := plan.Build(spec, nil, channels)
	if lockfile != "" {
		p = plan.BuildFromLockfile(spec, lockfile, channels)
	}
	return m.execute(ctx, p, log, opts.OnProgress)
}

// Remove deletes one environment: sentinel first, package-manager removal,
// quarantine-and-sweep if the directory survives.
func (m *Manager) Remove(ctx context.Context, spec conda.VersionSpec, onProgress func(install.Event)) (*install.Result, error) {
	spec, err := m.pinCurrent(spec)
	if err != nil {
		return nil, err
	}

	if err := m.busy.acquire(spec.Key()); err != nil {
		return nil, err
	}
	defer m.busy.release(spec.Key())

	envPrefix := m.layout.EnvPrefix(spec.EnvName())
	if _, err := os.Stat(envPrefix); err != nil {
		if _, recErr := m.store.Get(ctx, spec.Key()); errors.Is(recErr, state.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrEnvironmentNotFound, spec.EnvName())
		}
	}

	log, err := m.openLog("remove")
	if err != nil {
		return nil, err
	}
	defer func() { _ = log.Close() }()

	return m.execute(ctx, plan.BuildRemoval(spec), log, onProgress)
}

// CleanReport lists what a clean pass deleted.
type CleanReport struct {
	Environments []string `json:"environments,omitempty"`
	Artifacts    []string `json:"artifacts,omitempty"`
}

// Clean deletes broken environments of pkg (conda-meta present, sentinel
// absent) and stale temporary lock artifacts.
func (m *Manager) Clean(ctx context.Context, pkg string) (*CleanReport, error) {
	if _, err := m.reconcile(ctx, pkg); err != nil {
		return nil, err
	}
	broken, err := m.layout.BrokenEnvironments(pkg)
	if err != nil {
		return nil, err
	}

	log, err := m.openLog("clean")
	if err != nil {
		return nil, err
	}
	defer func() { _ = log.Close() }()

	records, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	report := &CleanReport{}
	for _, envPrefix := range broken {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		// An environment being built right now has no sentinel yet and
		// would look broken; skip anything whose key is in flight.
		if m.busy.heldFor(filepath.Base(envPrefix)) {
			continue
		}
		if err := m.conda.Remove(ctx, envPrefix, log); err != nil {
			m.logger.Warn("package manager removal failed, deleting directly",
				"prefix", envPrefix, "error", err)
		}
		if _, err := os.Stat(envPrefix); err == nil {
			if err := os.RemoveAll(envPrefix); err != nil {
				return report, fmt.Errorf("delete %s: %w", envPrefix, err)
			}
		}
		// The swept environment's record would otherwise keep reporting a
		// lifecycle for a directory that no longer exists.
		for _, rec := range records {
			if rec.Path != envPrefix {
				continue
			}
			if err := m.store.Delete(ctx, rec.Key); err != nil && !errors.Is(err, state.ErrNotFound) {
				return report, fmt.Errorf("delete record %s: %w", rec.Key, err)
			}
		}
		report.Environments = append(report.Environments, envPrefix)
	}

	artifacts, err := staleLockArtifacts(m.layout.StateDir())
	if err != nil {
		return report, err
	}
	for _, path := range artifacts {
		if err := os.Remove(path); err != nil {
			m.logger.Warn("could not delete lock artifact", "path", path, "error", err)
			continue
		}
		report.Artifacts = append(report.Artifacts, path)
	}
	return report, nil
}

// staleLockArtifacts lists leftovers of interrupted lock runs in the state
// directory: rendered lock inputs and half-written lockfiles.
func staleLockArtifacts(stateDir string) ([]string, error) {
	entries, err := os.ReadDir(stateDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan state directory: %w", err)
	}
	var stale []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		input := strings.HasPrefix(name, "environment-") && strings.HasSuffix(name, ".yml")
		if input || strings.HasSuffix(name, ".lock.tmp") {
			stale = append(stale, filepath.Join(stateDir, name))
		}
	}
	return stale, nil
}
