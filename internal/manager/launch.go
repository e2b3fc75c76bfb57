package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/jmgilman/constructor-manager/internal/conda"
	"github.com/jmgilman/constructor-manager/internal/install"
	"github.com/jmgilman/constructor-manager/internal/prefix"
	"github.com/jmgilman/constructor-manager/internal/resolver"
	"github.com/jmgilman/constructor-manager/internal/state"
)

// Launch starts the application from its ready environment, detached, and
// marks the record launched. A spec without a version launches the newest
// finished environment.
func (m *Manager) Launch(ctx context.Context, spec conda.VersionSpec) (*state.Record, error) {
	spec, err := m.pinCurrent(spec)
	if err != nil {
		return nil, err
	}

	envPrefix := m.layout.EnvPrefix(spec.EnvName())
	if !prefix.HasSentinel(envPrefix, spec.Name) {
		return nil, fmt.Errorf("%w: %s is not ready", ErrEnvironmentNotFound, spec.EnvName())
	}

	if err := m.launcher.Launch(ctx, envPrefix, spec.Name); err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.EnvName(), err)
	}
	m.logger.Info("launched", "environment", spec.EnvName())

	return m.markLaunched(ctx, spec)
}

// CheckUpdatesCleanAndLaunch composes a version check with cleanup and
// launch: when the latest found version is already installed, every other
// environment of the package is removed, strays are swept, and the
// application starts from the target environment.
func (m *Manager) CheckUpdatesCleanAndLaunch(ctx context.Context, q resolver.Query, onProgress func(install.Event)) (*resolver.QueryResult, error) {
	res, err := m.CheckUpdates(ctx, q)
	if err != nil {
		return nil, err
	}
	if !res.Installed {
		return res, nil
	}

	target := conda.VersionSpec{Name: q.Package, Version: res.LatestVersion}
	if err := m.removeOthers(ctx, target, onProgress); err != nil {
		return nil, err
	}
	if _, err := m.Clean(ctx, q.Package); err != nil {
		m.logger.Warn("cleanup before launch failed", "package", q.Package, "error", err)
	}

	if _, err := m.Launch(ctx, target); err != nil {
		return nil, err
	}
	return res, nil
}

// removeOthers removes every recorded environment of target's package other
// than target itself. Individual removal failures are logged and skipped;
// reaching the launch is the priority.
func (m *Manager) removeOthers(ctx context.Context, target conda.VersionSpec, onProgress func(install.Event)) error {
	records, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	for i := range records {
		rec := &records[i]
		if rec.Package != target.Name || rec.Name == target.EnvName() {
			continue
		}
		spec := conda.VersionSpec{Name: rec.Package, Version: rec.Version, Build: rec.Build}
		if _, err := m.Remove(ctx, spec, onProgress); err != nil && !errors.Is(err, ErrEnvironmentNotFound) {
			m.logger.Warn("could not remove prior environment", "environment", rec.Name, "error", err)
			continue
		}
		if err := m.store.Delete(ctx, rec.Key); err != nil && !errors.Is(err, state.ErrNotFound) {
			m.logger.Warn("could not delete record", "key", rec.Key, "error", err)
		}
	}
	return nil
}

func (m *Manager) markLaunched(ctx context.Context, spec conda.VersionSpec) (*state.Record, error) {
	rec, err := m.store.Get(ctx, spec.Key())
	if errors.Is(err, state.ErrNotFound) {
		rec = &state.Record{
			Key:     spec.Key(),
			Name:    spec.EnvName(),
			Package: spec.Name,
			Version: spec.Version,
			Build:   spec.Build,
			Path:    m.layout.EnvPrefix(spec.EnvName()),
		}
	} else if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	rec.Status = state.StatusLaunched
	if err := m.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("record launch: %w", err)
	}
	return rec, nil
}

// BinLauncher starts the application's own executable out of the
// environment's bin directory (Scripts on Windows), detached, so this tool
// can exit while the application keeps running.
type BinLauncher struct{}

// Launch implements the launcher contract. The context is deliberately
// unused: a released process cannot be canceled.
func (BinLauncher) Launch(_ context.Context, envPrefix, pkg string) error {
	binDir := filepath.Join(envPrefix, "bin")
	bin := filepath.Join(binDir, pkg)
	if runtime.GOOS == "windows" {
		binDir = filepath.Join(envPrefix, "Scripts")
		bin = filepath.Join(binDir, pkg+".exe")
	}
	if _, err := os.Stat(bin); err != nil {
		return fmt.Errorf("application binary: %w", err)
	}

	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(),
		"CONDA_PREFIX="+envPrefix,
		"CONDA_DEFAULT_ENV="+filepath.Base(envPrefix),
		"PATH="+binDir+string(os.PathListSeparator)+os.Getenv("PATH"),
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", pkg, err)
	}
	return cmd.Process.Release()
}
