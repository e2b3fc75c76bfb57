package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/jmgilman/constructor-manager/internal/conda"
	"github.com/jmgilman/constructor-manager/internal/condalock"
	"github.com/jmgilman/constructor-manager/internal/logging"
	"github.com/jmgilman/constructor-manager/internal/prefix"
	"github.com/jmgilman/constructor-manager/internal/state"
)

// Lock snapshots the environment of spec with the lock tool and records the
// lockfile path. Relocking is skipped when the installed package set is
// unchanged since the last lock.
func (m *Manager) Lock(ctx context.Context, spec conda.VersionSpec, channels []string) (string, error) {
	spec, err := m.pinCurrent(spec)
	if err != nil {
		return "", err
	}
	channels = m.channelsOrDefault(channels)

	if err := m.busy.acquire(spec.Key()); err != nil {
		return "", err
	}
	defer m.busy.release(spec.Key())

	if _, err := m.reconcile(ctx, spec.Name); err != nil {
		return "", err
	}
	if !prefix.HasSentinel(m.layout.EnvPrefix(spec.EnvName()), spec.Name) {
		return "", fmt.Errorf("%w: %s is not ready", ErrEnvironmentNotFound, spec.EnvName())
	}

	log, err := m.openLog("lock")
	if err != nil {
		return "", err
	}
	defer func() { _ = log.Close() }()

	return m.lockEnvironment(ctx, spec, channels, log)
}

// lockEnvironment renders the environment's package list and generates its
// lockfile, attaching the path to the matching record. Returns the path of
// the still-current lockfile when the package set has not changed.
func (m *Manager) lockEnvironment(ctx context.Context, spec conda.VersionSpec, channels []string, log *logging.Log) (string, error) {
	envName := spec.EnvName()
	envPrefix := m.layout.EnvPrefix(envName)

	packages, err := m.conda.ListPackages(ctx, envPrefix)
	if err != nil {
		return "", err
	}
	pins := packagePins(packages)

	lockfile := m.layout.LockfilePath(envName)
	listfile := m.layout.ListfilePath(envName)
	if unchangedSinceLastLock(listfile, pins) && fileExists(lockfile) {
		m.logger.Debug("package set unchanged since last lock", "environment", envName)
		return lockfile, nil
	}

	info, err := m.conda.Info(ctx)
	if err != nil {
		return "", err
	}

	env := condalock.EnvironmentFile{
		Dependencies: pins,
		Channels:     channels,
	}
	if info.Platform != "" {
		env.Platforms = []string{info.Platform}
	}
	if err := m.locks.Generate(ctx, env, lockfile, log); err != nil {
		return "", err
	}
	if err := writeListSnapshot(listfile, pins); err != nil {
		return "", err
	}
	if err := m.recordLockfile(ctx, spec, lockfile); err != nil {
		return "", err
	}
	return lockfile, nil
}

// recordLockfile attaches the lockfile path to the spec's record. A missing
// record is not an error; the lockfile stands on its own.
func (m *Manager) recordLockfile(ctx context.Context, spec conda.VersionSpec, lockfile string) error {
	rec, err := m.store.Get(ctx, spec.Key())
	if errors.Is(err, state.ErrNotFound) {
		m.logger.Debug("no record to attach the lockfile to", "key", spec.Key())
		return nil
	}
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	rec.LockfilePath = lockfile
	if err := m.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("record lockfile: %w", err)
	}
	return nil
}

// packagePins renders installed packages as exact name=version pins, sorted
// so snapshots compare independent of listing order.
func packagePins(packages []conda.Package) []string {
	pins := make([]string, 0, len(packages))
	for _, p := range packages {
		pins = append(pins, p.Name+"="+p.Version)
	}
	sort.Strings(pins)
	return pins
}

// listSnapshot is the package list recorded at lock time, used to skip
// relocking an unchanged environment.
type listSnapshot struct {
	Packages []string `yaml:"packages"`
}

func unchangedSinceLastLock(listfile string, pins []string) bool {
	data, err := os.ReadFile(listfile)
	if err != nil {
		return false
	}
	var snap listSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return false
	}
	return slices.Equal(snap.Packages, pins)
}

func writeListSnapshot(listfile string, pins []string) error {
	data, err := yaml.Marshal(listSnapshot{Packages: pins})
	if err != nil {
		return fmt.Errorf("render package list: %w", err)
	}
	if err := os.WriteFile(listfile, data, 0o644); err != nil {
		return fmt.Errorf("write package list: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
