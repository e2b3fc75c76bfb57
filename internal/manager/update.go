package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmgilman/constructor-manager/internal/conda"
	"github.com/jmgilman/constructor-manager/internal/install"
	"github.com/jmgilman/constructor-manager/internal/plan"
	"github.com/jmgilman/constructor-manager/internal/prefix"
	"github.com/jmgilman/constructor-manager/internal/resolver"
	"github.com/jmgilman/constructor-manager/internal/state"
)

// UpdateOptions control one update run.
type UpdateOptions struct {
	// Plugins is the explicit plugin list. Nil means discover plugins: the
	// catalog crossed with the packages installed in the newest finished
	// environment. An empty non-nil list installs none.
	Plugins []string

	// Channels to resolve and install from. Empty means the default channel.
	Channels []string

	// IncludeDev counts pre-release and dev versions as update targets when
	// the spec leaves the version open.
	IncludeDev bool

	// OnProgress receives an event after every step. Optional.
	OnProgress func(install.Event)
}

// Update installs the spec's version of the application into its own
// environment. A spec without a version targets the latest published one.
// Updating an environment that is already ready re-verifies its sentinel
// and returns without touching the package manager.
func (m *Manager) Update(ctx context.Context, spec conda.VersionSpec, opts UpdateOptions) (*install.Result, error) {
	channels := m.channelsOrDefault(opts.Channels)

	spec, err := m.pinTarget(ctx, spec, channels, opts.IncludeDev)
	if err != nil {
		return nil, err
	}

	key := spec.Key()
	if err := m.busy.acquire(key); err != nil {
		return nil, err
	}
	defer m.busy.release(key)

	if _, err := m.reconcile(ctx, spec.Name); err != nil {
		return nil, err
	}
	if result, ok, err := m.readyResult(ctx, spec); err != nil {
		return nil, err
	} else if ok {
		return result, nil
	}

	plugins := opts.Plugins
	if plugins == nil {
		plugins = m.discoverPlugins(ctx, spec.Name)
	}

	log, err := m.openLog("update")
	if err != nil {
		return nil, err
	}
	defer func() { _ = log.Close() }()

	result, err := m.execute(ctx, plan.Build(spec, plugins, channels), log, opts.OnProgress)
	if err != nil {
		return nil, err
	}

	// Snapshot the new environment for restore. Failure is reported in the
	// result, never as an update failure.
	if _, lockErr := m.lockEnvironment(ctx, spec, channels, log); lockErr != nil {
		m.logger.Warn("could not lock the new environment",
			"environment", spec.EnvName(), "error", lockErr)
		result.LockDiagnostic = lockErr.Error()
	}
	return result, nil
}

// pinTarget pins an unversioned spec to the latest published version.
func (m *Manager) pinTarget(ctx context.Context, spec conda.VersionSpec, channels []string, includeDev bool) (conda.VersionSpec, error) {
	if spec.Version != "" {
		return spec, nil
	}

	// Nothing installed counts as running nothing; any published version
	// is newer.
	current := "0"
	if env, err := m.newestInstalled(spec.Name); err == nil {
		current = env.Version.String()
	}

	res, err := m.versions.Resolve(ctx, resolver.Query{
		Package:    spec.Name,
		Current:    current,
		Build:      spec.Build,
		Channels:   channels,
		IncludeDev: includeDev,
	})
	if err != nil {
		return spec, err
	}
	if res.LatestVersion == "" {
		return spec, fmt.Errorf("no published versions of %s", spec.Name)
	}
	return spec.WithVersion(res.LatestVersion), nil
}

// readyResult implements idempotent updates: a finished record whose
// sentinel still exists yields a result without any package-manager call.
func (m *Manager) readyResult(ctx context.Context, spec conda.VersionSpec) (*install.Result, bool, error) {
	rec, err := m.store.Get(ctx, spec.Key())
	if errors.Is(err, state.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load record: %w", err)
	}
	if !rec.Status.Installed() || !prefix.HasSentinel(rec.Path, spec.Name) {
		return nil, false, nil
	}
	return &install.Result{Record: rec, Plugins: rec.Plugins}, true, nil
}

// discoverPlugins crosses the plugin catalog with the packages installed in
// the newest finished environment, so user-added plugins survive upgrades.
// Any failure degrades to zero plugins; discovery never blocks an update.
func (m *Manager) discoverPlugins(ctx context.Context, pkg string) []string {
	if m.pluginsURL == "" {
		return nil
	}
	names, err := m.catalog.PluginNames(ctx, m.pluginsURL)
	if err != nil {
		m.logger.Warn("plugin catalog unavailable, updating without plugins", "error", err)
		return nil
	}

	env, err := m.newestInstalled(pkg)
	if err != nil {
		return nil
	}
	packages, err := m.conda.ListPackages(ctx, env.Prefix)
	if err != nil {
		m.logger.Warn("could not list the running environment, updating without plugins",
			"prefix", env.Prefix, "error", err)
		return nil
	}

	known := make(map[string]struct{}, len(names))
	for _, name := range names {
		known[name] = struct{}{}
	}
	var plugins []string
	for _, p := range packages {
		if _, ok := known[conda.NormalizedName(p.Name)]; ok {
			plugins = append(plugins, p.Name)
		}
	}
	return plugins
}
