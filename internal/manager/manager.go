// Package manager is the top-level orchestration facade: it combines the
// version resolver, the installation planner and executor, the lock tool,
// and the state store into the check/update/lock/restore/clean workflows
// exposed to the CLI.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/jmgilman/constructor-manager/internal/conda"
	"github.com/jmgilman/constructor-manager/internal/condalock"
	"github.com/jmgilman/constructor-manager/internal/install"
	"github.com/jmgilman/constructor-manager/internal/logging"
	"github.com/jmgilman/constructor-manager/internal/plan"
	"github.com/jmgilman/constructor-manager/internal/prefix"
	"github.com/jmgilman/constructor-manager/internal/resolver"
	"github.com/jmgilman/constructor-manager/internal/state"
)

// Sentinel errors for orchestration operations.
var (
	ErrConcurrentOperation = errors.New("operation already in progress")
	ErrEnvironmentNotFound = errors.New("environment not found")
)

// envStore is the internal interface for record storage.
type envStore interface {
	Get(ctx context.Context, key string) (*state.Record, error)
	Put(ctx context.Context, record *state.Record) error
	List(ctx context.Context) ([]state.Record, error)
	Delete(ctx context.Context, key string) error
}

// condaClient is the internal interface for package-manager operations.
type condaClient interface {
	Create(ctx context.Context, prefix string, specs, channels []string, output io.Writer) error
	Install(ctx context.Context, prefix string, specs, channels []string, output io.Writer) error
	Remove(ctx context.Context, prefix string, output io.Writer) error
	ListPackages(ctx context.Context, prefix string) ([]conda.Package, error)
	Info(ctx context.Context) (*conda.Info, error)
}

// lockClient is the internal interface for lockfile generation and installs.
type lockClient interface {
	Generate(ctx context.Context, env condalock.EnvironmentFile, lockfile string, output io.Writer) error
	InstallLockfile(ctx context.Context, prefix, lockfile string, output io.Writer) error
}

// versionResolver is the internal interface for read-only version queries.
type versionResolver interface {
	Resolve(ctx context.Context, q resolver.Query) (*resolver.QueryResult, error)
}

// pluginCatalog is the internal interface for plugin catalog fetches.
type pluginCatalog interface {
	PluginNames(ctx context.Context, url string) ([]string, error)
}

// appLauncher is the internal interface for starting the application.
type appLauncher interface {
	Launch(ctx context.Context, envPrefix, pkg string) error
}

// Config configures the Manager.
type Config struct {
	// Layout resolves paths under the installation root.
	Layout *prefix.Layout

	// PluginsURL is the plugin catalog endpoint. Empty disables plugin
	// discovery.
	PluginsURL string

	// DefaultChannel is used when an operation names no channels. Defaults
	// to the resolver's default.
	DefaultChannel string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager orchestrates environment lifecycle operations. All collaborators
// are injected; nothing reads ambient package-manager state.
type Manager struct {
	store          envStore
	conda          condaClient
	locks          lockClient
	versions       versionResolver
	catalog        pluginCatalog
	launcher       appLauncher
	layout         *prefix.Layout
	pluginsURL     string
	defaultChannel string
	logger         *slog.Logger
	busy           *busySet
}

// NewManager creates a new update manager.
func NewManager(store envStore, client condaClient, locks lockClient, versions versionResolver, catalog pluginCatalog, launcher appLauncher, cfg Config) *Manager {
	channel := cfg.DefaultChannel
	if channel == "" {
		channel = resolver.DefaultChannel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:          store,
		conda:          client,
		locks:          locks,
		versions:       versions,
		catalog:        catalog,
		launcher:       launcher,
		layout:         cfg.Layout,
		pluginsURL:     cfg.PluginsURL,
		defaultChannel: channel,
		logger:         logger,
		busy:           newBusySet(),
	}
}

// CheckUpdates reports whether a newer version of the package is published.
// A query without a current version infers it from the newest finished
// environment.
func (m *Manager) CheckUpdates(ctx context.Context, q resolver.Query) (*resolver.QueryResult, error) {
	if q.Current == "" {
		env, err := m.newestInstalled(q.Package)
		if err != nil {
			return nil, err
		}
		q.Current = env.Version.String()
	}
	return m.versions.Resolve(ctx, q)
}

// StatusReport is the status document: the package's records after a
// reconcile pass, plus whatever that pass repaired.
type StatusReport struct {
	Records   []state.Record         `json:"records"`
	Reconcile *state.ReconcileReport `json:"reconcile,omitempty"`
}

// Status reconciles records against the on-disk environments and lists the
// package's records.
func (m *Manager) Status(ctx context.Context, pkg string) (*StatusReport, error) {
	repairs, err := m.reconcile(ctx, pkg)
	if err != nil {
		return nil, err
	}
	records, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	report := &StatusReport{Records: []state.Record{}}
	if !repairs.Empty() {
		report.Reconcile = repairs
	}
	for _, rec := range records {
		if rec.Package == pkg {
			report.Records = append(report.Records, rec)
		}
	}
	return report, nil
}

// reconcile runs one repair pass for pkg before an operation relies on the
// records; the sentinel files are the ground truth the records must follow.
func (m *Manager) reconcile(ctx context.Context, pkg string) (*state.ReconcileReport, error) {
	return state.NewReconciler(m.store, m.layout, pkg, m.logger).Reconcile(ctx)
}

// newestInstalled returns the newest finished environment of pkg.
func (m *Manager) newestInstalled(pkg string) (*prefix.Environment, error) {
	envs, err := m.layout.InstalledVersions(pkg)
	if err != nil {
		return nil, fmt.Errorf("scan installed versions: %w", err)
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("%w: no finished environment of %s", ErrEnvironmentNotFound, pkg)
	}
	newest := envs[0]
	for _, env := range envs[1:] {
		if env.Version.Compare(newest.Version) > 0 {
			newest = env
		}
	}
	return &newest, nil
}

// pinCurrent pins an unversioned spec to the newest finished environment.
func (m *Manager) pinCurrent(spec conda.VersionSpec) (conda.VersionSpec, error) {
	if spec.Version != "" {
		return spec, nil
	}
	env, err := m.newestInstalled(spec.Name)
	if err != nil {
		return spec, err
	}
	return spec.WithVersion(env.Version.String()), nil
}

func (m *Manager) channelsOrDefault(channels []string) []string {
	if len(channels) > 0 {
		return channels
	}
	return []string{m.defaultChannel}
}

// openLog starts an operation log capturing subprocess output.
func (m *Manager) openLog(operation string) (*logging.Log, error) {
	log, err := logging.Open(m.layout.LogDir(), operation)
	if err != nil {
		return nil, fmt.Errorf("open operation log: %w", err)
	}
	return log, nil
}

// execute runs one plan with subprocess output captured to the operation log.
func (m *Manager) execute(ctx context.Context, p plan.Plan, log *logging.Log, onProgress func(install.Event)) (*install.Result, error) {
	executor := install.NewExecutor(install.Options{
		Conda:  m.conda,
		Locks:  m.locks,
		Layout: m.layout,
		Store:  m.store,
		Output: log,
		Logger: m.logger,
	})
	return executor.Execute(ctx, p, onProgress)
}

// busySet tracks in-flight mutating operations by environment key.
type busySet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newBusySet() *busySet {
	return &busySet{keys: make(map[string]struct{})}
}

// acquire claims key, failing when another operation already holds it.
func (b *busySet) acquire(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.keys[key]; ok {
		return fmt.Errorf("%w: %s", ErrConcurrentOperation, key)
	}
	b.keys[key] = struct{}{}
	return nil
}

func (b *busySet) release(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.keys, key)
}

// heldFor reports whether some held key points at the environment name: the
// key is the name itself or the name plus a build suffix.
func (b *busySet) heldFor(envName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.keys[envName]; ok {
		return true
	}
	for key := range b.keys {
		if strings.HasPrefix(key, envName+"-") {
			return true
		}
	}
	return false
}
