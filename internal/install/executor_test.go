package install

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/constructor-manager/internal/conda"
	"github.com/jmgilman/constructor-manager/internal/plan"
	"github.com/jmgilman/constructor-manager/internal/prefix"
	"github.com/jmgilman/constructor-manager/internal/slogger"
	"github.com/jmgilman/constructor-manager/internal/state"
)

type fakeCall struct {
	prefix string
	specs  []string
}

type fakeConda struct {
	mu       sync.Mutex
	creates  []fakeCall
	installs []fakeCall
	removes  []string

	createFunc  func(envPrefix string, specs []string) error
	installFunc func(envPrefix string, specs []string) error
	removeFunc  func(envPrefix string) error
}

func (f *fakeConda) Create(_ context.Context, envPrefix string, specs, _ []string, _ io.Writer) error {
	f.mu.Lock()
	f.creates = append(f.creates, fakeCall{envPrefix, specs})
	f.mu.Unlock()
	if f.createFunc != nil {
		return f.createFunc(envPrefix, specs)
	}
	return nil
}

func (f *fakeConda) Install(_ context.Context, envPrefix string, specs, _ []string, _ io.Writer) error {
	f.mu.Lock()
	f.installs = append(f.installs, fakeCall{envPrefix, specs})
	f.mu.Unlock()
	if f.installFunc != nil {
		return f.installFunc(envPrefix, specs)
	}
	return nil
}

func (f *fakeConda) Remove(_ context.Context, envPrefix string, _ io.Writer) error {
	f.mu.Lock()
	f.removes = append(f.removes, envPrefix)
	f.mu.Unlock()
	if f.removeFunc != nil {
		return f.removeFunc(envPrefix)
	}
	return os.RemoveAll(envPrefix)
}

type fakeLocks struct {
	mu    sync.Mutex
	calls []fakeCall
	err   error
	hook  func(envPrefix, lockfile string) error
}

func (f *fakeLocks) InstallLockfile(_ context.Context, envPrefix, lockfile string, _ io.Writer) error {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{envPrefix, []string{lockfile}})
	f.mu.Unlock()
	if f.hook != nil {
		return f.hook(envPrefix, lockfile)
	}
	return f.err
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

type fixture struct {
	t      *testing.T
	layout *prefix.Layout
	store  state.Store
	conda  *fakeConda
	locks  *fakeLocks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	layout, err := prefix.NewLayout(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.EnsureDirs())

	f := &fixture{
		t:      t,
		layout: layout,
		store:  state.NewStore(layout.StateDir()),
		locks:  &fakeLocks{},
	}
	f.conda = &fakeConda{
		createFunc: func(envPrefix string, specs []string) error {
			f.materialize(envPrefix, specs)
			return nil
		},
	}
	return f
}

// materialize simulates a successful conda create: the prefix appears with
// a conda-meta record for every versioned spec.
func (f *fixture) materialize(envPrefix string, specs []string) {
	f.t.Helper()
	meta := filepath.Join(envPrefix, "conda-meta")
	require.NoError(f.t, os.MkdirAll(meta, 0o755))
	for _, spec := range specs {
		name, rest, ok := strings.Cut(spec, "=")
		if !ok {
			continue
		}
		ver, _, _ := strings.Cut(rest, "=")
		record := name + "-" + ver + "-pyhd8ed1ab_0.json"
		require.NoError(f.t, os.WriteFile(filepath.Join(meta, record), []byte("{}\n"), 0o644))
	}
}

func (f *fixture) executor() *Executor {
	return NewExecutor(Options{
		Conda:  f.conda,
		Locks:  f.locks,
		Layout: f.layout,
		Store:  f.store,
		Logger: slogger.Discard(),
	})
}

func (f *fixture) record(key string) *state.Record {
	f.t.Helper()
	rec, err := f.store.Get(context.Background(), key)
	require.NoError(f.t, err)
	return rec
}

func mustSpec(t *testing.T, s string) conda.VersionSpec {
	t.Helper()
	spec, err := conda.ParseSpec(s)
	require.NoError(t, err)
	return spec
}

func TestExecutor_Execute(t *testing.T) {
	channels := []string{"conda-forge"}

	t.Run("joint creation ends ready with the sentinel on disk", func(t *testing.T) {
		f := newFixture(t)
		spec := mustSpec(t, "napari=0.4.16")
		p := plan.Build(spec, []string{"napari-svg", "napari-console"}, channels)

		result, err := f.executor().Execute(context.Background(), p, nil)
		require.NoError(t, err)

		assert.False(t, result.Fallback)
		require.Len(t, result.Plugins, 2)
		for _, pr := range result.Plugins {
			assert.Equal(t, state.PluginOK, pr.Outcome)
		}

		require.Len(t, f.conda.creates, 1)
		assert.Equal(t, []string{"napari=0.4.16", "napari-svg", "napari-console"}, f.conda.creates[0].specs)
		assert.Empty(t, f.conda.installs)

		rec := f.record(p.Key)
		assert.Equal(t, state.StatusReady, rec.Status)
		assert.True(t, prefix.HasSentinel(rec.Path, "napari"))
	})

	t.Run("joint failure runs the fallback branch", func(t *testing.T) {
		f := newFixture(t)
		jointFailed := false
		f.conda.createFunc = func(envPrefix string, specs []string) error {
			if !jointFailed {
				jointFailed = true
				return errors.New("solver conflict")
			}
			f.materialize(envPrefix, specs)
			return nil
		}
		spec := mustSpec(t, "napari=0.4.16")
		p := plan.Build(spec, []string{"napari-svg", "napari-console"}, channels)

		result, err := f.executor().Execute(context.Background(), p, nil)
		require.NoError(t, err)

		assert.True(t, result.Fallback)
		assert.Len(t, f.conda.creates, 2)
		require.Len(t, f.conda.installs, 2)
		assert.Equal(t, []string{"napari-svg"}, f.conda.installs[0].specs)
		assert.Equal(t, []string{"napari-console"}, f.conda.installs[1].specs)

		rec := f.record(p.Key)
		assert.Equal(t, state.StatusReady, rec.Status)
		assert.True(t, prefix.HasSentinel(rec.Path, "napari"))
	})

	t.Run("one bad plugin does not fail the environment", func(t *testing.T) {
		f := newFixture(t)
		calls := 0
		f.conda.createFunc = func(envPrefix string, specs []string) error {
			calls++
			if calls == 1 {
				return errors.New("solver conflict")
			}
			f.materialize(envPrefix, specs)
			return nil
		}
		f.conda.installFunc = func(_ string, specs []string) error {
			if specs[0] == "napari-console" {
				return errors.New("nothing provides napari-console")
			}
			return nil
		}
		spec := mustSpec(t, "napari=0.4.16")
		p := plan.Build(spec, []string{"napari-svg", "napari-console"}, channels)

		result, err := f.executor().Execute(context.Background(), p, nil)
		require.NoError(t, err)

		require.Len(t, result.Plugins, 2)
		assert.Equal(t, state.PluginOK, result.Plugins[0].Outcome)
		assert.Equal(t, state.PluginFailed, result.Plugins[1].Outcome)
		assert.Contains(t, result.Plugins[1].Diagnostic, "nothing provides")

		rec := f.record(p.Key)
		assert.Equal(t, state.StatusReady, rec.Status)
		assert.Equal(t, rec.Plugins, result.Plugins)
		assert.True(t, prefix.HasSentinel(rec.Path, "napari"))
	})

	t.Run("a rebuild keeps the recorded lockfile path", func(t *testing.T) {
		f := newFixture(t)
		spec := mustSpec(t, "napari=0.4.16")
		p := plan.Build(spec, nil, channels)
		lockfile := f.layout.LockfilePath(p.Name)
		require.NoError(t, f.store.Put(context.Background(), &state.Record{
			Key:          p.Key,
			Name:         p.Name,
			Package:      p.Package,
			Version:      p.Version,
			Path:         f.layout.EnvPrefix(p.Name),
			Status:       state.StatusFailed,
			LockfilePath: lockfile,
		}))
		f.conda.createFunc = func(string, []string) error {
			return errors.New("solver conflict")
		}

		_, err := f.executor().Execute(context.Background(), p, nil)
		require.Error(t, err)

		// The lockfile is still on disk; the failed run must not orphan it.
		rec := f.record(p.Key)
		assert.Equal(t, state.StatusFailed, rec.Status)
		assert.Equal(t, lockfile, rec.LockfilePath)
	})

	t.Run("exhausted creation fails the record and surfaces the error", func(t *testing.T) {
		f := newFixture(t)
		f.conda.createFunc = func(string, []string) error {
			return errors.New("disk full")
		}
		spec := mustSpec(t, "napari=0.4.16")
		p := plan.Build(spec, []string{"napari-svg"}, channels)

		_, err := f.executor().Execute(context.Background(), p, nil)
		require.ErrorIs(t, err, ErrInstallationFailed)

		assert.Len(t, f.conda.creates, 2)
		rec := f.record(p.Key)
		assert.Equal(t, state.StatusFailed, rec.Status)
		assert.False(t, prefix.HasSentinel(rec.Path, "napari"))
	})

	t.Run("pluginless creation has no fallback to try", func(t *testing.T) {
		f := newFixture(t)
		f.conda.createFunc = func(string, []string) error {
			return errors.New("disk full")
		}
		spec := mustSpec(t, "napari=0.4.16")
		p := plan.Build(spec, nil, channels)

		_, err := f.executor().Execute(context.Background(), p, nil)
		require.ErrorIs(t, err, ErrInstallationFailed)
		assert.Len(t, f.conda.creates, 1)
	})

	t.Run("verification failure never writes the sentinel", func(t *testing.T) {
		f := newFixture(t)
		f.conda.createFunc = func(envPrefix string, _ []string) error {
			// Environment appears but without the application's record.
			require.NoError(t, os.MkdirAll(filepath.Join(envPrefix, "conda-meta"), 0o755))
			return nil
		}
		spec := mustSpec(t, "napari=0.4.16")
		p := plan.Build(spec, nil, channels)

		_, err := f.executor().Execute(context.Background(), p, nil)

		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, plan.KindWriteSentinel, stepErr.Kind)

		rec := f.record(p.Key)
		assert.Equal(t, state.StatusFailed, rec.Status)
		assert.False(t, prefix.HasSentinel(rec.Path, "napari"))
	})

	t.Run("progress events arrive for every step", func(t *testing.T) {
		f := newFixture(t)
		calls := 0
		f.conda.createFunc = func(envPrefix string, specs []string) error {
			calls++
			if calls == 1 {
				return errors.New("solver conflict")
			}
			f.materialize(envPrefix, specs)
			return nil
		}
		spec := mustSpec(t, "napari=0.4.16")
		p := plan.Build(spec, []string{"napari-svg"}, channels)

		log := &eventLog{}
		_, err := f.executor().Execute(context.Background(), p, log.record)
		require.NoError(t, err)

		events := log.all()
		require.Len(t, events, 4)
		assert.Equal(t, plan.KindCreateEnv, events[0].Step)
		assert.Equal(t, OutcomeFailed, events[0].Outcome)
		assert.Contains(t, events[0].Diagnostic, "solver conflict")
		assert.Equal(t, plan.KindCreateEnv, events[1].Step)
		assert.Equal(t, OutcomeOK, events[1].Outcome)
		assert.Equal(t, plan.KindInstallPlugin, events[2].Step)
		assert.Equal(t, "napari-svg", events[2].Target)
		assert.Equal(t, plan.KindWriteSentinel, events[3].Step)
		assert.Equal(t, OutcomeOK, events[3].Outcome)
	})

	t.Run("a stalled consumer never blocks execution", func(t *testing.T) {
		f := newFixture(t)
		spec := mustSpec(t, "napari=0.4.16")
		p := plan.Build(spec, nil, channels)

		release := make(chan struct{})
		defer close(release)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := f.executor().Execute(context.Background(), p, func(Event) {
				<-release
			})
			assert.NoError(t, err)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("executor blocked on a stalled progress consumer")
		}
	})

	t.Run("cancellation marks the record failed and tears the environment down", func(t *testing.T) {
		f := newFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		f.conda.createFunc = func(envPrefix string, specs []string) error {
			f.materialize(envPrefix, specs)
			cancel()
			return nil
		}
		spec := mustSpec(t, "napari=0.4.16")
		p := plan.Build(spec, nil, channels)

		_, err := f.executor().Execute(ctx, p, nil)
		require.ErrorIs(t, err, context.Canceled)

		rec := f.record(p.Key)
		assert.Equal(t, state.StatusFailed, rec.Status)
		assert.Len(t, f.conda.removes, 1)
		assert.NoDirExists(t, rec.Path)
	})

	t.Run("lockfile plan restores through the lock installer", func(t *testing.T) {
		f := newFixture(t)
		f.locks.hook = func(envPrefix, _ string) error {
			f.materialize(envPrefix, []string{"napari=0.4.16"})
			return nil
		}
		spec := mustSpec(t, "napari=0.4.16")
		lockfile := f.layout.LockfilePath(spec.EnvName())
		p := plan.BuildFromLockfile(spec, lockfile, channels)

		result, err := f.executor().Execute(context.Background(), p, nil)
		require.NoError(t, err)

		require.Len(t, f.locks.calls, 1)
		assert.Equal(t, []string{lockfile}, f.locks.calls[0].specs)
		assert.Equal(t, state.StatusReady, result.Record.Status)
		assert.Equal(t, lockfile, result.Record.LockfilePath)
		assert.True(t, prefix.HasSentinel(result.Record.Path, "napari"))
	})

	t.Run("lockfile install failure is fatal", func(t *testing.T) {
		f := newFixture(t)
		f.locks.err = errors.New("lockfile does not satisfy platform")
		spec := mustSpec(t, "napari=0.4.16")
		p := plan.BuildFromLockfile(spec, f.layout.LockfilePath(spec.EnvName()), channels)

		_, err := f.executor().Execute(context.Background(), p, nil)
		require.ErrorIs(t, err, ErrInstallationFailed)
		assert.Equal(t, state.StatusFailed, f.record(p.Key).Status)
	})
}

func TestExecutor_Execute_removal(t *testing.T) {
	setupReady := func(t *testing.T, f *fixture, spec conda.VersionSpec) *state.Record {
		t.Helper()
		envPrefix := f.layout.EnvPrefix(spec.EnvName())
		f.materialize(envPrefix, []string{spec.String()})
		require.NoError(t, prefix.WriteSentinel(envPrefix, spec.Name))
		rec := &state.Record{
			Key:     spec.Key(),
			Name:    spec.EnvName(),
			Package: spec.Name,
			Version: spec.Version,
			Path:    envPrefix,
			Status:  state.StatusReady,
		}
		require.NoError(t, f.store.Put(context.Background(), rec))
		return rec
	}

	t.Run("sentinel is gone before the package manager runs", func(t *testing.T) {
		f := newFixture(t)
		spec := mustSpec(t, "napari=0.4.16")
		rec := setupReady(t, f, spec)

		sentinelAtRemoval := true
		f.conda.removeFunc = func(envPrefix string) error {
			sentinelAtRemoval = prefix.HasSentinel(envPrefix, "napari")
			return os.RemoveAll(envPrefix)
		}

		result, err := f.executor().Execute(context.Background(), plan.BuildRemoval(spec), nil)
		require.NoError(t, err)

		assert.False(t, sentinelAtRemoval)
		assert.Equal(t, state.StatusRemoved, result.Record.Status)
		assert.Equal(t, state.StatusRemoved, f.record(rec.Key).Status)
		assert.NoDirExists(t, rec.Path)
	})

	t.Run("a stubborn environment is quarantined aside", func(t *testing.T) {
		f := newFixture(t)
		spec := mustSpec(t, "napari=0.4.16")
		rec := setupReady(t, f, spec)

		f.conda.removeFunc = func(string) error {
			return errors.New("permission denied")
		}

		_, err := f.executor().Execute(context.Background(), plan.BuildRemoval(spec), nil)
		require.NoError(t, err)

		assert.NoDirExists(t, rec.Path)
		entries, err := os.ReadDir(f.layout.EnvsDir())
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, strings.HasPrefix(entries[0].Name(), "napari-0.4.16-"))
		assert.Equal(t, state.StatusRemoved, f.record(rec.Key).Status)
	})

	t.Run("removing an unrecorded environment still works", func(t *testing.T) {
		f := newFixture(t)
		spec := mustSpec(t, "napari=0.4.16")
		envPrefix := f.layout.EnvPrefix(spec.EnvName())
		f.materialize(envPrefix, []string{spec.String()})
		require.NoError(t, prefix.WriteSentinel(envPrefix, spec.Name))

		result, err := f.executor().Execute(context.Background(), plan.BuildRemoval(spec), nil)
		require.NoError(t, err)

		assert.Equal(t, state.StatusRemoved, result.Record.Status)
		assert.NoDirExists(t, envPrefix)
	})
}
