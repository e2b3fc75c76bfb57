package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/constructor-manager/internal/prefix"
)

func reconcileFixture(t *testing.T) (*prefix.Layout, *fileStore, *Reconciler) {
	t.Helper()
	layout, err := prefix.NewLayout(t.TempDir())
	require.NoError(t, err)
	store := NewStore(layout.StateDir())
	return layout, store, NewReconciler(store, layout, "napari", nil)
}

// fakeEnv fabricates an on-disk environment, optionally sentineled.
func fakeEnv(t *testing.T, layout *prefix.Layout, dirName, metaRecord string, sentinel bool) string {
	t.Helper()
	envPrefix := layout.EnvPrefix(dirName)
	require.NoError(t, os.MkdirAll(filepath.Join(envPrefix, "conda-meta"), 0o755))
	if metaRecord != "" {
		path := filepath.Join(envPrefix, "conda-meta", metaRecord+".json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	}
	if sentinel {
		require.NoError(t, prefix.WriteSentinel(envPrefix, "napari"))
	}
	return envPrefix
}

func TestReconciler_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("reports nothing on a consistent tree", func(t *testing.T) {
		layout, store, reconciler := reconcileFixture(t)
		envPrefix := fakeEnv(t, layout, "napari-0.4.16", "napari-0.4.16-pyh_0", true)
		require.NoError(t, store.Put(ctx, &Record{
			Key: "napari-0.4.16", Name: "napari-0.4.16", Package: "napari",
			Version: "0.4.16", Path: envPrefix, Status: StatusReady,
		}))

		report, err := reconciler.Reconcile(ctx)
		require.NoError(t, err)

		assert.True(t, report.Empty())
	})

	t.Run("upgrades a record when the sentinel exists", func(t *testing.T) {
		layout, store, reconciler := reconcileFixture(t)
		envPrefix := fakeEnv(t, layout, "napari-0.4.16", "napari-0.4.16-pyh_0", true)
		require.NoError(t, store.Put(ctx, &Record{
			Key: "napari-0.4.16", Name: "napari-0.4.16", Package: "napari",
			Version: "0.4.16", Path: envPrefix, Status: StatusVerifying,
		}))

		report, err := reconciler.Reconcile(ctx)
		require.NoError(t, err)

		assert.Equal(t, []string{"napari-0.4.16"}, report.Repaired)

		got, err := store.Get(ctx, "napari-0.4.16")
		require.NoError(t, err)
		assert.Equal(t, StatusReady, got.Status)
	})

	t.Run("downgrades a ready record whose sentinel is gone", func(t *testing.T) {
		layout, store, reconciler := reconcileFixture(t)
		envPrefix := fakeEnv(t, layout, "napari-0.4.16", "napari-0.4.16-pyh_0", false)
		require.NoError(t, store.Put(ctx, &Record{
			Key: "napari-0.4.16", Name: "napari-0.4.16", Package: "napari",
			Version: "0.4.16", Path: envPrefix, Status: StatusReady,
		}))

		report, err := reconciler.Reconcile(ctx)
		require.NoError(t, err)

		assert.Equal(t, []string{"napari-0.4.16"}, report.Failed)

		got, err := store.Get(ctx, "napari-0.4.16")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
	})

	t.Run("adopts a sentineled environment with no record", func(t *testing.T) {
		layout, store, reconciler := reconcileFixture(t)
		envPrefix := fakeEnv(t, layout, "napari-0.4.15", "napari-0.4.15-pyh_0", true)

		report, err := reconciler.Reconcile(ctx)
		require.NoError(t, err)

		assert.Equal(t, []string{"napari-0.4.15"}, report.Adopted)

		got, err := store.Get(ctx, "napari-0.4.15")
		require.NoError(t, err)
		assert.Equal(t, StatusReady, got.Status)
		assert.Equal(t, envPrefix, got.Path)
		assert.Equal(t, "0.4.15", got.Version)
		assert.Equal(t, "pyh_0", got.Build)
	})

	t.Run("marks duplicate sentineled environments as corruption", func(t *testing.T) {
		layout, store, reconciler := reconcileFixture(t)
		// A real environment and a quarantined copy, both sentineled.
		fakeEnv(t, layout, "napari-0.4.16", "napari-0.4.16-pyh_0", true)
		fakeEnv(t, layout, "napari-0.4.16-f81d4fae", "napari-0.4.16-pyh_0", true)
		require.NoError(t, store.Put(ctx, &Record{
			Key: "napari-0.4.16", Name: "napari-0.4.16", Package: "napari",
			Version: "0.4.16", Status: StatusReady,
		}))

		report, err := reconciler.Reconcile(ctx)
		require.NoError(t, err)

		require.Len(t, report.Corrupted, 1)
		assert.Equal(t, "napari-0.4.16", report.Corrupted[0].Key)

		got, err := store.Get(ctx, "napari-0.4.16")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
	})

	t.Run("reports abandoned environments", func(t *testing.T) {
		layout, _, reconciler := reconcileFixture(t)
		abandoned := fakeEnv(t, layout, "napari-0.4.14", "napari-0.4.14-pyh_0", false)

		report, err := reconciler.Reconcile(ctx)
		require.NoError(t, err)

		assert.Equal(t, []string{abandoned}, report.Abandoned)
	})

	t.Run("leaves an in-flight record alone", func(t *testing.T) {
		layout, store, reconciler := reconcileFixture(t)
		envPrefix := fakeEnv(t, layout, "napari-0.4.17", "napari-0.4.17-pyh_0", false)
		require.NoError(t, store.Put(ctx, &Record{
			Key: "napari-0.4.17", Name: "napari-0.4.17", Package: "napari",
			Version: "0.4.17", Path: envPrefix, Status: StatusCreating,
		}))

		report, err := reconciler.Reconcile(ctx)
		require.NoError(t, err)

		assert.True(t, report.Empty())

		got, err := store.Get(ctx, "napari-0.4.17")
		require.NoError(t, err)
		assert.Equal(t, StatusCreating, got.Status)
	})
}
