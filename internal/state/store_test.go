package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(key, name string, status Status) *Record {
	return &Record{
		Key:     key,
		Name:    name,
		Package: "napari",
		Version: "0.4.16",
		Path:    "/opt/napari/envs/" + name,
		Status:  status,
	}
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips a record", func(t *testing.T) {
		store := NewStore(t.TempDir())

		record := newRecord("napari-0.4.16", "napari-0.4.16", StatusCreating)
		require.NoError(t, store.Put(ctx, record))

		got, err := store.Get(ctx, "napari-0.4.16")
		require.NoError(t, err)

		assert.Equal(t, "napari-0.4.16", got.Key)
		assert.Equal(t, StatusCreating, got.Status)
		assert.Equal(t, SchemaVersion, got.SchemaVersion)
		assert.False(t, got.CreatedAt.IsZero())
		assert.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("put replaces and keeps the creation time", func(t *testing.T) {
		store := NewStore(t.TempDir())

		record := newRecord("napari-0.4.16", "napari-0.4.16", StatusCreating)
		require.NoError(t, store.Put(ctx, record))
		created := record.CreatedAt

		record.Status = StatusReady
		require.NoError(t, store.Put(ctx, record))

		got, err := store.Get(ctx, "napari-0.4.16")
		require.NoError(t, err)
		assert.Equal(t, StatusReady, got.Status)
		assert.WithinDuration(t, created, got.CreatedAt, 0)
	})

	t.Run("returns ErrNotFound for a missing key", func(t *testing.T) {
		store := NewStore(t.TempDir())

		_, err := store.Get(ctx, "nonexistent")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects a record without a key", func(t *testing.T) {
		store := NewStore(t.TempDir())
		assert.Error(t, store.Put(ctx, &Record{Name: "napari-0.4.16"}))
	})

	t.Run("sanitizes keys with glob characters", func(t *testing.T) {
		dir := t.TempDir()
		store := NewStore(dir)

		record := newRecord("napari-0.4.16-*pyh*", "napari-0.4.16", StatusReady)
		require.NoError(t, store.Put(ctx, record))

		got, err := store.Get(ctx, "napari-0.4.16-*pyh*")
		require.NoError(t, err)
		assert.Equal(t, "napari-0.4.16-*pyh*", got.Key)

		assert.FileExists(t, filepath.Join(dir, "napari-0.4.16-_pyh_.json"))
	})

	t.Run("a sanitized-name collision does not return the wrong record", func(t *testing.T) {
		store := NewStore(t.TempDir())

		require.NoError(t, store.Put(ctx, newRecord("napari-0.4.16-*pyh*", "napari-0.4.16", StatusReady)))

		_, err := store.Get(ctx, "napari-0.4.16-_pyh_")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("refuses a record from a future schema", func(t *testing.T) {
		dir := t.TempDir()
		store := NewStore(dir)

		future := `{"schema_version": "2.0.0", "key": "napari-9.9.9", "status": "ready"}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "napari-9.9.9.json"), []byte(future), 0o644))

		_, err := store.Get(ctx, "napari-9.9.9")
		assert.ErrorIs(t, err, ErrIncompatibleSchema)
	})
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()

	t.Run("returns records sorted by key", func(t *testing.T) {
		store := NewStore(t.TempDir())

		require.NoError(t, store.Put(ctx, newRecord("napari-0.4.17", "napari-0.4.17", StatusReady)))
		require.NoError(t, store.Put(ctx, newRecord("napari-0.4.15", "napari-0.4.15", StatusFailed)))

		records, err := store.List(ctx)
		require.NoError(t, err)

		require.Len(t, records, 2)
		assert.Equal(t, "napari-0.4.15", records[0].Key)
		assert.Equal(t, "napari-0.4.17", records[1].Key)
	})

	t.Run("returns nothing for a fresh directory", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "state"))

		records, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("ignores non-record files", func(t *testing.T) {
		dir := t.TempDir()
		store := NewStore(dir)
		require.NoError(t, store.Put(ctx, newRecord("napari-0.4.16", "napari-0.4.16", StatusReady)))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "napari-0.4.16.lock"), []byte("lock"), 0o644))

		records, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes a record", func(t *testing.T) {
		store := NewStore(t.TempDir())
		require.NoError(t, store.Put(ctx, newRecord("napari-0.4.16", "napari-0.4.16", StatusReady)))

		require.NoError(t, store.Delete(ctx, "napari-0.4.16"))

		_, err := store.Get(ctx, "napari-0.4.16")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("returns ErrNotFound for a missing key", func(t *testing.T) {
		store := NewStore(t.TempDir())
		assert.ErrorIs(t, store.Delete(ctx, "nonexistent"), ErrNotFound)
	})
}

func TestStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store1 := NewStore(dir)
	require.NoError(t, store1.Put(ctx, newRecord("napari-0.4.16", "napari-0.4.16", StatusReady)))

	store2 := NewStore(dir)
	got, err := store2.Get(ctx, "napari-0.4.16")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, got.Status)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("handles concurrent writes to distinct keys", func(t *testing.T) {
		store := NewStore(t.TempDir())

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				key := fmt.Sprintf("napari-0.4.%d", idx)
				if err := store.Put(ctx, newRecord(key, key, StatusReady)); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("unexpected error: %v", err)
		}

		records, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 10)
	})

	t.Run("handles concurrent reads", func(t *testing.T) {
		store := NewStore(t.TempDir())
		require.NoError(t, store.Put(ctx, newRecord("napari-0.4.16", "napari-0.4.16", StatusReady)))

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Get(ctx, "napari-0.4.16"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestStore_ContextCancellation(t *testing.T) {
	store := NewStore(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Put(ctx, newRecord("napari-0.4.16", "napari-0.4.16", StatusReady))
	assert.Error(t, err)
}
