package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards concurrent writes from the Follow goroutine.
type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestFollow(t *testing.T) {
	t.Run("streams existing and appended lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "update-2026-08-21-09-30-00.log")
		require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o644))

		ctx, cancel := context.WithCancel(context.Background())
		out := &syncBuffer{}
		done := make(chan error, 1)
		go func() {
			done <- Follow(ctx, path, out, 10*time.Millisecond)
		}()

		require.Eventually(t, func() bool {
			return strings.Contains(out.String(), "first\n")
		}, time.Second, 5*time.Millisecond)

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString("second\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		require.Eventually(t, func() bool {
			return strings.Contains(out.String(), "second\n")
		}, time.Second, 5*time.Millisecond)

		cancel()
		require.NoError(t, <-done)
		assert.Equal(t, "first\nsecond\n", out.String())
	})

	t.Run("flushes a trailing partial line on cancellation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "update-2026-08-21-09-30-00.log")
		require.NoError(t, os.WriteFile(path, []byte("complete\nunterminated"), 0o644))

		ctx, cancel := context.WithCancel(context.Background())
		out := &syncBuffer{}
		done := make(chan error, 1)
		go func() {
			done <- Follow(ctx, path, out, 10*time.Millisecond)
		}()

		require.Eventually(t, func() bool {
			return strings.Contains(out.String(), "complete\n")
		}, time.Second, 5*time.Millisecond)

		cancel()
		require.NoError(t, <-done)
		assert.Equal(t, "complete\nunterminated", out.String())
	})

	t.Run("missing file is an error", func(t *testing.T) {
		err := Follow(context.Background(), filepath.Join(t.TempDir(), "absent.log"), &syncBuffer{}, 0)
		assert.Error(t, err)
	})
}
