package anaconda

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens map[string]string

func (s staticTokens) Token(channel string) (string, error) {
	return s[channel], nil
}

func newTestClient(t *testing.T, server *httptest.Server, tokens TokenProvider) *client {
	t.Helper()
	c := NewClient(ClientConfig{
		BaseURL:   server.URL,
		UserAgent: "constructor-manager-test",
		Tokens:    tokens,
	}).(*client)
	c.retryDelay = time.Millisecond
	return c
}

func TestClient_PackageFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("parses files with versions and builds", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/package/conda-forge/napari", r.URL.Path)
			assert.Equal(t, "constructor-manager-test", r.Header.Get("User-Agent"))

			_, _ = w.Write([]byte(`{
				"files": [
					{"version": "0.4.16", "attrs": {"build": "pyh6c4a22f_0"}},
					{"version": "0.4.17", "attrs": {"build": "pyh6c4a22f_0"}}
				],
				"versions": ["0.4.16", "0.4.17"]
			}`))
		}))
		defer server.Close()

		files, err := newTestClient(t, server, nil).PackageFiles(ctx, "conda-forge", "napari")
		require.NoError(t, err)

		require.Len(t, files, 2)
		assert.Equal(t, PackageFile{Version: "0.4.16", Build: "pyh6c4a22f_0", Channel: "conda-forge"}, files[0])
	})

	t.Run("falls back to the versions list when files are absent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"versions": ["0.4.15", "0.4.16"]}`))
		}))
		defer server.Close()

		files, err := newTestClient(t, server, nil).PackageFiles(ctx, "conda-forge", "napari")
		require.NoError(t, err)

		require.Len(t, files, 2)
		assert.Equal(t, "0.4.15", files[0].Version)
		assert.Empty(t, files[0].Build)
	})

	t.Run("treats 404 as zero versions", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		files, err := newTestClient(t, server, nil).PackageFiles(ctx, "conda-forge", "nonexistent")
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("retries once on server errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"versions": ["0.4.16"]}`))
		}))
		defer server.Close()

		files, err := newTestClient(t, server, nil).PackageFiles(ctx, "conda-forge", "napari")
		require.NoError(t, err)

		assert.Equal(t, int32(2), calls.Load())
		require.Len(t, files, 1)
	})

	t.Run("reports a channel error when retries are exhausted", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := newTestClient(t, server, nil).PackageFiles(ctx, "conda-forge", "napari")
		require.Error(t, err)

		var channelErr *ChannelError
		require.ErrorAs(t, err, &channelErr)
		assert.Equal(t, "conda-forge", channelErr.Channel)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("maps 403 to ErrUnauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		_, err := newTestClient(t, server, nil).PackageFiles(ctx, "private", "napari")
		assert.ErrorIs(t, err, ErrUnauthorized)

		var channelErr *ChannelError
		assert.ErrorAs(t, err, &channelErr)
	})

	t.Run("sends the stored channel token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "token secret123", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"versions": []}`))
		}))
		defer server.Close()

		tokens := staticTokens{"private": "secret123"}
		_, err := newTestClient(t, server, tokens).PackageFiles(ctx, "private", "napari")
		require.NoError(t, err)
	})

	t.Run("reports unreachable hosts", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		server.Close()

		_, err := newTestClient(t, server, nil).PackageFiles(ctx, "conda-forge", "napari")

		var channelErr *ChannelError
		require.ErrorAs(t, err, &channelErr)
	})
}

func TestClient_PluginNames(t *testing.T) {
	ctx := context.Background()

	t.Run("parses an array catalog", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`["Napari-SVG", "napari-console"]`))
		}))
		defer server.Close()

		names, err := newTestClient(t, server, nil).PluginNames(ctx, server.URL)
		require.NoError(t, err)

		assert.Equal(t, []string{"napari-console", "napari-svg"}, names)
	})

	t.Run("parses an object catalog by keys", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"napari-svg": {"version": "1.0"}, "napari-console": {}}`))
		}))
		defer server.Close()

		names, err := newTestClient(t, server, nil).PluginNames(ctx, server.URL)
		require.NoError(t, err)

		assert.Equal(t, []string{"napari-console", "napari-svg"}, names)
	})

	t.Run("errors on an unparseable catalog", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`"just a string"`))
		}))
		defer server.Close()

		_, err := newTestClient(t, server, nil).PluginNames(ctx, server.URL)
		require.Error(t, err)
	})
}

func TestChannelError(t *testing.T) {
	inner := errors.New("boom")
	err := &ChannelError{Channel: "conda-forge", Err: inner}

	assert.Contains(t, err.Error(), "conda-forge")
	assert.ErrorIs(t, err, inner)
}
