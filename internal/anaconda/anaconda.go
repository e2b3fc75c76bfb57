// Package anaconda provides a client for the anaconda.org package index and
// plugin catalog endpoints.
package anaconda

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultBaseURL is the public anaconda.org API endpoint.
const DefaultBaseURL = "https://api.anaconda.org"

// ErrUnauthorized is returned when the index rejects the channel token.
var ErrUnauthorized = errors.New("unauthorized")

// ChannelError reports a channel whose index could not be queried.
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// PackageFile is one published artifact of a package on a channel.
type PackageFile struct {
	Version string
	Build   string
	Channel string
}

// TokenProvider supplies stored channel tokens. An empty token means the
// request goes out unauthenticated.
type TokenProvider interface {
	Token(channel string) (string, error)
}

// Client queries the package index and the plugin catalog.
type Client interface {
	// PackageFiles returns the published files of pkg on channel, in index
	// order. An unknown package yields no files and no error.
	PackageFiles(ctx context.Context, channel, pkg string) ([]PackageFile, error)

	// PluginNames fetches the plugin catalog at url and returns a sorted,
	// lowercased list of plugin package names.
	PluginNames(ctx context.Context, url string) ([]string, error)
}

// ClientConfig configures the index client.
type ClientConfig struct {
	// BaseURL overrides the index endpoint. Defaults to DefaultBaseURL.
	BaseURL string

	// UserAgent is sent on every request.
	UserAgent string

	// Timeout bounds each HTTP request. Defaults to 60s.
	Timeout time.Duration

	// Tokens supplies per-channel authorization tokens. Optional.
	Tokens TokenProvider

	// HTTPClient overrides the underlying client. Optional.
	HTTPClient *http.Client
}
