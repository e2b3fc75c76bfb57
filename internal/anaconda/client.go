package anaconda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// client implements Client over net/http.
type client struct {
	baseURL    string
	userAgent  string
	tokens     TokenProvider
	httpClient *http.Client
	retryDelay time.Duration
}

// NewClient creates an index client with the given configuration.
func NewClient(cfg ClientConfig) Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  cfg.UserAgent,
		tokens:     cfg.Tokens,
		httpClient: httpClient,
		retryDelay: 500 * time.Millisecond,
	}
}

// packageResponse is the subset of the package endpoint's JSON the tool
// consumes. Older index deployments only fill `versions`.
type packageResponse struct {
	Files []struct {
		Version string `json:"version"`
		Attrs   struct {
			Build string `json:"build"`
		} `json:"attrs"`
	} `json:"files"`
	Versions []string `json:"versions"`
}

// PackageFiles returns the published files of pkg on channel.
func (c *client) PackageFiles(ctx context.Context, channel, pkg string) ([]PackageFile, error) {
	endpoint := fmt.Sprintf("%s/package/%s/%s", c.baseURL, url.PathEscape(channel), url.PathEscape(pkg))

	body, status, err := c.get(ctx, endpoint, c.channelToken(channel))
	if err != nil {
		return nil, &ChannelError{Channel: channel, Err: err}
	}
	switch {
	case status == http.StatusNotFound:
		return nil, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &ChannelError{Channel: channel, Err: ErrUnauthorized}
	case status != http.StatusOK:
		return nil, &ChannelError{Channel: channel, Err: fmt.Errorf("unexpected status %d", status)}
	}

	var parsed packageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ChannelError{Channel: channel, Err: fmt.Errorf("parse package response: %w", err)}
	}

	files := make([]PackageFile, 0, len(parsed.Files))
	for _, f := range parsed.Files {
		files = append(files, PackageFile{Version: f.Version, Build: f.Attrs.Build, Channel: channel})
	}
	if len(files) == 0 {
		for _, v := range parsed.Versions {
			files = append(files, PackageFile{Version: v, Channel: channel})
		}
	}
	return files, nil
}

// PluginNames fetches the plugin catalog at catalogURL. The endpoint serves
// either a JSON array of names or an object whose keys are names.
func (c *client) PluginNames(ctx context.Context, catalogURL string) ([]string, error) {
	body, status, err := c.get(ctx, catalogURL, "")
	if err != nil {
		return nil, fmt.Errorf("fetch plugin catalog: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch plugin catalog: unexpected status %d", status)
	}
	return parsePluginNames(body)
}

func parsePluginNames(body []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		var catalog map[string]json.RawMessage
		if err := json.Unmarshal(body, &catalog); err != nil {
			return nil, fmt.Errorf("parse plugin catalog: %w", err)
		}
		names = make([]string, 0, len(catalog))
		for name := range catalog {
			names = append(names, name)
		}
	}
	for i, name := range names {
		names[i] = strings.ToLower(name)
	}
	sort.Strings(names)
	return names, nil
}

// get performs one GET with a single retry on network errors and 5xx
// responses. Non-5xx statuses are returned to the caller unretried.
func (c *client) get(ctx context.Context, endpoint, token string) ([]byte, int, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("build request: %w", err)
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		if token != "" {
			req.Header.Set("Authorization", "token "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			continue
		}
		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			continue
		}
		return body, resp.StatusCode, nil
	}
	return nil, 0, lastErr
}

// channelToken looks up the stored token, silently falling back to an
// unauthenticated request when none is available.
func (c *client) channelToken(channel string) string {
	if c.tokens == nil {
		return ""
	}
	token, err := c.tokens.Token(channel)
	if err != nil {
		return ""
	}
	return token
}
