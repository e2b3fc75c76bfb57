// Package resolver answers version queries: which versions of the
// application are published, which one is the update target, and whether
// that target is already installed.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/jmgilman/constructor-manager/internal/anaconda"
	"github.com/jmgilman/constructor-manager/internal/prefix"
	"github.com/jmgilman/constructor-manager/internal/version"
)

// DefaultChannel is queried when a query names no channels.
const DefaultChannel = "conda-forge"

// ErrChannelUnavailable is returned when every queried channel failed.
var ErrChannelUnavailable = errors.New("no channel reachable")

// IndexClient is the slice of the package index the resolver consumes.
type IndexClient interface {
	PackageFiles(ctx context.Context, channel, pkg string) ([]anaconda.PackageFile, error)
}

// EnvScanner reports finished installations of a package.
type EnvScanner interface {
	InstalledVersions(pkg string) ([]prefix.Environment, error)
}

// Query describes one version resolution request.
type Query struct {
	Package    string
	Current    string   // version the caller is running
	Build      string   // optional build-string glob from the spec
	Channels   []string // empty = resolver default
	IncludeDev bool     // keep pre-release and dev versions
}

// QueryResult is the JSON document a version query produces.
type QueryResult struct {
	AvailableVersions []string          `json:"available_versions"`
	CurrentVersion    string            `json:"current_version"`
	LatestVersion     string            `json:"latest_version"`
	PreviousVersion   *string           `json:"previous_version"`
	FoundVersions     []string          `json:"found_versions"`
	Update            bool              `json:"update"`
	Installed         bool              `json:"installed"`
	Status            map[string]string `json:"status,omitempty"`
}

// Resolver resolves version queries against the index and the local
// installation. It is read-only: resolving mutates nothing.
type Resolver struct {
	index          IndexClient
	scanner        EnvScanner
	defaultChannel string
	logger         *slog.Logger
}

// New creates a resolver. defaultChannel falls back to DefaultChannel.
func New(index IndexClient, scanner EnvScanner, defaultChannel string, logger *slog.Logger) *Resolver {
	if defaultChannel == "" {
		defaultChannel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{index: index, scanner: scanner, defaultChannel: defaultChannel, logger: logger}
}

// Resolve fetches the published versions of the query's package, filters
// them, and relates them to the version the caller is running.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*QueryResult, error) {
	current, err := version.Parse(q.Current)
	if err != nil {
		return nil, fmt.Errorf("current version %q: %w", q.Current, err)
	}

	channels := q.Channels
	if len(channels) == 0 {
		channels = []string{r.defaultChannel}
	}

	status := make(map[string]string)
	var files []anaconda.PackageFile
	failures := 0
	for _, channel := range channels {
		channelFiles, err := r.index.PackageFiles(ctx, channel, q.Package)
		if err != nil {
			r.logger.Warn("channel query failed", "channel", channel, "error", err)
			status[channel] = err.Error()
			failures++
			continue
		}
		files = append(files, channelFiles...)
	}
	if failures == len(channels) {
		return nil, fmt.Errorf("%w: %s", ErrChannelUnavailable, strings.Join(channels, ", "))
	}

	versions := r.collectVersions(files, q.Build, q.IncludeDev)

	result := &QueryResult{
		CurrentVersion: current.String(),
		FoundVersions:  []string{},
		Status:         status,
	}

	version.Sort(versions)
	result.AvailableVersions = newestFirst(versions)

	if latest, ok := version.Latest(versions); ok {
		result.LatestVersion = latest.String()
	}
	for _, v := range versions {
		if v.Compare(current) > 0 {
			result.FoundVersions = append(result.FoundVersions, v.String())
		}
	}
	result.Update = len(result.FoundVersions) > 0
	result.PreviousVersion = previousStable(versions, current)

	if result.Update {
		latestFound := result.FoundVersions[len(result.FoundVersions)-1]
		installed, err := r.isInstalled(q.Package, latestFound)
		if err != nil {
			return nil, fmt.Errorf("scan installed versions: %w", err)
		}
		result.Installed = installed
	}

	return result, nil
}

// collectVersions turns index files into a deduplicated version list,
// applying the build glob and the stable-only filter.
func (r *Resolver) collectVersions(files []anaconda.PackageFile, buildGlob string, includeDev bool) []version.Version {
	buildsByVersion := make(map[string][]string)
	for _, f := range files {
		buildsByVersion[f.Version] = append(buildsByVersion[f.Version], f.Build)
	}

	var versions []version.Version
	for raw, builds := range buildsByVersion {
		if buildGlob != "" && !anyBuildMatches(builds, buildGlob) {
			continue
		}
		v, err := version.Parse(raw)
		if err != nil {
			r.logger.Debug("dropping unparseable published version", "version", raw)
			continue
		}
		if !includeDev && !v.IsStable() {
			continue
		}
		versions = append(versions, v)
	}
	return versions
}

// anyBuildMatches reports whether some build satisfies the glob. A build
// the index did not report cannot be disproved and counts as matching. A
// glob without wildcards matches as a substring, the way pinned build
// strings are published.
func anyBuildMatches(builds []string, glob string) bool {
	if !strings.ContainsAny(glob, "*?[") {
		glob = "*" + glob + "*"
	}
	for _, build := range builds {
		if build == "" {
			return true
		}
		if ok, err := path.Match(glob, build); err == nil && ok {
			return true
		}
	}
	return false
}

// previousStable returns the greatest stable version strictly below
// current, or nil when there is none.
func previousStable(sorted []version.Version, current version.Version) *string {
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Compare(current) < 0 && sorted[i].IsStable() {
			s := sorted[i].String()
			return &s
		}
	}
	return nil
}

func (r *Resolver) isInstalled(pkg, target string) (bool, error) {
	envs, err := r.scanner.InstalledVersions(pkg)
	if err != nil {
		return false, err
	}
	want, err := version.Parse(target)
	if err != nil {
		return false, err
	}
	for _, env := range envs {
		if env.Version.Compare(want) == 0 {
			return true, nil
		}
	}
	return false, nil
}

func newestFirst(sorted []version.Version) []string {
	out := make([]string, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		out = append(out, sorted[i].String())
	}
	return out
}
