// Package conda provides an abstraction over the conda package manager and
// its naming conventions: version spec strings, environment names, and a
// subprocess client for conda/mamba.
package conda

import (
	"errors"
	"strings"
)

// Sentinel errors for package-manager operations.
var (
	ErrInvalidSpec    = errors.New("invalid version spec")
	ErrBinaryNotFound = errors.New("no conda-compatible binary found")
	ErrPrefixExists   = errors.New("environment prefix already exists")
)

// Binary selection modes for the client.
const (
	BinaryAuto       = "auto"
	BinaryConda      = "conda"
	BinaryMamba      = "mamba"
	BinaryMicromamba = "micromamba"
)

// Package describes one installed package as reported by `conda list --json`.
type Package struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	BuildString string `json:"build_string"`
	Channel     string `json:"channel"`
	Platform    string `json:"platform"`
}

// Info holds the subset of `conda info --json` the tool consumes.
type Info struct {
	Platform      string `json:"platform"`
	CondaVersion  string `json:"conda_version"`
	RootPrefix    string `json:"root_prefix"`
	DefaultPrefix string `json:"default_prefix"`
}

// NormalizedName lowercases a package name and collapses runs of separator
// characters to single dashes, matching the ecosystem's name normalization.
func NormalizedName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	sep := false
	for _, r := range strings.ToLower(name) {
		if r == '-' || r == '_' || r == '.' {
			sep = true
			continue
		}
		if sep && b.Len() > 0 {
			b.WriteByte('-')
		}
		sep = false
		b.WriteRune(r)
	}
	return b.String()
}

// SentinelFileName returns the marker file name proving an environment for
// package name finished setup. The file lives in the environment's
// conda-meta directory so removing the environment removes the marker.
func SentinelFileName(name string) string {
	return "." + NormalizedName(name) + "_is_bundled_constructor"
}
