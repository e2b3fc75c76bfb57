package conda

import (
	"fmt"
	"strings"
)

// VersionSpec is an immutable description of a versioned package target:
// name, optional version, optional build-string glob, optional origin
// channel. The zero Version means "unpinned" and is resolved by the caller.
type VersionSpec struct {
	Name    string
	Version string
	Build   string
	Channel string
}

// ParseSpec parses a spec string of the form "name", "name=version", or
// "name=version=build-glob". The conda "name==version" exact form is
// accepted as an alias for "name=version".
func ParseSpec(s string) (VersionSpec, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return VersionSpec{}, fmt.Errorf("parse spec %q: %w", s, ErrInvalidSpec)
	}

	parts := strings.Split(trimmed, "=")
	if len(parts) >= 3 && parts[1] == "" {
		parts = append(parts[:1], parts[2:]...)
	}
	if len(parts) > 3 {
		return VersionSpec{}, fmt.Errorf("parse spec %q: %w", s, ErrInvalidSpec)
	}

	spec := VersionSpec{Name: parts[0]}
	if len(parts) > 1 {
		spec.Version = parts[1]
	}
	if len(parts) > 2 {
		spec.Build = parts[2]
	}

	if !validName(spec.Name) {
		return VersionSpec{}, fmt.Errorf("parse spec %q: %w", s, ErrInvalidSpec)
	}
	if len(parts) > 1 && spec.Version == "" {
		return VersionSpec{}, fmt.Errorf("parse spec %q: empty version: %w", s, ErrInvalidSpec)
	}
	if len(parts) > 2 && spec.Build == "" {
		return VersionSpec{}, fmt.Errorf("parse spec %q: empty build string: %w", s, ErrInvalidSpec)
	}

	return spec, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// String renders the spec back to its string form.
func (s VersionSpec) String() string {
	out := s.Name
	if s.Version != "" {
		out += "=" + s.Version
	}
	if s.Build != "" {
		out += "=" + s.Build
	}
	return out
}

// MatchSpec renders the spec as a conda match-spec argument. A build glob
// without wildcards is wrapped in them so partial build strings match the
// way the application's installers publish them.
func (s VersionSpec) MatchSpec() string {
	out := s.Name
	if s.Version == "" {
		return out
	}
	out += "=" + s.Version
	if s.Build == "" {
		return out
	}
	build := s.Build
	if !strings.Contains(build, "*") {
		build = "*" + build + "*"
	}
	return out + "=" + build
}

// EnvName returns the environment name for the spec: "<name>-<version>".
func (s VersionSpec) EnvName() string {
	return s.Name + "-" + s.Version
}

// Key returns the state-store key for the spec:
// "<name>-<version>" or "<name>-<version>-<build>".
func (s VersionSpec) Key() string {
	if s.Build == "" {
		return s.EnvName()
	}
	return s.EnvName() + "-" + s.Build
}

// WithVersion returns a copy of the spec pinned to version.
func (s VersionSpec) WithVersion(version string) VersionSpec {
	s.Version = version
	return s
}
