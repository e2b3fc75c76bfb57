// Package version implements the conda-style version grammar used by the
// managed application's packages: dot-separated numeric release segments
// optionally followed by a pre-release suffix (a/alpha, b/beta, rc/c) or a
// dev suffix. Pre-releases order before their final release, dev builds
// order after theirs, and neither counts as stable.
package version

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidVersion is returned when a string does not follow the version grammar.
var ErrInvalidVersion = errors.New("invalid version")

// Pre-release phases in ascending precedence.
const (
	phaseAlpha = iota
	phaseBeta
	phaseRC
)

// phases maps suffix spellings to their phase. Longer spellings must be
// matched before their single-letter forms.
var phases = []struct {
	token string
	phase int
}{
	{"alpha", phaseAlpha},
	{"beta", phaseBeta},
	{"rc", phaseRC},
	{"a", phaseAlpha},
	{"b", phaseBeta},
	{"c", phaseRC},
}

// Version is a parsed, comparable version. The zero value is not valid;
// obtain instances through Parse or MustParse.
type Version struct {
	original string
	release  []int
	pre      *preRelease
	dev      *int
}

type preRelease struct {
	phase int
	num   int
}

// Parse parses s under the version grammar. It accepts forms like "0.4.17",
// "0.4.17rc1", "0.4.17b0", "0.4.17alpha", and "0.4.17dev0", with an optional
// ".", "-", or "_" before the suffix.
func Parse(s string) (Version, error) {
	v := Version{original: s}
	rest := strings.ToLower(strings.TrimSpace(s))
	if rest == "" {
		return Version{}, fmt.Errorf("parse version %q: %w", s, ErrInvalidVersion)
	}

	release, rest, err := parseRelease(rest)
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	v.release = release

	if rest == "" {
		return v, nil
	}

	// A single separator may precede the suffix.
	if rest[0] == '.' || rest[0] == '-' || rest[0] == '_' {
		rest = rest[1:]
	}

	if after, ok := strings.CutPrefix(rest, "dev"); ok {
		n, err := parseSuffixNumber(after)
		if err != nil {
			return Version{}, fmt.Errorf("parse version %q: %w", s, err)
		}
		v.dev = &n
		return v, nil
	}

	for _, p := range phases {
		after, ok := strings.CutPrefix(rest, p.token)
		if !ok {
			continue
		}
		n, err := parseSuffixNumber(after)
		if err != nil {
			return Version{}, fmt.Errorf("parse version %q: %w", s, err)
		}
		v.pre = &preRelease{phase: p.phase, num: n}
		return v, nil
	}

	return Version{}, fmt.Errorf("parse version %q: %w", s, ErrInvalidVersion)
}

// MustParse parses s and panics on failure. For tests and constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parseRelease(s string) ([]int, string, error) {
	var release []int
	for {
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 0 {
			return nil, "", ErrInvalidVersion
		}
		n, err := strconv.Atoi(s[:i])
		if err != nil {
			return nil, "", ErrInvalidVersion
		}
		release = append(release, n)
		s = s[i:]

		// Another numeric segment only follows a dot that leads with a
		// digit; ".dev0" style suffixes are left for the suffix parser.
		if len(s) >= 2 && s[0] == '.' && s[1] >= '0' && s[1] <= '9' {
			s = s[1:]
			continue
		}
		return release, s, nil
	}
}

func parseSuffixNumber(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, ErrInvalidVersion
	}
	return n, nil
}

// String returns the original string the version was parsed from.
func (v Version) String() string {
	return v.original
}

// IsStable reports whether the version carries neither a pre-release nor a
// dev suffix.
func (v Version) IsStable() bool {
	return v.pre == nil && v.dev == nil
}

// IsDev reports whether the version carries a dev suffix.
func (v Version) IsDev() bool {
	return v.dev != nil
}

// IsPrerelease reports whether the version carries a pre-release suffix.
func (v Version) IsPrerelease() bool {
	return v.pre != nil
}

// Compare returns -1, 0, or +1 when v orders before, equal to, or after o.
// Release segments compare numerically with missing segments treated as
// zero; at equal release, pre-release < final < dev.
func (v Version) Compare(o Version) int {
	for i := 0; i < max(len(v.release), len(o.release)); i++ {
		a, b := 0, 0
		if i < len(v.release) {
			a = v.release[i]
		}
		if i < len(o.release) {
			b = o.release[i]
		}
		if c := cmpInt(a, b); c != 0 {
			return c
		}
	}

	if c := cmpInt(v.class(), o.class()); c != 0 {
		return c
	}
	switch {
	case v.pre != nil:
		if c := cmpInt(v.pre.phase, o.pre.phase); c != 0 {
			return c
		}
		return cmpInt(v.pre.num, o.pre.num)
	case v.dev != nil:
		return cmpInt(*v.dev, *o.dev)
	default:
		return 0
	}
}

// class places a version in its ordering band at equal release.
func (v Version) class() int {
	switch {
	case v.pre != nil:
		return -1
	case v.dev != nil:
		return 1
	default:
		return 0
	}
}

// Less reports whether v orders strictly before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Sort orders versions ascending in place.
func Sort(versions []Version) {
	slices.SortFunc(versions, Version.Compare)
}

// Latest returns the greatest version in versions, or false when empty.
func Latest(versions []Version) (Version, bool) {
	if len(versions) == 0 {
		return Version{}, false
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if latest.Less(v) {
			latest = v
		}
	}
	return latest, true
}
