package prefix

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jmgilman/constructor-manager/internal/version"
)

// Environment describes one on-disk environment belonging to a package.
type Environment struct {
	Name     string // environment directory name
	Prefix   string // absolute prefix path
	Version  version.Version
	Build    string
	Sentinel bool
}

// Environments lists the environments under envs/ that belong to pkg: the
// directory name is "<pkg>-..." and a conda-meta directory exists. Version
// and build come from the package's own conda-meta record when present,
// falling back to parsing the directory-name suffix.
func (l *Layout) Environments(pkg string) ([]Environment, error) {
	entries, err := os.ReadDir(l.EnvsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan environments: %w", err)
	}

	var envs []Environment
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		suffix, ok := splitEnvName(entry.Name(), pkg)
		if !ok {
			continue
		}
		envPrefix := l.EnvPrefix(entry.Name())
		if !isCondaPrefix(envPrefix) {
			continue
		}

		env := Environment{
			Name:     entry.Name(),
			Prefix:   envPrefix,
			Sentinel: HasSentinel(envPrefix, pkg),
		}
		if verStr, build, ok := metaRecord(envPrefix, pkg); ok {
			if v, err := version.Parse(verStr); err == nil {
				env.Version = v
				env.Build = build
			}
		} else if v, err := version.Parse(suffix); err == nil {
			env.Version = v
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// InstalledVersions reports the versions of pkg with a finished environment:
// sentinel present and a conda-meta record for the package itself.
func (l *Layout) InstalledVersions(pkg string) ([]Environment, error) {
	envs, err := l.Environments(pkg)
	if err != nil {
		return nil, err
	}
	var installed []Environment
	for _, env := range envs {
		if env.Sentinel && env.Version.String() != "" {
			installed = append(installed, env)
		}
	}
	return installed, nil
}

// BrokenEnvironments reports prefixes of environments that belong to pkg and
// have a conda-meta directory but no sentinel: leftovers of interrupted
// installs or quarantined copies, safe to delete.
func (l *Layout) BrokenEnvironments(pkg string) ([]string, error) {
	envs, err := l.Environments(pkg)
	if err != nil {
		return nil, err
	}
	var broken []string
	for _, env := range envs {
		if !env.Sentinel {
			broken = append(broken, env.Prefix)
		}
	}
	return broken, nil
}

// HasPackageRecord reports whether envPrefix's conda-meta records pkg at
// exactly ver.
func HasPackageRecord(envPrefix, pkg, ver string) bool {
	got, _, ok := metaRecord(envPrefix, pkg)
	return ok && got == ver
}

// Quarantine renames an environment directory aside with a random suffix so
// a partially removed environment never shadows its key. The renamed copy
// has no sentinel, so the next clean sweeps it.
func Quarantine(envPrefix string) (string, error) {
	target := envPrefix + "-" + uuid.NewString()
	if err := os.Rename(envPrefix, target); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", envPrefix, err)
	}
	return target, nil
}

func splitEnvName(dirName, pkg string) (string, bool) {
	suffix, ok := strings.CutPrefix(dirName, pkg+"-")
	if !ok || suffix == "" {
		return "", false
	}
	return suffix, true
}

// metaRecord locates the conda-meta record "<pkg>-<version>-<build>.json"
// for pkg inside envPrefix.
func metaRecord(envPrefix, pkg string) (ver, build string, ok bool) {
	entries, err := os.ReadDir(filepath.Join(envPrefix, condaMetaDir))
	if err != nil {
		return "", "", false
	}
	for _, entry := range entries {
		name, isJSON := strings.CutSuffix(entry.Name(), ".json")
		if !isJSON {
			continue
		}
		i := strings.LastIndexByte(name, '-')
		if i < 0 {
			continue
		}
		j := strings.LastIndexByte(name[:i], '-')
		if j < 0 || name[:j] != pkg {
			continue
		}
		return name[j+1 : i], name[i+1:], true
	}
	return "", "", false
}
