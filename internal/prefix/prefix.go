// Package prefix models the on-disk layout of a bundled installation: the
// root prefix, its environments directory, the tool's state and log
// directories, and the sentinel files marking finished environments.
package prefix

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const condaMetaDir = "conda-meta"

// ErrRootNotFound is returned when no installation root can be detected.
var ErrRootNotFound = errors.New("installation prefix not found")

// Layout resolves paths under an installation root prefix.
type Layout struct {
	root string
}

// NewLayout returns a layout rooted at root. A leading ~ is expanded to the
// user's home directory and the result is made absolute.
func NewLayout(root string) (*Layout, error) {
	if root == "" {
		return nil, errors.New("prefix root is required")
	}
	expanded, err := expandPath(root)
	if err != nil {
		return nil, fmt.Errorf("expand prefix root: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve prefix root: %w", err)
	}
	return &Layout{root: abs}, nil
}

// Root returns the absolute installation root.
func (l *Layout) Root() string {
	return l.root
}

// EnvsDir returns the directory holding per-version environments.
func (l *Layout) EnvsDir() string {
	return filepath.Join(l.root, "envs")
}

// EnvPrefix returns the prefix path for a named environment.
func (l *Layout) EnvPrefix(envName string) string {
	return filepath.Join(l.EnvsDir(), envName)
}

// StateDir returns the directory holding environment records and lock files.
func (l *Layout) StateDir() string {
	return filepath.Join(l.root, "var", "constructor-manager", "state")
}

// LogDir returns the directory holding operation logs.
func (l *Layout) LogDir() string {
	return filepath.Join(l.root, "var", "constructor-manager", "log")
}

// LockfilePath returns where the rendered lock file for envName lives.
func (l *Layout) LockfilePath(envName string) string {
	return filepath.Join(l.StateDir(), envName+".lock")
}

// ListfilePath returns where the installed-package list snapshot taken at
// lock time for envName lives.
func (l *Layout) ListfilePath(envName string) string {
	return filepath.Join(l.StateDir(), envName+".list.yml")
}

// EnsureDirs creates the state and log directories if missing.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{l.StateDir(), l.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// DetectRoot locates the installation root when none is configured: the
// directory containing the running executable's conda-meta (walking up a few
// levels covers <root>/bin placement), falling back to $CONDA_PREFIX.
func DetectRoot() (string, error) {
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		for i := 0; i < 3; i++ {
			if isCondaPrefix(dir) {
				return dir, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if p := os.Getenv("CONDA_PREFIX"); p != "" {
		return p, nil
	}
	return "", ErrRootNotFound
}

func isCondaPrefix(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, condaMetaDir))
	return err == nil && info.IsDir()
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
