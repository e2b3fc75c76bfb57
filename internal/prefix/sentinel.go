package prefix

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jmgilman/constructor-manager/internal/conda"
)

// SentinelPath returns the sentinel file path for the package in the
// environment at envPrefix. The file lives inside conda-meta so removing
// the environment removes the marker with it.
func SentinelPath(envPrefix, pkg string) string {
	return filepath.Join(envPrefix, condaMetaDir, conda.SentinelFileName(pkg))
}

// WriteSentinel marks the environment at envPrefix as a finished
// installation of pkg. The environment must already have a conda-meta
// directory; anything without one is not a real environment.
func WriteSentinel(envPrefix, pkg string) error {
	meta := filepath.Join(envPrefix, condaMetaDir)
	info, err := os.Stat(meta)
	if err != nil {
		return fmt.Errorf("environment %s has no conda-meta: %w", envPrefix, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("environment %s has no conda-meta: not a directory", envPrefix)
	}
	if err := os.WriteFile(SentinelPath(envPrefix, pkg), nil, 0o644); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	return nil
}

// HasSentinel reports whether the environment at envPrefix carries the
// sentinel for pkg.
func HasSentinel(envPrefix, pkg string) bool {
	info, err := os.Stat(SentinelPath(envPrefix, pkg))
	return err == nil && info.Mode().IsRegular()
}

// RemoveSentinel deletes the sentinel for pkg from the environment at
// envPrefix. A missing sentinel is not an error.
func RemoveSentinel(envPrefix, pkg string) error {
	err := os.Remove(SentinelPath(envPrefix, pkg))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove sentinel: %w", err)
	}
	return nil
}
