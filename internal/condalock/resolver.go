package condalock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/jmgilman/constructor-manager/internal/exec"
	"github.com/jmgilman/constructor-manager/internal/prefix"
	"github.com/jmgilman/constructor-manager/internal/prompt"
)

// installChannel is where conda-lock itself is published.
const installChannel = "conda-forge"

// Installer installs packages into an existing prefix; the conda client
// satisfies it.
type Installer interface {
	Install(ctx context.Context, prefix string, specs, channels []string, output io.Writer) error
}

// Resolver locates the conda-lock binary, offering to install it into the
// installation's base prefix when missing.
type Resolver struct {
	executor exec.Executor
	conda    Installer
	prompter prompt.Prompter
	layout   *prefix.Layout
	path     string
}

// ResolverConfig configures NewResolver.
type ResolverConfig struct {
	// Path is the configured conda-lock location; may be empty.
	Path string

	Conda    Installer
	Prompter prompt.Prompter
	Layout   *prefix.Layout

	// Executor runs subprocesses. Defaults to exec.New().
	Executor exec.Executor
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	executor := cfg.Executor
	if executor == nil {
		executor = exec.New()
	}
	return &Resolver{
		executor: executor,
		conda:    cfg.Conda,
		prompter: cfg.Prompter,
		layout:   cfg.Layout,
		path:     cfg.Path,
	}
}

// Resolve returns the path to the conda-lock binary. It checks in order:
//
//  1. the configured path
//  2. conda-lock in PATH
//  3. a previous install into the base prefix
//
// and otherwise offers to install conda-lock into the base prefix.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	if r.path != "" {
		if _, err := os.Stat(r.path); err == nil {
			return r.path, nil
		}
		// Configured but gone; fall through to discovery.
	}

	if path, err := r.executor.LookPath(binaryName); err == nil {
		return path, nil
	}

	installed := r.prefixBinary()
	if _, err := os.Stat(installed); err == nil {
		return installed, nil
	}

	confirmed, err := r.prompter.Confirm(
		"Install conda-lock?",
		"conda-lock is required to snapshot environments for restore.\nInstall it into the application's base prefix?",
	)
	if err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	if !confirmed {
		return "", declinedError()
	}

	return r.install(ctx)
}

func (r *Resolver) install(ctx context.Context) (string, error) {
	r.prompter.Print("Installing conda-lock...")

	if err := r.conda.Install(ctx, r.layout.Root(), []string{binaryName}, []string{installChannel}, nil); err != nil {
		return "", fmt.Errorf("install conda-lock: %w", err)
	}

	binPath := r.prefixBinary()
	if err := r.validate(ctx, binPath); err != nil {
		return "", fmt.Errorf("validate installation: %w", err)
	}

	r.prompter.Print("conda-lock installed successfully.")
	return binPath, nil
}

// validate verifies the binary works by running --version.
func (r *Resolver) validate(ctx context.Context, path string) error {
	result, err := r.executor.Run(ctx, &exec.RunOptions{
		Name: path,
		Args: []string{"--version"},
	})
	if err != nil {
		if result != nil && len(result.Stderr) > 0 {
			return fmt.Errorf("conda-lock --version failed: %s", strings.TrimSpace(string(result.Stderr)))
		}
		return fmt.Errorf("conda-lock --version failed: %w", err)
	}
	return nil
}

// prefixBinary is where a base-prefix install lands.
func (r *Resolver) prefixBinary() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(r.layout.Root(), "Scripts", binaryName+".exe")
	}
	return filepath.Join(r.layout.Root(), "bin", binaryName)
}

func declinedError() error {
	return errors.New(`conda-lock not found

conda-lock is required to snapshot environments for restore.

To install it yourself:
  conda install -c conda-forge conda-lock

Then run the command again.`)
}
