// Package condalock wraps the conda-lock command line tool: generating
// lockfiles from a rendered environment file and materializing environments
// from them.
package condalock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmgilman/constructor-manager/internal/exec"
)

const (
	binaryName = "conda-lock"

	// diagnosticLines caps how much subprocess stderr is folded into an
	// error; solver output can run to thousands of lines.
	diagnosticLines = 20
)

// EnvironmentFile is the input document conda-lock solves from.
type EnvironmentFile struct {
	Dependencies []string `yaml:"dependencies"`
	Channels     []string `yaml:"channels,omitempty"`
	Platforms    []string `yaml:"platforms,omitempty"`
}

// Client invokes conda-lock as a subprocess.
type Client struct {
	executor exec.Executor
	binary   string
	timeout  time.Duration
}

// ClientConfig configures NewClient.
type ClientConfig struct {
	// Binary is the conda-lock executable, typically from a Resolver.
	Binary string

	// Timeout limits each invocation (0 = no limit). Solves are slow;
	// budget generously.
	Timeout time.Duration

	// Executor runs the subprocess. Defaults to exec.New().
	Executor exec.Executor
}

// NewClient returns a client for the given conda-lock binary.
func NewClient(cfg ClientConfig) *Client {
	executor := cfg.Executor
	if executor == nil {
		executor = exec.New()
	}
	return &Client{executor: executor, binary: cfg.Binary, timeout: cfg.Timeout}
}

// Generate renders env to a temporary input file, solves it, and moves the
// comment-stripped result into place at lockfile. The final write is a
// rename so a half-written lockfile never shadows a good one.
func (c *Client) Generate(ctx context.Context, env EnvironmentFile, lockfile string, output io.Writer) error {
	data, err := yaml.Marshal(env)
	if err != nil {
		return fmt.Errorf("render lock input: %w", err)
	}

	dir := filepath.Dir(lockfile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create lockfile directory: %w", err)
	}
	envFile, err := os.CreateTemp(dir, "environment-*.yml")
	if err != nil {
		return fmt.Errorf("create lock input: %w", err)
	}
	envPath := envFile.Name()
	defer func() { _ = os.Remove(envPath) }()
	if _, err := envFile.Write(data); err != nil {
		_ = envFile.Close()
		return fmt.Errorf("write lock input: %w", err)
	}
	if err := envFile.Close(); err != nil {
		return fmt.Errorf("write lock input: %w", err)
	}

	tempLock := lockfile + ".tmp"
	defer func() { _ = os.Remove(tempLock) }()
	args := []string{"lock", "-f", envPath, "--lockfile", tempLock}
	if err := c.run(ctx, "generate lockfile", args, output); err != nil {
		return err
	}
	if err := stripComments(tempLock); err != nil {
		return err
	}
	if err := os.Rename(tempLock, lockfile); err != nil {
		return fmt.Errorf("move lockfile into place: %w", err)
	}
	return nil
}

// InstallLockfile materializes the locked package set into the environment
// at prefix.
func (c *Client) InstallLockfile(ctx context.Context, prefix, lockfile string, output io.Writer) error {
	op := fmt.Sprintf("install lockfile into %s", filepath.Base(prefix))
	return c.run(ctx, op, []string{"install", "-p", prefix, lockfile}, output)
}

func (c *Client) run(ctx context.Context, operation string, args []string, output io.Writer) error {
	opts := &exec.RunOptions{
		Name:    c.binary,
		Args:    args,
		Timeout: c.timeout,
	}

	var stderr bytes.Buffer
	if output != nil {
		opts.Stdout = output
		opts.Stderr = io.MultiWriter(&stderr, output)
	}

	result, err := c.executor.Run(ctx, opts)
	if err == nil {
		return nil
	}

	text := stderr.String()
	if text == "" && result != nil {
		text = string(result.Stderr)
	}
	text = strings.TrimSpace(text)
	if text != "" {
		return fmt.Errorf("%s: %w: %s", operation, err, tailLines(text, diagnosticLines))
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// stripComments removes full-line comments so lockfiles with identical
// content compare equal regardless of generation timestamps.
func stripComments(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read lockfile: %w", err)
	}
	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		kept = append(kept, line)
	}
	if err := os.WriteFile(path, []byte(strings.Join(kept, "\n")), 0o644); err != nil {
		return fmt.Errorf("write lockfile: %w", err)
	}
	return nil
}

func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
