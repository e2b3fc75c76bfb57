package conda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmgilman/constructor-manager/internal/exec"
)

// diagnosticLines caps how much subprocess stderr is folded into an error;
// solver output can run to thousands of lines.
const diagnosticLines = 20

// Client invokes the conda-compatible CLI (conda or mamba) as a subprocess.
// Every mutating invocation is a single pass/fail operation; no partial
// progress is observable within one call.
type Client struct {
	executor  exec.Executor
	binary    string
	timeout   time.Duration
	extraArgs []string
}

// ClientConfig configures NewClient.
type ClientConfig struct {
	// Binary selects the CLI: BinaryAuto (mamba preferred, conda fallback),
	// one of the known binary names, or an explicit path.
	Binary string

	// Timeout limits each subprocess invocation (0 = no limit). Expiry is
	// reported as an ordinary invocation failure.
	Timeout time.Duration

	// ExtraArgs are appended to every mutating invocation.
	ExtraArgs []string

	// Executor runs the subprocess. Defaults to exec.New().
	Executor exec.Executor
}

// NewClient resolves the package-manager binary and returns a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	executor := cfg.Executor
	if executor == nil {
		executor = exec.New()
	}
	binary, err := resolveBinary(executor, cfg.Binary)
	if err != nil {
		return nil, err
	}
	return &Client{
		executor:  executor,
		binary:    binary,
		timeout:   cfg.Timeout,
		extraArgs: cfg.ExtraArgs,
	}, nil
}

func resolveBinary(executor exec.Executor, mode string) (string, error) {
	switch mode {
	case "", BinaryAuto:
		for _, name := range []string{BinaryMamba, BinaryConda} {
			if path, err := executor.LookPath(name); err == nil {
				return path, nil
			}
		}
		return "", fmt.Errorf("%w: tried %s, %s", ErrBinaryNotFound, BinaryMamba, BinaryConda)
	default:
		path, err := executor.LookPath(mode)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, mode)
		}
		return path, nil
	}
}

// Binary returns the resolved binary path.
func (c *Client) Binary() string {
	return c.binary
}

// Create makes a new environment at prefix with the given match specs.
// Subprocess output streams to output when non-nil.
func (c *Client) Create(ctx context.Context, prefix string, specs, channels []string, output io.Writer) error {
	op := fmt.Sprintf("create environment %s", filepath.Base(prefix))
	return c.run(ctx, op, buildCreateArgs(prefix, specs, channels, c.extraArgs), output)
}

// Install adds the given match specs to an existing environment at prefix.
func (c *Client) Install(ctx context.Context, prefix string, specs, channels []string, output io.Writer) error {
	op := fmt.Sprintf("install %s into %s", strings.Join(specs, " "), filepath.Base(prefix))
	return c.run(ctx, op, buildInstallArgs(prefix, specs, channels, c.extraArgs), output)
}

// Remove deletes the environment at prefix and everything in it.
func (c *Client) Remove(ctx context.Context, prefix string, output io.Writer) error {
	op := fmt.Sprintf("remove environment %s", filepath.Base(prefix))
	return c.run(ctx, op, buildRemoveArgs(prefix, c.extraArgs), output)
}

// ListPackages reports the packages installed in the environment at prefix.
func (c *Client) ListPackages(ctx context.Context, prefix string) ([]Package, error) {
	result, err := c.executor.Run(ctx, &exec.RunOptions{
		Name:    c.binary,
		Args:    buildListArgs(prefix),
		Timeout: c.timeout,
	})
	if err != nil {
		return nil, cliError("list packages in "+filepath.Base(prefix), resultStderr(result), err)
	}

	var packages []Package
	if err := json.Unmarshal(result.Stdout, &packages); err != nil {
		return nil, fmt.Errorf("parse package list: %w", err)
	}
	return packages, nil
}

// Info reports platform and prefix information from the package manager.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	result, err := c.executor.Run(ctx, &exec.RunOptions{
		Name:    c.binary,
		Args:    buildInfoArgs(),
		Timeout: c.timeout,
	})
	if err != nil {
		return nil, cliError("query package manager info", resultStderr(result), err)
	}

	var info Info
	if err := json.Unmarshal(result.Stdout, &info); err != nil {
		return nil, fmt.Errorf("parse package manager info: %w", err)
	}
	return &info, nil
}

// run executes one mutating invocation, streaming output when requested and
// folding trailing stderr into the returned error.
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
	if output == nil {
		text = resultStderr(result)
	}
	return cliError(operation, text, err)
}

// cliError formats an error from the package-manager CLI, including the tail
// of stderr when available.
func cliError(operation, stderr string, err error) error {
	stderr = strings.TrimSpace(stderr)
	if stderr != "" {
		return fmt.Errorf("%s: %w: %s", operation, err, tailLines(stderr, diagnosticLines))
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func resultStderr(result *exec.Result) string {
	if result == nil {
		return ""
	}
	return string(result.Stderr)
}

func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
