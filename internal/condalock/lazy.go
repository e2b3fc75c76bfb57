package condalock

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// binaryResolver locates the conda-lock executable.
type binaryResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// LazyClient defers binary resolution to first use, so operations that never
// touch conda-lock do not trigger the install offer.
type LazyClient struct {
	resolver binaryResolver
	cfg      ClientConfig

	mu     sync.Mutex
	client *Client
}

// NewLazyClient returns a client that locates the conda-lock binary through
// resolver on first use. cfg.Binary is ignored; resolution supplies it.
func NewLazyClient(resolver binaryResolver, cfg ClientConfig) *LazyClient {
	return &LazyClient{resolver: resolver, cfg: cfg}
}

// Generate solves env into lockfile. See Client.Generate.
func (l *LazyClient) Generate(ctx context.Context, env EnvironmentFile, lockfile string, output io.Writer) error {
	client, err := l.get(ctx)
	if err != nil {
		return err
	}
	return client.Generate(ctx, env, lockfile, output)
}

// InstallLockfile materializes lockfile into prefix. See Client.InstallLockfile.
func (l *LazyClient) InstallLockfile(ctx context.Context, prefix, lockfile string, output io.Writer) error {
	client, err := l.get(ctx)
	if err != nil {
		return err
	}
	return client.InstallLockfile(ctx, prefix, lockfile, output)
}

func (l *LazyClient) get(ctx context.Context) (*Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return l.client, nil
	}
	binary, err := l.resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("locate conda-lock: %w", err)
	}
	cfg := l.cfg
	cfg.Binary = binary
	l.client = NewClient(cfg)
	return l.client, nil
}
