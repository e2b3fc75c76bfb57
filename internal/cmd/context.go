package cmd

import (
	"context"

	"github.com/jmgilman/constructor-manager/internal/config"
	"github.com/jmgilman/constructor-manager/internal/manager"
	"github.com/jmgilman/constructor-manager/internal/prefix"
)

type contextKey string

const (
	configKey  contextKey = "config"
	loaderKey  contextKey = "loader"
	managerKey contextKey = "manager"
	layoutKey  contextKey = "layout"
)

// WithConfig adds the config to the context.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// ConfigFromContext retrieves the config from context.
func ConfigFromContext(ctx context.Context) *config.Config {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok {
		return nil
	}
	return cfg
}

// WithLoader adds the config loader to the context.
func WithLoader(ctx context.Context, loader *config.Loader) context.Context {
	return context.WithValue(ctx, loaderKey, loader)
}

// LoaderFromContext retrieves the config loader from context.
func LoaderFromContext(ctx context.Context) *config.Loader {
	loader, ok := ctx.Value(loaderKey).(*config.Loader)
	if !ok {
		return nil
	}
	return loader
}

// WithManager adds the update manager to the context.
func WithManager(ctx context.Context, mgr *manager.Manager) context.Context {
	return context.WithValue(ctx, managerKey, mgr)
}

// ManagerFromContext retrieves the update manager from context.
func ManagerFromContext(ctx context.Context) *manager.Manager {
	mgr, ok := ctx.Value(managerKey).(*manager.Manager)
	if !ok {
		return nil
	}
	return mgr
}

// WithLayout adds the installation layout to the context.
func WithLayout(ctx context.Context, layout *prefix.Layout) context.Context {
	return context.WithValue(ctx, layoutKey, layout)
}

// LayoutFromContext retrieves the installation layout from context.
func LayoutFromContext(ctx context.Context) *prefix.Layout {
	layout, ok := ctx.Value(layoutKey).(*prefix.Layout)
	if !ok {
		return nil
	}
	return layout
}
