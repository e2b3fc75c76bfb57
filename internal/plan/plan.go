// Package plan builds installation plans: ordered, immutable step lists the
// installation executor consumes exactly once. A step that can be retried a
// different way carries its alternative as data in Fallback rather than as
// retry logic in the executor.
package plan

import (
	"github.com/jmgilman/constructor-manager/internal/conda"
)

// Kind identifies what one step does.
type Kind string

const (
	KindCreateEnv      Kind = "create-env"
	KindInstallPackage Kind = "install-package"
	KindInstallPlugin  Kind = "install-plugin"
	KindWriteSentinel  Kind = "write-sentinel"
	KindRemoveEnv      Kind = "remove-env"
)

// Step is one package-manager invocation (or sentinel write) with a single
// pass/fail outcome.
type Step struct {
	Kind     Kind
	Target   string   // environment name, or plugin name for install-plugin
	Specs    []string // match specs for create/install kinds
	Channels []string
	Lockfile string // lock file path for install-package
	Fallback []Step // alternative branch tried when this step fails
}

// Plan is an ordered list of steps plus the identity of the environment
// they act on.
type Plan struct {
	Key     string
	Name    string
	Package string
	Version string
	Build   string
	Plugins []string
	Steps   []Step
}

// Build produces the update plan for a pinned spec: one create-env step
// installing the application together with all plugins (the fast path),
// falling back to creating the base environment and installing plugins one
// by one, in the given order. The sentinel write is always last and runs
// only if environment creation succeeded.
func Build(spec conda.VersionSpec, plugins, channels []string) Plan {
	name := spec.EnvName()

	joint := Step{
		Kind:     KindCreateEnv,
		Target:   name,
		Specs:    append([]string{spec.MatchSpec()}, plugins...),
		Channels: channels,
	}
	if len(plugins) > 0 {
		fallback := []Step{{
			Kind:     KindCreateEnv,
			Target:   name,
			Specs:    []string{spec.MatchSpec()},
			Channels: channels,
		}}
		for _, plugin := range plugins {
			fallback = append(fallback, Step{
				Kind:     KindInstallPlugin,
				Target:   plugin,
				Specs:    []string{plugin},
				Channels: channels,
			})
		}
		joint.Fallback = fallback
	}

	return Plan{
		Key:     spec.Key(),
		Name:    name,
		Package: spec.Name,
		Version: spec.Version,
		Build:   spec.Build,
		Plugins: plugins,
		Steps: []Step{
			joint,
			{Kind: KindWriteSentinel, Target: name},
		},
	}
}

// BuildRemoval produces the plan that removes a spec's environment.
func BuildRemoval(spec conda.VersionSpec) Plan {
	name := spec.EnvName()
	return Plan{
		Key:     spec.Key(),
		Name:    name,
		Package: spec.Name,
		Version: spec.Version,
		Build:   spec.Build,
		Steps: []Step{
			{Kind: KindRemoveEnv, Target: name},
		},
	}
}

// BuildFromLockfile produces the restore plan: an empty environment, the
// locked package set installed into it, then the sentinel.
func BuildFromLockfile(spec conda.VersionSpec, lockfile string, channels []string) Plan {
	name := spec.EnvName()
	return Plan{
		Key:     spec.Key(),
		Name:    name,
		Package: spec.Name,
		Version: spec.Version,
		Build:   spec.Build,
		Steps: []Step{
			{Kind: KindCreateEnv, Target: name, Channels: channels},
			{Kind: KindInstallPackage, Target: name, Lockfile: lockfile},
			{Kind: KindWriteSentinel, Target: name},
		},
	}
}
