package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmgilman/constructor-manager/internal/prefix"
)

// EnvScanner lists the on-disk environments of a package.
type EnvScanner interface {
	Environments(pkg string) ([]prefix.Environment, error)
}

// ReconcileReport lists the repairs applied by one reconcile pass.
type ReconcileReport struct {
	// Adopted are sentineled environments that had no record; a ready
	// record was created (environment made by an older tool).
	Adopted []string `json:"adopted,omitempty"`

	// Repaired are records upgraded to ready because the sentinel exists
	// (crash after sentinel write, before the record update).
	Repaired []string `json:"repaired,omitempty"`

	// Failed are records claiming ready/launched whose sentinel is gone
	// (crash mid-cleanup).
	Failed []string `json:"failed,omitempty"`

	// Corrupted are keys with more than one sentineled environment; the
	// conservative resolution (record failed) was applied.
	Corrupted []CorruptionError `json:"corrupted,omitempty"`

	// Abandoned are environment prefixes with neither sentinel nor record,
	// candidates for the next clean.
	Abandoned []string `json:"abandoned,omitempty"`
}

// Empty reports whether the pass found nothing to repair.
func (r *ReconcileReport) Empty() bool {
	return len(r.Adopted) == 0 && len(r.Repaired) == 0 && len(r.Failed) == 0 &&
		len(r.Corrupted) == 0 && len(r.Abandoned) == 0
}

// Reconciler repairs disagreements between records and on-disk sentinels
// after a crash. The sentinel is the ground truth for "installed": a record
// is upgraded when its sentinel exists and downgraded when it is gone.
type Reconciler struct {
	store   Store
	scanner EnvScanner
	pkg     string
	logger  *slog.Logger
}

// NewReconciler creates a reconciler for one package's environments.
func NewReconciler(store Store, scanner EnvScanner, pkg string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, scanner: scanner, pkg: pkg, logger: logger}
}

// Reconcile runs one repair pass and reports what changed.
func (r *Reconciler) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	envs, err := r.scanner.Environments(r.pkg)
	if err != nil {
		return nil, fmt.Errorf("scan environments: %w", err)
	}
	records, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	recordsByName := make(map[string][]*Record)
	for i := range records {
		if records[i].Package != r.pkg {
			continue
		}
		recordsByName[records[i].Name] = append(recordsByName[records[i].Name], &records[i])
	}

	// Group sentineled environments by environment name. Quarantined copies
	// keep their conda-meta record, so two directories can resolve to the
	// same name.
	sentineled := make(map[string][]prefix.Environment)
	for _, env := range envs {
		if !env.Sentinel {
			continue
		}
		if env.Version.String() == "" {
			r.logger.Warn("sentineled environment with unknown version", "prefix", env.Prefix)
			continue
		}
		name := r.pkg + "-" + env.Version.String()
		sentineled[name] = append(sentineled[name], env)
	}

	report := &ReconcileReport{}

	for name, group := range sentineled {
		if len(group) > 1 {
			if err := r.markCorrupted(ctx, name, group, recordsByName[name], report); err != nil {
				return nil, err
			}
			continue
		}

		env := group[0]
		matched := recordsByName[name]
		if len(matched) == 0 {
			record := &Record{
				Key:     name,
				Name:    name,
				Package: r.pkg,
				Version: env.Version.String(),
				Build:   env.Build,
				Path:    env.Prefix,
				Status:  StatusReady,
			}
			if err := r.store.Put(ctx, record); err != nil {
				return nil, fmt.Errorf("adopt environment %s: %w", name, err)
			}
			r.logger.Info("adopted unrecorded environment", "name", name)
			report.Adopted = append(report.Adopted, name)
			continue
		}
		for _, record := range matched {
			if record.Status.Installed() {
				continue
			}
			record.Status = StatusReady
			if err := r.store.Put(ctx, record); err != nil {
				return nil, fmt.Errorf("repair record %s: %w", record.Key, err)
			}
			r.logger.Info("repaired record to ready", "key", record.Key, "reason", "sentinel present")
			report.Repaired = append(report.Repaired, record.Key)
		}
	}

	// Records claiming a finished environment whose sentinel is gone.
	for i := range records {
		record := &records[i]
		if record.Package != r.pkg || !record.Status.Installed() {
			continue
		}
		if len(sentineled[record.Name]) > 0 {
			continue
		}
		record.Status = StatusFailed
		if err := r.store.Put(ctx, record); err != nil {
			return nil, fmt.Errorf("downgrade record %s: %w", record.Key, err)
		}
		r.logger.Warn("downgraded record to failed", "key", record.Key, "reason", "sentinel missing")
		report.Failed = append(report.Failed, record.Key)
	}

	// Environments with neither sentinel nor record are cleanup candidates.
	for _, env := range envs {
		if env.Sentinel {
			continue
		}
		name := r.pkg + "-" + env.Version.String()
		if env.Version.String() != "" && len(recordsByName[name]) > 0 {
			continue
		}
		report.Abandoned = append(report.Abandoned, env.Prefix)
	}

	return report, nil
}

// markCorrupted applies the conservative resolution for duplicate
// sentineled environments: the record (created if absent) goes failed,
// never both-ready.
func (r *Reconciler) markCorrupted(ctx context.Context, name string, group []prefix.Environment, matched []*Record, report *ReconcileReport) error {
	corruption := CorruptionError{
		Key:    name,
		Detail: fmt.Sprintf("%d sentineled environments share this key", len(group)),
	}
	r.logger.Error("state corruption detected", "error", &corruption)

	if len(matched) == 0 {
		env := group[0]
		matched = []*Record{{
			Key:     name,
			Name:    name,
			Package: r.pkg,
			Version: env.Version.String(),
			Build:   env.Build,
			Path:    env.Prefix,
		}}
	}
	for _, record := range matched {
		record.Status = StatusFailed
		if err := r.store.Put(ctx, record); err != nil {
			return fmt.Errorf("mark corrupted record %s: %w", record.Key, err)
		}
	}
	report.Corrupted = append(report.Corrupted, corruption)
	return nil
}
