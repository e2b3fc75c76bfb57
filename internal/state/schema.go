package state

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is stamped on every record this build writes. Records from
// the same major schema remain readable; anything newer is refused so an
// older tool never misreads a future record.
const SchemaVersion = "1.0.0"

var schemaConstraint = mustConstraint("^" + SchemaVersion)

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// checkSchema validates a record's schema_version against the supported
// constraint. Records written before the field existed are treated as the
// first schema.
func checkSchema(recordVersion string) error {
	if recordVersion == "" {
		recordVersion = "1.0.0"
	}
	v, err := semver.NewVersion(recordVersion)
	if err != nil {
		return fmt.Errorf("%w: invalid schema version %q: %v", ErrIncompatibleSchema, recordVersion, err)
	}
	if !schemaConstraint.Check(v) {
		return fmt.Errorf("%w: record schema %s, supported ^%s", ErrIncompatibleSchema, recordVersion, SchemaVersion)
	}
	return nil
}
