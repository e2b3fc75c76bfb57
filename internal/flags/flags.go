// Package flags validates and renders user-supplied package-manager flags.
// Configuration may carry extra flags for conda/mamba invocations (solver
// selection, strict channel priority, proxy settings); this package turns
// the config map into argv fragments while refusing flags that would break
// the tool's control of the invocation.
package flags

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Flags represents extra package-manager flags as a key-value map.
// Values can be:
//   - string: generates --key=value
//   - bool: true generates --key, false omits the flag
//   - []string: generates --key=v for each element
type Flags map[string]any

// Sentinel errors for flag operations.
var (
	// ErrInvalidFlagValue is returned when a flag value has an unsupported type.
	ErrInvalidFlagValue = errors.New("invalid flag value type")

	// ErrReservedFlag is returned when a flag would override an argument the
	// tool must control itself.
	ErrReservedFlag = errors.New("reserved flag")
)

// reserved are flags the tool always sets (or must never see): target
// selection, confirmation, and output-format switches.
var reserved = map[string]struct{}{
	"prefix":  {},
	"p":       {},
	"name":    {},
	"n":       {},
	"yes":     {},
	"y":       {},
	"json":    {},
	"dry-run": {},
	"all":     {},
}

// FromConfig validates and normalizes config values into Flags.
// Accepts string, bool, []string, and []any (converted to []string).
func FromConfig(cfg map[string]any) (Flags, error) {
	if cfg == nil {
		return make(Flags), nil
	}

	result := make(Flags, len(cfg))
	for k, v := range cfg {
		key := strings.TrimLeft(k, "-")
		if _, ok := reserved[key]; ok {
			return nil, fmt.Errorf("%w: %s is set by the tool and cannot be configured", ErrReservedFlag, key)
		}

		switch val := v.(type) {
		case string:
			result[key] = val
		case bool:
			result[key] = val
		case []string:
			result[key] = val
		case []any:
			// Convert []any to []string (common from YAML parsing)
			strs := make([]string, 0, len(val))
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%w: %s array contains non-string value %T", ErrInvalidFlagValue, key, item)
				}
				strs = append(strs, s)
			}
			result[key] = strs
		default:
			return nil, fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidFlagValue, key, v)
		}
	}
	return result, nil
}

// ToArgs renders Flags into CLI arguments.
// Output is sorted by key for deterministic invocations.
//
// Conversion rules:
//   - string: "--key=value"
//   - bool true: "--key"
//   - bool false: (omitted)
//   - []string: "--key=v1", "--key=v2", ...
//
// Single-character keys render with one dash ("-k=v").
func ToArgs(f Flags) []string {
	if len(f) == 0 {
		return nil
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args []string
	for _, k := range keys {
		dash := "--"
		if len(k) == 1 {
			dash = "-"
		}
		switch val := f[k].(type) {
		case string:
			args = append(args, fmt.Sprintf("%s%s=%s", dash, k, val))
		case bool:
			if val {
				args = append(args, dash+k)
			}
			// false: omit entirely
		case []string:
			for _, s := range val {
				args = append(args, fmt.Sprintf("%s%s=%s", dash, k, s))
			}
		}
	}
	return args
}
