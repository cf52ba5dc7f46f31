package store

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/killcore/killcore/internal/evolution"
)

// ErrIncompatibleSchema is returned for records written by a newer schema.
var ErrIncompatibleSchema = errors.New("incompatible record schema")

// CheckSchema verifies a record's schema version can be read by this build.
// Records without a version predate versioning and are accepted.
func CheckSchema(version string) error {
	if version == "" {
		return nil
	}

	current, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: invalid schema version %q", ErrIncompatibleSchema, version)
	}

	supported, err := semver.NewVersion(evolution.SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid supported schema version: %s", evolution.SchemaVersion)
	}

	if current.GreaterThan(supported) {
		return fmt.Errorf("%w: record schema %s, supported %s",
			ErrIncompatibleSchema, version, evolution.SchemaVersion)
	}
	return nil
}
