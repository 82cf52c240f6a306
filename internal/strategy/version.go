package strategy

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the current weights profile schema version
const SchemaVersion = "1.0"

// SupportedSchemaVersions lists the schema versions Import accepts without
// migration
var SupportedSchemaVersions = []string{"1.0"}

// MigrationFunc upgrades a profile authored before the keyed version
type MigrationFunc func(*Profile) error

// migrations maps a schema version to the migration applied to profiles
// older than it
var migrations = map[string]MigrationFunc{
	"1.0": migrateLegacyAdjustments,
}

// migrateLegacyAdjustments fills the adjustment fields 1.0 introduced.
// Pre-1.0 profiles carried only the three blend weights.
func migrateLegacyAdjustments(p *Profile) error {
	defaults := DefaultProfile()
	if p.MacroFactor == 0 {
		p.MacroFactor = defaults.MacroFactor
	}
	if p.MorningTechOverlay == 0 {
		p.MorningTechOverlay = defaults.MorningTechOverlay
	}
	if p.ClosingTechOverlay == 0 {
		p.ClosingTechOverlay = defaults.ClosingTechOverlay
	}
	return nil
}

// Migrate upgrades a profile to the current schema version
func Migrate(p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if p.SchemaVersion == SchemaVersion {
		return nil
	}

	current, err := parseVersion(p.SchemaVersion)
	if err != nil {
		return err
	}
	target, err := parseVersion(SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid target schema version: %s", SchemaVersion)
	}

	if current.GreaterThan(target) {
		return fmt.Errorf("profile schema version %s is newer than supported version %s",
			p.SchemaVersion, SchemaVersion)
	}

	for _, version := range sortedMigrationVersions() {
		migrationVersion, err := parseVersion(version)
		if err != nil {
			continue
		}
		if current.LessThan(migrationVersion) {
			if err := migrations[version](p); err != nil {
				return fmt.Errorf("migration to %s failed: %w", version, err)
			}
		}
	}

	p.SchemaVersion = SchemaVersion
	return nil
}

// CheckCompatibility reports whether a profile can be migrated to the
// current schema version
func CheckCompatibility(p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if p.SchemaVersion == "" {
		return fmt.Errorf("missing schema version")
	}

	current, err := parseVersion(p.SchemaVersion)
	if err != nil {
		return err
	}
	target, err := parseVersion(SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid target schema version: %s", SchemaVersion)
	}

	if current.GreaterThan(target) {
		return fmt.Errorf("profile requires schema version %s, but only %s is supported",
			p.SchemaVersion, SchemaVersion)
	}
	if current.LessThan(target) && current.Major() != target.Major() {
		return fmt.Errorf("no migration path from version %s to %s",
			p.SchemaVersion, SchemaVersion)
	}
	return nil
}

// IsVersionSupported checks whether a schema version needs no migration.
// Patch differences within a supported major.minor are accepted.
func IsVersionSupported(version string) bool {
	for _, v := range SupportedSchemaVersions {
		if v == version {
			return true
		}
	}

	v, err := parseVersion(version)
	if err != nil {
		return false
	}
	for _, supported := range SupportedSchemaVersions {
		sv, err := parseVersion(supported)
		if err != nil {
			continue
		}
		if v.Major() == sv.Major() && v.Minor() == sv.Minor() {
			return true
		}
	}
	return false
}

// parseVersion accepts both full semver strings and the short major.minor
// form profiles are usually written with
func parseVersion(version string) (*semver.Version, error) {
	v, err := semver.NewVersion(version)
	if err == nil {
		return v, nil
	}
	v, err = semver.NewVersion(version + ".0")
	if err != nil {
		return nil, fmt.Errorf("invalid schema version: %s", version)
	}
	return v, nil
}

func sortedMigrationVersions() []string {
	versions := make([]string, 0, len(migrations))
	for v := range migrations {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		a, aerr := parseVersion(versions[i])
		b, berr := parseVersion(versions[j])
		if aerr != nil || berr != nil {
			return versions[i] < versions[j]
		}
		return a.LessThan(b)
	})
	return versions
}
