package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationError contains details about one profile validation failure
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("profile validation failed: %s", strings.Join(msgs, "; "))
}

// weightSumTolerance bounds how far the three blend weights may stray from
// summing to one.
const weightSumTolerance = 0.001

// Profile is a versioned set of decision weights. The blend weights apply to
// the base position; the macro factor scales the sentiment adjustment; the
// overlays bound the session-dependent technical adjustment.
type Profile struct {
	Name               string  `yaml:"name" json:"name"`
	Description        string  `yaml:"description,omitempty" json:"description,omitempty"`
	SchemaVersion      string  `yaml:"schema_version" json:"schema_version"`
	PolicyWeight       float64 `yaml:"policy_weight" json:"policy_weight"`
	IntlWeight         float64 `yaml:"intl_weight" json:"intl_weight"`
	SectorWeight       float64 `yaml:"sector_weight" json:"sector_weight"`
	MacroFactor        float64 `yaml:"macro_factor" json:"macro_factor"`
	MorningTechOverlay float64 `yaml:"morning_tech_overlay" json:"morning_tech_overlay"`
	ClosingTechOverlay float64 `yaml:"closing_tech_overlay" json:"closing_tech_overlay"`
}

// DefaultProfile is the policy-led blend the decision pipeline was designed
// around
func DefaultProfile() Profile {
	return Profile{
		Name:               "default",
		Description:        "Policy-led blend with standard session overlays",
		SchemaVersion:      SchemaVersion,
		PolicyWeight:       0.4,
		IntlWeight:         0.3,
		SectorWeight:       0.3,
		MacroFactor:        0.1,
		MorningTechOverlay: 0.10,
		ClosingTechOverlay: 0.05,
	}
}

// MacroTiltProfile shifts weight toward global signals: international news
// carries the policy share and the macro adjustment doubles
func MacroTiltProfile() Profile {
	return Profile{
		Name:               "macro-tilt",
		Description:        "Weights global macro and international signals over domestic policy",
		SchemaVersion:      SchemaVersion,
		PolicyWeight:       0.3,
		IntlWeight:         0.4,
		SectorWeight:       0.3,
		MacroFactor:        0.2,
		MorningTechOverlay: 0.10,
		ClosingTechOverlay: 0.05,
	}
}

// ProfileByName resolves a configured profile name to a built-in profile.
// An empty name selects the default.
func ProfileByName(name string) (Profile, error) {
	switch name {
	case "", "default":
		return DefaultProfile(), nil
	case "macro-tilt":
		return MacroTiltProfile(), nil
	}
	return Profile{}, fmt.Errorf("unknown weights profile %q (built-in: default, macro-tilt)", name)
}

// Validate checks the profile invariants, returning every issue found
func (p *Profile) Validate() error {
	var errs ValidationErrors

	if p.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "profile name is required"})
	}

	if p.SchemaVersion == "" {
		errs = append(errs, ValidationError{Field: "schema_version", Message: "schema version is required"})
	} else if !IsVersionSupported(p.SchemaVersion) {
		errs = append(errs, ValidationError{
			Field:   "schema_version",
			Message: fmt.Sprintf("unsupported schema version %s, supported: %v", p.SchemaVersion, SupportedSchemaVersions),
		})
	}

	for _, w := range []struct {
		field string
		value float64
	}{
		{"policy_weight", p.PolicyWeight},
		{"intl_weight", p.IntlWeight},
		{"sector_weight", p.SectorWeight},
	} {
		if w.value < 0 || w.value > 1 {
			errs = append(errs, ValidationError{
				Field:   w.field,
				Message: fmt.Sprintf("%.3f out of [0, 1]", w.value),
			})
		}
	}

	sum := p.PolicyWeight + p.IntlWeight + p.SectorWeight
	if sum < 1-weightSumTolerance || sum > 1+weightSumTolerance {
		errs = append(errs, ValidationError{
			Field:   "weights",
			Message: fmt.Sprintf("blend weights sum to %.3f, want 1.0", sum),
		})
	}

	if p.MacroFactor < 0 || p.MacroFactor > 0.5 {
		errs = append(errs, ValidationError{
			Field:   "macro_factor",
			Message: fmt.Sprintf("%.3f out of [0, 0.5]", p.MacroFactor),
		})
	}
	if p.MorningTechOverlay < 0 || p.MorningTechOverlay > 0.2 {
		errs = append(errs, ValidationError{
			Field:   "morning_tech_overlay",
			Message: fmt.Sprintf("%.3f out of [0, 0.2]", p.MorningTechOverlay),
		})
	}
	if p.ClosingTechOverlay < 0 || p.ClosingTechOverlay > 0.2 {
		errs = append(errs, ValidationError{
			Field:   "closing_tech_overlay",
			Message: fmt.Sprintf("%.3f out of [0, 0.2]", p.ClosingTechOverlay),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ExportFormat specifies the serialization format for profile export
type ExportFormat string

const (
	FormatYAML ExportFormat = "yaml"
	FormatJSON ExportFormat = "json"
)

// Export serializes a profile. YAML output carries a short header comment
// naming the schema version.
func Export(p Profile, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatYAML, "":
		var buf bytes.Buffer
		buf.WriteString("# MarketMind weights profile\n")
		buf.WriteString(fmt.Sprintf("# Schema version: %s\n\n", p.SchemaVersion))
		encoder := yaml.NewEncoder(&buf)
		encoder.SetIndent(2)
		if err := encoder.Encode(p); err != nil {
			return nil, fmt.Errorf("failed to encode profile to YAML: %w", err)
		}
		if err := encoder.Close(); err != nil {
			return nil, fmt.Errorf("failed to close YAML encoder: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode profile to JSON: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unsupported export format: %s", format)
}

// Import deserializes a profile from YAML or JSON, migrates it to the
// current schema and validates it
func Import(data []byte) (Profile, error) {
	if len(data) == 0 {
		return Profile{}, fmt.Errorf("empty profile data")
	}

	var p Profile
	if looksLikeJSON(data) {
		if err := json.Unmarshal(data, &p); err != nil {
			if yerr := yaml.Unmarshal(data, &p); yerr != nil {
				return Profile{}, fmt.Errorf("failed to parse as JSON (%v) or YAML (%v)", err, yerr)
			}
		}
	} else {
		if err := yaml.Unmarshal(data, &p); err != nil {
			if jerr := json.Unmarshal(data, &p); jerr != nil {
				return Profile{}, fmt.Errorf("failed to parse as YAML (%v) or JSON (%v)", err, jerr)
			}
		}
	}

	if err := Migrate(&p); err != nil {
		return Profile{}, err
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LoadFile imports a profile from disk
func LoadFile(path string) (Profile, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile file: %w", err)
	}
	p, err := Import(data)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func looksLikeJSON(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b == '{' || b == '['
		}
	}
	return false
}
