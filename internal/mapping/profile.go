// Package mapping loads and validates the YAML mapping profile that
// documents which HL7 fields feed which FHIR elements. The profile is
// loaded once at startup and checked against the extraction rules compiled
// into the binary; it plays no role in the hot conversion path.
package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the typed form of a mapping profile file.
type Profile struct {
	Profile      string    `yaml:"profile" json:"profile"`
	Version      string    `yaml:"version" json:"version"`
	SourceFormat string    `yaml:"source_format" json:"source_format"`
	TargetFormat string    `yaml:"target_format" json:"target_format"`
	Segments     []Segment `yaml:"segments" json:"segments"`
}

// Segment groups the field mappings of one HL7 segment.
type Segment struct {
	Segment string  `yaml:"segment" json:"segment"`
	Fields  []Field `yaml:"fields" json:"fields"`
}

// Field maps one HL7 field (or one of its components) to a FHIR element.
// Component is 1-based per HL7 convention; zero means the whole field.
type Field struct {
	Index       int    `yaml:"index" json:"index"`
	Component   int    `yaml:"component,omitempty" json:"component,omitempty"`
	Target      string `yaml:"target" json:"target"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Rule is one extraction the converter performs, in the same shape the
// profile declares. The conversion package publishes its compiled table as
// []Rule so the two can be compared.
type Rule struct {
	Segment   string
	Field     int
	Component int
	Target    string
}

// Load reads and parses a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("mapping: parse %s: %w", path, err)
	}

	if p.Profile == "" {
		return nil, fmt.Errorf("mapping: %s: profile name is required", path)
	}
	if len(p.Segments) == 0 {
		return nil, fmt.Errorf("mapping: %s: profile declares no segments", path)
	}
	return &p, nil
}

// Validate checks the profile against the extraction rules compiled into
// the binary. Every rule must appear in the profile and the profile must
// not claim mappings the converter does not perform, so the shipped YAML
// can never drift from the code.
func Validate(p *Profile, rules []Rule) error {
	declared := make(map[Rule]bool)
	for _, seg := range p.Segments {
		for _, f := range seg.Fields {
			declared[Rule{
				Segment:   seg.Segment,
				Field:     f.Index,
				Component: f.Component,
				Target:    f.Target,
			}] = true
		}
	}

	compiled := make(map[Rule]bool, len(rules))
	for _, r := range rules {
		compiled[r] = true
		if !declared[r] {
			return fmt.Errorf("mapping: profile %s is missing rule %s-%d.%d -> %s",
				p.Profile, r.Segment, r.Field, r.Component, r.Target)
		}
	}

	for d := range declared {
		if !compiled[d] {
			return fmt.Errorf("mapping: profile %s declares %s-%d.%d -> %s, which the converter does not implement",
				p.Profile, d.Segment, d.Field, d.Component, d.Target)
		}
	}
	return nil
}
