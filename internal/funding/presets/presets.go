// Package presets ships curated contract parameter templates. A preset
// carries everything except the goal and deadline, which are campaign
// specific and set at creation time.
package presets

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/louisbranch/cyclefund/internal/funding/domain"
)

//go:embed presets.yaml
var rawPresets []byte

// Preset is a named contract parameter template.
type Preset struct {
	Name               string `yaml:"name"`
	Description        string `yaml:"description"`
	Variant            string `yaml:"variant"`
	CycleLength        string `yaml:"cycle_length"`
	AccrualRate        uint64 `yaml:"accrual_rate"`
	ContributorFeeRate uint64 `yaml:"contributor_fee_rate"`
	PercentScale       uint64 `yaml:"percent_scale"`
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// Parse reads presets from YAML and validates each entry.
func Parse(data []byte) ([]Preset, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	seen := make(map[string]bool, len(file.Presets))
	for i, preset := range file.Presets {
		if err := preset.validate(); err != nil {
			return nil, fmt.Errorf("preset %d (%q): %w", i, preset.Name, err)
		}
		if seen[preset.Name] {
			return nil, fmt.Errorf("preset %d: duplicate name %q", i, preset.Name)
		}
		seen[preset.Name] = true
	}
	return file.Presets, nil
}

// All returns the embedded preset catalog.
func All() ([]Preset, error) {
	return Parse(rawPresets)
}

// Get looks up an embedded preset by name.
func Get(name string) (Preset, error) {
	all, err := All()
	if err != nil {
		return Preset{}, err
	}
	for _, preset := range all {
		if preset.Name == name {
			return preset, nil
		}
	}
	return Preset{}, fmt.Errorf("unknown preset %q", name)
}

func (p Preset) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if p.DomainVariant() == domain.VariantUnspecified {
		return fmt.Errorf("variant must be open or goal")
	}
	length, err := p.cycleLength()
	if err != nil {
		return err
	}
	if length <= 0 {
		return fmt.Errorf("cycle_length must be positive")
	}
	if p.AccrualRate == 0 {
		return fmt.Errorf("accrual_rate must be positive")
	}
	if p.PercentScale == 0 {
		return fmt.Errorf("percent_scale must be positive")
	}
	return nil
}

func (p Preset) cycleLength() (time.Duration, error) {
	length, err := time.ParseDuration(strings.TrimSpace(p.CycleLength))
	if err != nil {
		return 0, fmt.Errorf("cycle_length: %w", err)
	}
	return length, nil
}

// DomainVariant maps the preset's variant string to the domain type.
func (p Preset) DomainVariant() domain.Variant {
	switch strings.TrimSpace(p.Variant) {
	case "open":
		return domain.VariantOpen
	case "goal":
		return domain.VariantGoal
	}
	return domain.VariantUnspecified
}

// Params builds contract parameters from the preset. Goal and deadline are
// the caller's to fill in for goal presets.
func (p Preset) Params() (domain.Params, error) {
	length, err := p.cycleLength()
	if err != nil {
		return domain.Params{}, err
	}
	return domain.Params{
		CycleLength:        length,
		AccrualRate:        p.AccrualRate,
		ContributorFeeRate: p.ContributorFeeRate,
		PercentScale:       p.PercentScale,
	}, nil
}
