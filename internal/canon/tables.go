package canon

import (
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/entityindex/internal/errors"
)

// CompoundRule maps any label containing Anchor and at least one of AnyOf
// onto Canonical.
type CompoundRule struct {
	Anchor    string   `yaml:"anchor"`
	AnyOf     []string `yaml:"any_of"`
	Canonical string   `yaml:"canonical"`
}

func (r CompoundRule) matches(text string) bool {
	if !strings.Contains(text, r.Anchor) {
		return false
	}
	for _, term := range r.AnyOf {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// Tables is the immutable vocabulary used by a Canonicalizer. Build it once
// with DefaultTables or LoadTables and share it by pointer.
type Tables struct {
	Synonyms      map[string]string `yaml:"synonyms"`      // exact phrase to canonical
	Abbreviations map[string]string `yaml:"abbreviations"` // exact short form to canonical
	Compounds     []CompoundRule    `yaml:"compounds"`     // substring rules, first match wins
}

// DefaultTables returns the built-in vocabulary.
func DefaultTables() *Tables {
	return &Tables{
		Synonyms: map[string]string{
			"naval ship":                  "warship",
			"military ship":               "warship",
			"carrier ship":                "aircraft carrier",
			"naval carrier":               "aircraft carrier",
			"carrier vessel":              "aircraft carrier",
			"aircraft-carrier":            "aircraft carrier",
			"fighter aircraft":            "fighter jet",
			"combat aircraft":             "fighter jet",
			"attack helicopter":           "military helicopter",
			"combat helicopter":           "military helicopter",
			"gunship helicopter":          "military helicopter",
			"helicopter gunship":          "military helicopter",
			"armored vehicle":             "military vehicle",
			"armoured vehicle":            "military vehicle",
			"armored car":                 "military vehicle",
			"armoured car":                "military vehicle",
			"armored personnel carrier":   "military vehicle",
			"armoured personnel carrier":  "military vehicle",
			"main battle tank":            "tank",
			"armored tank":                "tank",
			"armoured tank":               "tank",
			"self propelled gun":          "artillery",
			"self-propelled gun":          "artillery",
			"unmanned aerial vehicle":     "drone",
			"unmanned aircraft":           "drone",
			"machine gun":                 "weapon",
			"surface to air missile":      "missile",
		},
		Abbreviations: map[string]string{
			"apc": "military vehicle",
			"ifv": "military vehicle",
		},
		Compounds: []CompoundRule{
			{Anchor: "carrier", AnyOf: []string{"aircraft", "naval"}, Canonical: "aircraft carrier"},
			{Anchor: "fighter", AnyOf: []string{"jet", "aircraft"}, Canonical: "fighter jet"},
		},
	}
}

// LoadTables returns the default vocabulary extended by the YAML file at
// path. Synonyms and abbreviations in the file override built-in entries;
// compound rules are evaluated before the built-in ones. An empty path
// returns the defaults.
func LoadTables(path string) (*Tables, error) {
	tables := DefaultTables()
	if path == "" {
		return tables, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}

	var override Tables
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, errors.New(err).
			Component("canon").
			Category(errors.CategoryFileParsing).
			Context("operation", "load-synonyms").
			Build()
	}

	for raw, canonical := range override.Synonyms {
		tables.Synonyms[clean(raw)] = clean(canonical)
	}
	for raw, canonical := range override.Abbreviations {
		tables.Abbreviations[clean(raw)] = clean(canonical)
	}
	compounds := make([]CompoundRule, 0, len(override.Compounds)+len(tables.Compounds))
	for _, r := range override.Compounds {
		if r.Anchor == "" || r.Canonical == "" {
			return nil, errors.Newf("compound rule requires anchor and canonical").
				Component("canon").
				Category(errors.CategoryValidation).
				Build()
		}
		compounds = append(compounds, r)
	}
	tables.Compounds = append(compounds, tables.Compounds...)

	// Every canonical target must map to itself or canonicalization stops
	// being idempotent.
	c := New(tables)
	for _, label := range tables.CanonicalLabels() {
		if got := c.Canonicalize(label); got != label {
			return nil, errors.Newf("canonical label %q is not stable, maps to %q", label, got).
				Component("canon").
				Category(errors.CategoryValidation).
				Context("operation", "load-synonyms").
				Build()
		}
	}

	return tables, nil
}

// CanonicalLabels returns every distinct canonical target in the tables.
func (t *Tables) CanonicalLabels() []string {
	set := make(map[string]struct{})
	for _, v := range t.Synonyms {
		set[v] = struct{}{}
	}
	for _, v := range t.Abbreviations {
		set[v] = struct{}{}
	}
	for _, r := range t.Compounds {
		set[r.Canonical] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(set))
}
