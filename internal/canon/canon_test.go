package canon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()
	c := New(nil)

	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"Naval Ship", "warship"},
		{"  military   ship ", "warship"},
		{"aircraft-carrier", "aircraft carrier"},
		{"large naval carrier at sea", "aircraft carrier"},
		{"old aircraft carrier hull", "aircraft carrier"},
		{"Fighter Jets", "fighter jet"},
		{"apc", "military vehicle"},
		{"APCs", "military vehicle"},
		{"armoured personnel carriers", "military vehicle"},
		{"main battle tanks", "tank"},
		{"tanks", "tank"},
		{"drones", "drone"},
		{"hull CVN-72", "hull cvn-72"},
		{"CVN-72", "CVN-72"},
		{"cvn-72", "CVN-72"},
		{"F16", "F16"},
		{"1234", "1234"},
		{"glass", "glass"},
		{"bus", "bus"},
		{"radar", "radar"},
		{"ｆ１６", "F16"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, c.Canonicalize(tt.raw))
		})
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	t.Parallel()
	c := New(nil)

	inputs := []string{
		"tanks", "apcs", "ifvs", "boss", "glasses", "gas", "news", "chaos",
		"Fighter Aircraft", "combat helicopters", "surface to air missiles",
		"self-propelled guns", "CVN-72", "cvn72s", "hull 42", "a1", "x-ray",
		"soldiers", "unmanned aerial vehicles", "aircraft carriers", "carrier",
		"  Mixed   CASE  Words ", "ｆ１６", "armoured cars", "ss", "class",
		"carrier s", "t-90 s", "foo s", "F-16 s", "hull 42s", "abc-s",
	}
	for raw := range DefaultTables().Synonyms {
		inputs = append(inputs, raw, raw+"s")
	}

	for _, raw := range inputs {
		once := c.Canonicalize(raw)
		assert.Equal(t, once, c.Canonicalize(once), "raw %q", raw)
	}
}

func TestCanonicalizeKeepsShortTrailingWords(t *testing.T) {
	t.Parallel()
	c := New(nil)

	assert.Equal(t, "carrier s", c.Canonicalize("carrier s"))
	assert.Equal(t, "t-90 s", c.Canonicalize("T-90 s"))
	assert.Equal(t, "hull 42s", c.Canonicalize("hull 42s"))
	assert.Equal(t, "military vehicle", c.Canonicalize("armored cars"))
}

func TestCanonicalTargetsAreFixedPoints(t *testing.T) {
	t.Parallel()
	c := New(nil)
	for _, label := range DefaultTables().CanonicalLabels() {
		assert.Equal(t, label, c.Canonicalize(label))
	}
}

func TestIsCode(t *testing.T) {
	t.Parallel()
	assert.True(t, IsCode("CVN-72"))
	assert.True(t, IsCode("b52"))
	assert.False(t, IsCode("1234"), "digits only")
	assert.False(t, IsCode("ABCD"), "letters only")
	assert.False(t, IsCode("A1"), "too short")
	assert.False(t, IsCode("CVN 72"), "space")
}

func TestLoadTables(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
synonyms:
  "Patrol Boat": "warship"
  "corvette": "warship"
abbreviations:
  mbt: tank
compounds:
  - anchor: missile
    any_of: [launcher, battery]
    canonical: missile launcher
`), 0o600))

	tables, err := LoadTables(path)
	require.NoError(t, err)
	c := New(tables)

	assert.Equal(t, "warship", c.Canonicalize("patrol boats"))
	assert.Equal(t, "warship", c.Canonicalize("Corvette"))
	assert.Equal(t, "tank", c.Canonicalize("MBT"))
	assert.Equal(t, "missile launcher", c.Canonicalize("mobile missile battery"))
	assert.Equal(t, "warship", c.Canonicalize("naval ship"), "defaults are kept")

	_, ok := DefaultTables().Synonyms["corvette"]
	assert.False(t, ok, "defaults are not mutated")
}

func TestLoadTablesRejectsUnstableTargets(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
synonyms:
  frigate: naval ship
`), 0o600))

	_, err := LoadTables(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not stable")
}

func TestLoadTablesEmptyPath(t *testing.T) {
	t.Parallel()
	tables, err := LoadTables("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTables(), tables)
}
