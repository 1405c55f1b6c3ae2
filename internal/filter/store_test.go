package filter

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/leakwatch/internal/core"
)

func TestLookupPrefersAppRule(t *testing.T) {
	s := NewStore(
		core.FilterRule{Value: "5551234567", Label: core.LabelPhoneNumber, Action: core.ActionHash, Enabled: true},
		core.FilterRule{App: "com.maps", Value: "5551234567", Label: core.LabelPhoneNumber, Action: core.ActionAllow, Enabled: true},
	)

	r, ok := s.Lookup("com.maps", "5551234567")
	require.True(t, ok)
	assert.Equal(t, core.ActionAllow, r.Action)

	r, ok = s.Lookup("com.other", "5551234567")
	require.True(t, ok)
	assert.Equal(t, core.ActionHash, r.Action)
	assert.True(t, r.IsGlobal())

	_, ok = s.Lookup("com.maps", "nothing")
	assert.False(t, ok)
}

func TestAllEnabledValues(t *testing.T) {
	s := NewStore(
		core.FilterRule{Value: "b", Enabled: true},
		core.FilterRule{App: "x", Value: "a", Enabled: true},
		core.FilterRule{App: "y", Value: "a", Enabled: true},
		core.FilterRule{Value: "off", Enabled: false},
		core.FilterRule{Value: "   ", Enabled: true},
		core.FilterRule{Value: core.LocationSentinel, Label: core.LabelLocation, Enabled: true},
	)

	assert.Equal(t, []string{"a", "b"}, s.AllEnabledValues())
	assert.True(t, s.LocationSearchEnabled())
}

func TestMutationsNotify(t *testing.T) {
	s := NewStore()
	calls := 0
	s.Subscribe(func() { calls++ })

	s.Put(core.FilterRule{Value: "v", Enabled: true})
	assert.Equal(t, 1, calls)

	assert.True(t, s.SetEnabled("", "v", false))
	assert.Equal(t, 2, calls)
	assert.True(t, s.SetEnabled("", "v", false), "no-op toggle still finds the rule")
	assert.Equal(t, 2, calls)
	assert.Empty(t, s.AllEnabledValues())

	assert.False(t, s.SetEnabled("", "missing", true))
	assert.True(t, s.Delete("", "v"))
	assert.False(t, s.Delete("", "v"))
	assert.Equal(t, 3, calls)
	assert.Empty(t, s.Rules())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yml")
	doc := `
rules:
  - app: com.example
    label: IMEI
    value: "355458061189396"
    action: hash
  - value: secret@example.com
    label: Email
    action: block
    enabled: false
  - value: DEFAULT_PII_VALUE__LOCATION
    label: Location
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := LoadFile(path)
	require.NoError(t, err)

	rules := s.Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, core.ActionBlock, rules[1].Action)
	assert.False(t, rules[1].Enabled)
	assert.Equal(t, core.ActionAsk, rules[0].Action)
	assert.Equal(t, []string{"355458061189396"}, s.AllEnabledValues())
	assert.True(t, s.LocationSearchEnabled())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "rules: ["},
		{"missing value", "rules:\n  - action: hash\n"},
		{"bad action", "rules:\n  - value: x\n    action: shred\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestReplaceSwapsRules(t *testing.T) {
	s := NewStore(core.FilterRule{Value: "old", Enabled: true})
	calls := 0
	s.Subscribe(func() { calls++ })

	s.Replace([]core.FilterRule{
		{Value: "new", Enabled: true},
		{App: "com.example", Value: "other", Enabled: true},
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"new", "other"}, s.AllEnabledValues())
	_, ok := s.Lookup("com.example", "old")
	assert.False(t, ok)
}

func TestWatchReceivesChangedRules(t *testing.T) {
	kept := core.FilterRule{Label: "Email", Value: "me@example.com", Action: core.ActionHash, Enabled: true}
	gone := core.FilterRule{App: "com.example", Label: "IMEI", Value: "355458061189396", Action: core.ActionBlock, Enabled: true}
	s := NewStore(kept, gone)

	var got [][]core.FilterRule
	s.Watch(func(changed []core.FilterRule) { got = append(got, changed) })

	added := core.FilterRule{App: "com.example", Label: "Phone", Value: "5551234567", Action: core.ActionAllow, Enabled: true}
	s.Put(added)
	assert.True(t, s.Delete("com.example", "355458061189396"))
	assert.True(t, s.SetEnabled("", "me@example.com", false))

	relabeled := added
	relabeled.Label = "Contact"
	s.Replace([]core.FilterRule{relabeled})

	require.Len(t, got, 4)
	assert.Equal(t, []core.FilterRule{added}, got[0])
	assert.Equal(t, []core.FilterRule{gone}, got[1])
	disabled := kept
	disabled.Enabled = false
	assert.Equal(t, []core.FilterRule{disabled}, got[2])
	assert.ElementsMatch(t, []core.FilterRule{relabeled, added, disabled}, got[3])
}
