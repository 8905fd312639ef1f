package transition

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := NewMachine(nil)
	require.NoError(t, err)
	return m
}

func TestMachine_ValidateTransition(t *testing.T) {
	tests := []struct {
		previous string
		incoming string
		want     bool
	}{
		{"", "A01", true},
		{"", "A04", true},
		{"", "A05", true},
		{"A05", "A01", true},
		{"A05", "A38", true},
		{"A01", "A02", true},
		{"A02", "A02", true},
		{"A02", "A03", true},
		{"A03", "A01", true},
		{"A03", "A13", true},
		{"A13", "A02", true},
		{"A02", "A12", true},
		{"A01", "A11", true},
		{"A11", "A01", true},
		{"A01", "A21", true},
		{"A21", "A22", true},
		{"A21", "A52", true},
		{"A22", "A53", true},
		{"A53", "A22", true},
		{"A01", "A16", true},
		{"A16", "A25", true},
		{"A01", "A54", true},
		{"A54", "A55", true},
		{"", "A03", false},
		{"A03", "A02", false},
		{"A03", "A03", false},
		{"A01", "A01", false},
		{"A01", "A13", false},
		{"A21", "A02", false},
		{"", "A12", false},
		{"A01", "ZZZ", false},
	}

	m := newMachine(t)
	for _, tt := range tests {
		t.Run(tt.previous+"->"+tt.incoming, func(t *testing.T) {
			ok, reason := m.ValidateTransition(tt.previous, tt.incoming, false)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Empty(t, reason)
			} else {
				assert.Contains(t, reason, tt.incoming)
			}
		})
	}
}

func TestMachine_DischargeWithoutAdmission(t *testing.T) {
	m := newMachine(t)

	ok, reason := m.ValidateTransition("", "A03", false)
	assert.False(t, ok)
	assert.Equal(t, "A03 cannot follow no previous event", reason)

	err := m.Check("", "A03", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	var terr *TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "", terr.Previous)
	assert.Equal(t, "A03", terr.Incoming)
	assert.Equal(t, DefaultTableVersion, terr.Version)

	ok, _ = m.ValidateTransition("", "A03", true)
	assert.True(t, ok)
	assert.NoError(t, m.Check("", "A03", true))
}

func TestMachine_UnknownTriggerReasonNamesBothEvents(t *testing.T) {
	m := newMachine(t)

	ok, reason := m.ValidateTransition("A01", "Z42", false)
	assert.False(t, ok)
	assert.Equal(t, "no transition rule for trigger Z42 after A01", reason)

	_, reason = m.ValidateTransition("", "Z42", false)
	assert.Equal(t, "no transition rule for trigger Z42 after no previous event", reason)
}

func TestMachine_IdentityOnlyAlwaysAccepted(t *testing.T) {
	m := newMachine(t)

	for _, trigger := range []string{"A08", "A28", "A31", "A40", "A47", "A24", "A37"} {
		for _, previous := range []string{"", "A01", "A03", "A21", "A11"} {
			ok, _ := m.ValidateTransition(previous, trigger, false)
			assert.True(t, ok, "%s after %q", trigger, previous)
		}
		assert.True(t, m.IsIdentityOnly(trigger))
	}
	assert.False(t, m.IsIdentityOnly("A01"))
}

func TestMachine_Next(t *testing.T) {
	m := newMachine(t)

	assert.Equal(t, "A01", m.Next("", "A01"))
	assert.Equal(t, "A02", m.Next("A01", "a02"))
	assert.Equal(t, "A01", m.Next("A01", "A08"))
	assert.Equal(t, "A02", m.Next("A02", "A40"))
	assert.Equal(t, "A02", m.Next("A02", "Z99"))
	assert.Equal(t, "", m.Next("", "A28"))
}

func TestMachine_CustomTable(t *testing.T) {
	data := []byte(`
version: site-override-1
identity_only: [A08]
allowed:
  A01: [NONE, A03]
  A03: [A01]
`)
	table, err := ParseTable(data)
	require.NoError(t, err)

	m, err := NewMachine(&Config{Table: table})
	require.NoError(t, err)
	assert.Equal(t, "site-override-1", m.Version())

	ok, _ := m.ValidateTransition("", "A01", false)
	assert.True(t, ok)
	ok, _ = m.ValidateTransition("A01", "A02", false)
	assert.False(t, ok)
	ok, _ = m.ValidateTransition("A01", "A03", false)
	assert.True(t, ok)
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: v2\nallowed:\n  A01: [\"\"]\n"), 0o600))

	table, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", table.Version)
	assert.Equal(t, []string{""}, table.Allowed["A01"])

	_, err = LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseTable_Invalid(t *testing.T) {
	_, err := ParseTable([]byte("allowed:\n  A01: [A03]\n"))
	assert.ErrorContains(t, err, "version is required")

	_, err = ParseTable([]byte("version: v1\n"))
	assert.ErrorContains(t, err, "no allowed transitions")

	_, err = ParseTable([]byte("version: [unclosed"))
	assert.Error(t, err)
}
