package transition

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NoState is the previous event of a venue that has never seen a message.
// Table files may spell it NONE.
const NoState = ""

// Table is a versioned set of workflow rules. Allowed maps an incoming
// trigger to the previous events it may follow.
type Table struct {
	Version      string              `yaml:"version" json:"version"`
	IdentityOnly []string            `yaml:"identity_only" json:"identity_only"`
	KeepState    []string            `yaml:"keep_state" json:"keep_state"`
	Allowed      map[string][]string `yaml:"allowed" json:"allowed"`
}

// DefaultTableVersion identifies the rules returned by DefaultTable.
const DefaultTableVersion = "ihe-pam-fr-2024.1"

// inside lists the events after which the patient is present in the venue.
var inside = []string{
	"A01", "A02", "A04", "A06", "A07", "A12", "A13",
	"A16", "A22", "A25", "A52", "A54", "A55",
}

// DefaultTable returns the IHE PAM ordering rules.
func DefaultTable() *Table {
	outside := []string{NoState, "A03", "A11", "A38"}

	return &Table{
		Version: DefaultTableVersion,
		IdentityOnly: []string{
			"A08", "A24", "A28", "A31", "A37", "A40", "A47",
		},
		KeepState: []string{"Z99"},
		Allowed: map[string][]string{
			"A01": append([]string{"A05"}, outside...),
			"A04": append([]string{"A05"}, outside...),
			"A05": outside,
			"A38": {"A05"},
			"A11": {"A01", "A04"},
			"A02": inside,
			"A03": inside,
			"A06": inside,
			"A07": inside,
			"A16": inside,
			"A21": inside,
			"A54": inside,
			"A12": {"A02"},
			"A13": {"A03"},
			"A22": {"A21", "A53"},
			"A52": {"A21"},
			"A53": {"A22"},
			"A55": {"A54"},
			"A25": {"A16"},
			"Z99": append([]string{"A03", "A21"}, inside...),
		},
	}
}

// ParseTable decodes a YAML rule table.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse transition table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadTable reads a YAML rule table from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transition table: %w", err)
	}
	return ParseTable(data)
}

// Validate checks that the table is usable.
func (t *Table) Validate() error {
	if strings.TrimSpace(t.Version) == "" {
		return fmt.Errorf("transition table: version is required")
	}
	if len(t.Allowed) == 0 {
		return fmt.Errorf("transition table %s: no allowed transitions", t.Version)
	}
	for incoming := range t.Allowed {
		if strings.TrimSpace(incoming) == "" {
			return fmt.Errorf("transition table %s: empty incoming trigger", t.Version)
		}
	}
	return nil
}

func normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "NONE" {
		return NoState
	}
	return code
}
