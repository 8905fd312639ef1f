package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTablesVersion identifies the lookup tables returned by DefaultTables.
const DefaultTablesVersion = "pam-fr-scenario-2024.1"

// Tables are the trigger lookup tables the engine consults. They are
// supplied at construction so that deployments can override them.
type Tables struct {
	Version string `yaml:"version" json:"version"`
	// AdmissionEvents anchor the admission_minus_days mode.
	AdmissionEvents []string `yaml:"admission_events" json:"admission_events"`
	// JitterEvents is used when a ShiftConfig names no jitter events.
	JitterEvents []string `yaml:"jitter_events" json:"jitter_events"`
	// NatureDefaults gives the ZBE-9 movement nature assumed for a trigger
	// when the message carries none.
	NatureDefaults map[string]string `yaml:"nature_defaults" json:"nature_defaults"`
}

// DefaultTables returns the PAM France defaults.
func DefaultTables() *Tables {
	return &Tables{
		Version:         DefaultTablesVersion,
		AdmissionEvents: []string{"A01", "A04", "A05"},
		JitterEvents:    []string{"A02", "A03", "A06", "A07", "A21", "A22"},
		NatureDefaults: map[string]string{
			"A01": "HMS",
			"A04": "HMS",
			"A02": "HMS",
			"A06": "HMS",
			"A07": "HMS",
			"A03": "D",
			"A21": "L",
			"A22": "L",
			"A54": "M",
			"Z99": "HMS",
		},
	}
}

// LoadTables reads lookup tables from a YAML file. Omitted tables keep
// their defaults.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario tables: %w", err)
	}

	t := DefaultTables()
	loaded := &Tables{}
	if err := yaml.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("failed to parse scenario tables: %w", err)
	}
	if loaded.Version != "" {
		t.Version = loaded.Version
	}
	if loaded.AdmissionEvents != nil {
		t.AdmissionEvents = loaded.AdmissionEvents
	}
	if loaded.JitterEvents != nil {
		t.JitterEvents = loaded.JitterEvents
	}
	if loaded.NatureDefaults != nil {
		t.NatureDefaults = loaded.NatureDefaults
	}
	return t, nil
}

func triggerSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return set
}
