package scenario

import (
	"strings"
	"time"

	"github.com/savegress/pamflow/internal/hl7v2"
)

// AnchorMode selects how the global shift is computed.
type AnchorMode string

const (
	// AnchorNow moves the earliest message to the current time.
	AnchorNow AnchorMode = "now"
	// AnchorAdmissionMinusDays moves the first admission to N days ago.
	AnchorAdmissionMinusDays AnchorMode = "admission_minus_days"
	// AnchorFixedStart moves the earliest message to a configured moment.
	AnchorFixedStart AnchorMode = "fixed_start"
)

// ShiftConfig controls one time shift.
type ShiftConfig struct {
	AnchorMode       AnchorMode `json:"anchor_mode" yaml:"anchor_mode"`
	AnchorDaysOffset int        `json:"anchor_days_offset,omitempty" yaml:"anchor_days_offset"`
	FixedStart       string     `json:"fixed_start,omitempty" yaml:"fixed_start"`

	// PreserveIntervals is informational: a single global delta always
	// preserves intervals, up to jitter and the monotonic clamp.
	PreserveIntervals bool     `json:"preserve_intervals" yaml:"preserve_intervals"`
	JitterMinMinutes  int      `json:"jitter_min_minutes,omitempty" yaml:"jitter_min_minutes"`
	JitterMaxMinutes  int      `json:"jitter_max_minutes,omitempty" yaml:"jitter_max_minutes"`
	JitterEvents      []string `json:"jitter_events,omitempty" yaml:"jitter_events"`
}

// jitterEnabled reports whether any jitter range is configured.
func (c ShiftConfig) jitterEnabled() bool {
	return c.JitterMinMinutes != 0 || c.JitterMaxMinutes != 0
}

var fixedStartLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	hl7v2.LayoutSeconds,
	hl7v2.LayoutMinutes,
	hl7v2.LayoutDate,
}

// parseFixedStart reads an ISO 8601 or HL7 moment; values without a zone
// are read in loc.
func parseFixedStart(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range fixedStartLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
