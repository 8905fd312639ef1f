package hl7v2

import (
	"strings"
	"time"
)

// HL7 DTM layouts, most precise first
const (
	LayoutSeconds = "20060102150405"
	LayoutMinutes = "200601021504"
	LayoutDate    = "20060102"
)

var flexibleLayouts = []string{LayoutSeconds, LayoutMinutes, LayoutDate}

// ParseDateTime parses an HL7 date/time leniently. It tries seconds, minutes
// and date precision, then the first 14 characters of longer values (which
// drops fractional seconds and zone offsets). It returns nil instead of failing.
func ParseDateTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	for _, layout := range flexibleLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}

	if len(value) > 14 {
		if t, err := time.Parse(LayoutSeconds, value[:14]); err == nil {
			return &t
		}
	}

	return nil
}

// ParseDate parses the YYYYMMDD prefix of a value, or returns nil.
func ParseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if len(value) < 8 {
		return nil
	}
	t, err := time.Parse(LayoutDate, value[:8])
	if err != nil {
		return nil
	}
	return &t
}

// IsStrictDateTime reports whether value is exactly YYYYMMDDHHMM or YYYYMMDDHHMMSS.
func IsStrictDateTime(value string) bool {
	switch len(value) {
	case 12:
		_, err := time.Parse(LayoutMinutes, value)
		return err == nil
	case 14:
		_, err := time.Parse(LayoutSeconds, value)
		return err == nil
	default:
		return false
	}
}
