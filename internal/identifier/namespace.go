package identifier

import (
	"fmt"
	"math"
	"strings"
)

// Marker is the pattern character standing for one random decimal digit.
const Marker = '.'

// maxPatternDigits keeps 10^digits within int64.
const maxPatternDigits = 18

// Mode is how a namespace shapes its values.
type Mode string

const (
	ModePattern    Mode = "pattern"
	ModeRange      Mode = "range"
	ModeSequential Mode = "sequential"
)

// Namespace describes how identifiers of one type and system are issued.
type Namespace struct {
	Type          string `yaml:"type" json:"type"`
	System        string `yaml:"system" json:"system"`
	OID           string `yaml:"oid" json:"oid,omitempty"`
	DisplayName   string `yaml:"display_name" json:"display_name,omitempty"`
	PrefixPattern string `yaml:"prefix_pattern" json:"prefix_pattern,omitempty"`
	PrefixMode    string `yaml:"prefix_mode" json:"prefix_mode,omitempty"`
	RangeMin      int64  `yaml:"range_min" json:"range_min,omitempty"`
	RangeMax      int64  `yaml:"range_max" json:"range_max,omitempty"`
}

// Mode returns the issuing mode. A namespace with neither a range nor a
// pattern falls back to sequential issuance.
func (n Namespace) Mode() Mode {
	switch {
	case strings.EqualFold(n.PrefixMode, string(ModeRange)):
		return ModeRange
	case strings.TrimSpace(n.PrefixPattern) != "":
		return ModePattern
	default:
		return ModeSequential
	}
}

// AssigningAuthority renders the HD composite (name&OID&ISO) used in CX.4.
func (n Namespace) AssigningAuthority() string {
	name := n.DisplayName
	if name == "" {
		name = n.System
	}
	if n.OID == "" {
		return name
	}
	return name + "&" + n.OID + "&ISO"
}

// Validate checks the mode-specific settings.
func (n Namespace) Validate() error {
	switch n.Mode() {
	case ModeRange:
		if n.RangeMin < 0 || n.RangeMin > n.RangeMax {
			return fmt.Errorf("%w: [%d,%d] for type %s", ErrInvalidRange, n.RangeMin, n.RangeMax, n.Type)
		}
		// the size of the range must fit in an int64
		if n.RangeMax-n.RangeMin == math.MaxInt64 {
			return fmt.Errorf("%w: [%d,%d] for type %s is too wide", ErrInvalidRange, n.RangeMin, n.RangeMax, n.Type)
		}
	case ModePattern:
		if _, err := ParsePattern(n.PrefixPattern); err != nil {
			return err
		}
	}
	return nil
}

func (n Namespace) describe() string {
	switch n.Mode() {
	case ModeRange:
		return fmt.Sprintf("[%d,%d]", n.RangeMin, n.RangeMax)
	case ModePattern:
		return fmt.Sprintf("%q", n.PrefixPattern)
	default:
		return "unconfigured"
	}
}

// Pattern is a parsed prefix pattern: a fixed decimal prefix followed by
// Digits random digits.
type Pattern struct {
	Prefix string
	Digits int
}

// ParsePattern parses patterns such as "9..." (prefix 9, three digits).
func ParsePattern(pattern string) (Pattern, error) {
	pattern = strings.TrimSpace(pattern)

	prefix := strings.TrimRight(pattern, string(Marker))
	digits := len(pattern) - len(prefix)

	if digits == 0 {
		return Pattern{}, fmt.Errorf("%w: %q has no %q markers", ErrInvalidPattern, pattern, Marker)
	}
	if digits > maxPatternDigits {
		return Pattern{}, fmt.Errorf("%w: %q has more than %d markers", ErrInvalidPattern, pattern, maxPatternDigits)
	}
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return Pattern{}, fmt.Errorf("%w: prefix %q of %q is not numeric", ErrInvalidPattern, prefix, pattern)
		}
	}

	return Pattern{Prefix: prefix, Digits: digits}, nil
}

// Space returns the number of distinct values the pattern can produce.
func (p Pattern) Space() int64 {
	space := int64(1)
	for i := 0; i < p.Digits; i++ {
		space *= 10
	}
	return space
}

// Render formats the n-th value of the pattern.
func (p Pattern) Render(n int64) string {
	return fmt.Sprintf("%s%0*d", p.Prefix, p.Digits, n)
}
