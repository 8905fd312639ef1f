package hl7v2

import (
	"regexp"
	"strconv"
	"time"
)

// Precision is the rendering class of a discovered timestamp token.
type Precision int

const (
	PrecisionDate    Precision = iota // YYYYMMDD
	PrecisionMinutes                  // YYYYMMDDHHMM
	PrecisionSeconds                  // YYYYMMDDHHMMSS
	PrecisionExtended                 // any of the above plus fraction and/or zone suffix
)

func (p Precision) String() string {
	switch p {
	case PrecisionDate:
		return "date"
	case PrecisionMinutes:
		return "minutes"
	case PrecisionSeconds:
		return "seconds"
	case PrecisionExtended:
		return "extended"
	default:
		return "unknown"
	}
}

var timestampPattern = regexp.MustCompile(`\b(\d{8})(\d{6}|\d{4})?(\.\d{1,4})?([+-]\d{4})?\b`)

// Timestamp is a date/time token found inside raw message text.
type Timestamp struct {
	Text      string
	Start     int
	End       int
	Time      time.Time
	Precision Precision

	base   string
	suffix string
}

// FindTimestamps returns every parseable timestamp token of raw in character
// order. Tokens without a zone suffix are read in loc. Digit runs that do not
// form a valid calendar date are skipped.
func FindTimestamps(raw string, loc *time.Location) []Timestamp {
	if loc == nil {
		loc = time.UTC
	}

	var found []Timestamp
	for _, m := range timestampPattern.FindAllStringSubmatchIndex(raw, -1) {
		date := raw[m[2]:m[3]]
		clock := group(raw, m, 2)
		fraction := group(raw, m, 3)
		zone := group(raw, m, 4)

		base := date + clock
		var layout string
		switch len(clock) {
		case 6:
			layout = LayoutSeconds
		case 4:
			layout = LayoutMinutes
		default:
			layout = LayoutDate
		}

		tokenLoc := loc
		if zone != "" {
			z, ok := parseZone(zone)
			if !ok {
				continue
			}
			tokenLoc = z
		}

		t, err := time.ParseInLocation(layout, base, tokenLoc)
		if err != nil {
			continue
		}
		if fraction != "" {
			if n, err := strconv.Atoi(fraction[1:]); err == nil {
				scale := 1
				for i := len(fraction) - 1; i < 9; i++ {
					scale *= 10
				}
				t = t.Add(time.Duration(n * scale))
			}
		}

		tok := Timestamp{
			Text:   raw[m[0]:m[1]],
			Start:  m[0],
			End:    m[1],
			Time:   t,
			base:   base,
			suffix: fraction + zone,
		}
		switch {
		case tok.suffix != "":
			tok.Precision = PrecisionExtended
		case len(clock) == 6:
			tok.Precision = PrecisionSeconds
		case len(clock) == 4:
			tok.Precision = PrecisionMinutes
		default:
			tok.Precision = PrecisionDate
		}
		found = append(found, tok)
	}

	return found
}

// Render formats t with the same precision class as the token. Extended tokens
// keep their original fraction and zone suffix verbatim.
func (ts Timestamp) Render(t time.Time) string {
	t = t.In(ts.Time.Location())

	var layout string
	switch len(ts.base) {
	case 14:
		layout = LayoutSeconds
	case 12:
		layout = LayoutMinutes
	default:
		layout = LayoutDate
	}

	return t.Format(layout) + ts.suffix
}

func group(raw string, m []int, n int) string {
	if m[2*n] < 0 {
		return ""
	}
	return raw[m[2*n]:m[2*n+1]]
}

func parseZone(zone string) (*time.Location, bool) {
	if len(zone) != 5 {
		return nil, false
	}
	hours, err := strconv.Atoi(zone[1:3])
	if err != nil || hours > 14 {
		return nil, false
	}
	minutes, err := strconv.Atoi(zone[3:5])
	if err != nil || minutes > 59 {
		return nil, false
	}
	offset := hours*3600 + minutes*60
	if zone[0] == '-' {
		offset = -offset
	}
	return time.FixedZone(zone, offset), true
}
