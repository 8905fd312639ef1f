package hl7v2

import (
	"strings"
)

// Default HL7 v2.x delimiters
const (
	FieldSeparator        = "|"
	ComponentSeparator    = "^"
	RepetitionSeparator   = "~"
	EscapeCharacter       = "\\"
	SubcomponentSeparator = "&"
	SegmentTerminator     = "\r"
)

// Normalize converts CRLF and LF line endings to the HL7 segment terminator.
func Normalize(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", SegmentTerminator)
	return strings.ReplaceAll(raw, "\n", SegmentTerminator)
}

// Segments returns the non-empty segments of a message in order.
func Segments(raw string) []string {
	parts := strings.Split(Normalize(raw), SegmentTerminator)
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segments = append(segments, part)
	}
	return segments
}

// SegmentCode returns the 3-letter code of a segment, or "" when it is too short.
func SegmentCode(segment string) string {
	if len(segment) < 3 {
		return ""
	}
	return segment[:3]
}

// FindSegment returns the first segment whose code matches code.
func FindSegment(raw, code string) (string, bool) {
	for _, seg := range Segments(raw) {
		if strings.HasPrefix(seg, code) {
			return seg, true
		}
	}
	return "", false
}

// FindSegments returns every segment whose code matches code.
func FindSegments(raw, code string) []string {
	var found []string
	for _, seg := range Segments(raw) {
		if strings.HasPrefix(seg, code) {
			found = append(found, seg)
		}
	}
	return found
}

// HasSegment reports whether the message carries a segment with the given code.
func HasSegment(raw, code string) bool {
	_, ok := FindSegment(raw, code)
	return ok
}

// Fields splits a segment on the field separator. Index 0 is the segment code,
// so Fields(seg)[n] is field n for every segment except MSH (see MSHField).
func Fields(segment string) []string {
	return strings.Split(segment, FieldSeparator)
}

// Field returns field n of a segment, or "" when it is absent.
func Field(segment string, n int) string {
	if SegmentCode(segment) == "MSH" {
		return MSHField(segment, n)
	}
	return at(Fields(segment), n)
}

// MSHField returns MSH-n. MSH-1 is the field separator itself, which shifts
// every following field one position to the left of the split result.
func MSHField(segment string, n int) string {
	if n == 1 {
		return FieldSeparator
	}
	return at(Fields(segment), n-1)
}

// Repetitions splits a field on the repetition separator.
func Repetitions(field string) []string {
	if field == "" {
		return nil
	}
	return strings.Split(field, RepetitionSeparator)
}

// Components splits a field (or repetition) on the component separator.
func Components(field string) []string {
	return strings.Split(field, ComponentSeparator)
}

// Component returns component n (1-based) of a field, or "".
func Component(field string, n int) string {
	return at(Components(field), n-1)
}

// FieldComponent returns component c (1-based) of field n of a segment.
func FieldComponent(segment string, n, c int) string {
	return Component(Field(segment, n), c)
}

// SplitMessages splits a batch holding several messages on MSH boundaries.
func SplitMessages(raw string) []string {
	var messages []string
	var current []string

	for _, seg := range Segments(raw) {
		if strings.HasPrefix(seg, "MSH") && len(current) > 0 {
			messages = append(messages, strings.Join(current, SegmentTerminator))
			current = nil
		}
		current = append(current, seg)
	}
	if len(current) > 0 {
		messages = append(messages, strings.Join(current, SegmentTerminator))
	}

	return messages
}

// Join reassembles segments into a message terminated the HL7 way.
func Join(segments []string) string {
	return strings.Join(segments, SegmentTerminator)
}

func at(parts []string, i int) string {
	if i < 0 || i >= len(parts) {
		return ""
	}
	return parts[i]
}
