package validation

import (
	"fmt"
	"strings"

	"github.com/savegress/pamflow/internal/hl7v2"
)

// checker is the toolkit shared by the validators. It accumulates issues in
// the order they are found.
type checker struct {
	errors   []Issue
	warnings []Issue
}

func (c *checker) add(severity Severity, segment, field, value string, line int, message string) {
	issue := Issue{
		Severity: severity,
		Segment:  segment,
		Field:    field,
		Value:    value,
		Line:     line,
		Message:  message,
	}
	if severity == SeverityError {
		c.errors = append(c.errors, issue)
		return
	}
	c.warnings = append(c.warnings, issue)
}

func (c *checker) result() Result {
	return Result{
		Valid:    len(c.errors) == 0,
		Errors:   nonNil(c.errors),
		Warnings: nonNil(c.warnings),
	}
}

// requireSegment records a missing segment: an error when required, a
// warning otherwise. It reports whether the segment is present.
func (c *checker) requireSegment(segments []string, code string, required bool) bool {
	for _, seg := range segments {
		if hl7v2.SegmentCode(seg) == code {
			return true
		}
	}
	if required {
		c.add(SeverityError, code, "", "", 0, fmt.Sprintf("missing required segment %s", code))
	} else {
		c.add(SeverityWarning, code, "", "", 0, fmt.Sprintf("missing recommended segment %s", code))
	}
	return false
}

// requireField records an issue when field n of seg is blank and reports
// whether the field is present.
func (c *checker) requireField(seg string, line, n int, severity Severity, message string) bool {
	value := hl7v2.Field(seg, n)
	if strings.TrimSpace(value) != "" {
		return true
	}
	code := hl7v2.SegmentCode(seg)
	c.add(severity, code, fieldTag(code, n), value, line, message)
	return false
}

// checkDateTime records an error unless component comp of field n is a
// strict YYYYMMDDHHMM[SS] value.
func (c *checker) checkDateTime(seg string, line, n, comp int, message string) bool {
	value := strings.TrimSpace(fieldComponent(seg, n, comp))
	if hl7v2.IsStrictDateTime(value) {
		return true
	}
	code := hl7v2.SegmentCode(seg)
	c.add(SeverityError, code, fieldTag(code, n), value, line, message)
	return false
}

func fieldComponent(seg string, n, comp int) string {
	return hl7v2.FieldComponent(seg, n, comp)
}

func fieldTag(code string, n int) string {
	return fmt.Sprintf("%s-%d", code, n)
}

func nonNil(issues []Issue) []Issue {
	if issues == nil {
		return []Issue{}
	}
	return issues
}

func upperSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToUpper(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}
