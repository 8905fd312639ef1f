package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validADT = "MSH|^~\\&|SRC|FAC|DST|FAC|20241101080000||ADT^A01^ADT_A01|1|P|2.5\r" +
	"EVN|A01|20241101080000\r" +
	"PID|1||12345^^^HOSP^PI||DOE^JOHN||19800515|M\r" +
	"PV1|1|I|CARDIO^101^A||||||||||||||||V001^^^HOSP^VN\r" +
	"ZBE|MVT1^SRC|20241101080000||INSERT|N"

func TestPAMValidator_ValidMessage(t *testing.T) {
	v := NewPAMValidator(nil)

	result := v.Validate(validADT, ModeMessage)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, "pam", v.Name())
}

func TestPAMValidator_MissingSegments(t *testing.T) {
	v := NewPAMValidator(nil)

	result := v.Validate("MSH|^~\\&|SRC|FAC|DST|FAC|20241101080000||ADT^A01|1|P|2.5\rEVN|A01", ModeMessage)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "PID", result.Errors[0].Segment)
	assert.Equal(t, "PV1", result.Errors[1].Segment)
	assert.Equal(t, "missing required segment PID", result.Errors[0].Message)
}

func TestPAMValidator_MissingEVNIsWarning(t *testing.T) {
	v := NewPAMValidator(nil)
	raw := "MSH|^~\\&|SRC\rPID|1||1||DOE^JOHN\rPV1|1|I|UF1||||||||||||||||V1"

	result := v.Validate(raw, ModeMessage)
	assert.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "EVN", result.Warnings[0].Segment)
}

func TestPAMValidator_PIDEmptyIdentifierShortCircuits(t *testing.T) {
	v := NewPAMValidator(nil)

	result := v.Validate("PID|1||||", ModeSegment)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "PID-3", result.Errors[0].Field)
	assert.Contains(t, result.Errors[0].Message, "identifier")
	assert.Equal(t, 1, result.Errors[0].Line)
	assert.Empty(t, result.Warnings)
}

func TestPAMValidator_PIDName(t *testing.T) {
	v := NewPAMValidator(nil)

	missing := v.Validate("PID|1||123", ModeSegment)
	require.Len(t, missing.Errors, 1)
	assert.Equal(t, "PID-5", missing.Errors[0].Field)
	assert.Empty(t, missing.Warnings)

	noGiven := v.Validate("PID|1||123||DOE", ModeSegment)
	assert.True(t, noGiven.Valid)
	require.Len(t, noGiven.Warnings, 1)
	assert.Equal(t, "PID-5", noGiven.Warnings[0].Field)
	assert.Equal(t, "DOE", noGiven.Warnings[0].Value)
}

func TestPAMValidator_PV1VisitNumberSeverityDependsOnMode(t *testing.T) {
	v := NewPAMValidator(nil)
	pv1 := "PV1|1|I|CARDIO"

	isolated := v.Validate(pv1, ModeSegment)
	assert.False(t, isolated.Valid)
	require.Len(t, isolated.Errors, 1)
	assert.Equal(t, "PV1-19", isolated.Errors[0].Field)

	raw := "MSH|^~\\&|SRC\rEVN|A03\rPID|1||1||DOE^JOHN\r" + pv1
	inMessage := v.Validate(raw, ModeMessage)
	assert.True(t, inMessage.Valid)
	require.Len(t, inMessage.Warnings, 1)
	assert.Equal(t, "PV1-19", inMessage.Warnings[0].Field)
	assert.Equal(t, 4, inMessage.Warnings[0].Line)
}

func TestPAMValidator_PV1MissingLocation(t *testing.T) {
	v := NewPAMValidator(nil)

	result := v.Validate("PV1|1|I|||||||||||||||||V1", ModeSegment)
	assert.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "PV1-3", result.Warnings[0].Field)
}

func TestPAMValidator_ZBE(t *testing.T) {
	tests := []struct {
		name     string
		segment  string
		errors   []string
		warnings []string
	}{
		{
			name:    "valid",
			segment: "ZBE|1|202411010800||TRANSFER",
		},
		{
			name:    "missing movement code",
			segment: "ZBE|1|20241101080000",
			errors:  []string{"ZBE-4"},
		},
		{
			name:     "unknown movement code",
			segment:  "ZBE|1|20241101080000||TELEPORT",
			warnings: []string{"ZBE-4"},
		},
		{
			name:    "missing movement time",
			segment: "ZBE|1|||ADMIT",
			errors:  []string{"ZBE-2"},
		},
		{
			name:    "date only movement time",
			segment: "ZBE|1|20241101||ADMIT",
			errors:  []string{"ZBE-2"},
		},
		{
			name:    "everything wrong",
			segment: "ZBE|1|tomorrow",
			errors:  []string{"ZBE-4", "ZBE-2"},
		},
	}

	v := NewPAMValidator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.segment, ModeSegment)
			assert.Equal(t, len(tt.errors) == 0, result.Valid)
			assert.Equal(t, tt.errors, fields(result.Errors))
			assert.Equal(t, tt.warnings, fields(result.Warnings))
		})
	}
}

func TestPAMValidator_ExtraMovementCodes(t *testing.T) {
	v := NewPAMValidator(&PAMConfig{ExtraMovementCodes: []string{"teleport"}})

	result := v.Validate("ZBE|1|20241101080000||TELEPORT", ModeSegment)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Warnings)
}

func TestResult_Issues(t *testing.T) {
	v := NewPAMValidator(nil)
	result := v.Validate("ZBE|1|20241101080000||TELEPORT\rPV1|1", ModeSegment)

	issues := result.Issues()
	require.Len(t, issues, 3)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Equal(t, SeverityWarning, issues[1].Severity)
}

func fields(issues []Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, issue.Field)
	}
	return out
}
