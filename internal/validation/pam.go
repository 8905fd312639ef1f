package validation

import (
	"fmt"
	"strings"

	"github.com/savegress/pamflow/internal/hl7v2"
)

// DefaultMovementCodes lists the ZBE-4 movement actions known to the PAM
// France profile.
var DefaultMovementCodes = []string{
	"ADMIT", "TRANSFER", "DISCHARGE", "LEAVE", "RETURN",
	"INSERT", "UPDATE", "CANCEL",
}

// PAMConfig holds PAM validator configuration
type PAMConfig struct {
	// MovementCodes overrides DefaultMovementCodes when non-empty.
	MovementCodes []string
	// ExtraMovementCodes extends the known set.
	ExtraMovementCodes []string
}

// PAMValidator checks ADT messages against the IHE PAM structure rules
type PAMValidator struct {
	movementCodes map[string]struct{}
}

// NewPAMValidator creates a new PAM validator
func NewPAMValidator(cfg *PAMConfig) *PAMValidator {
	codes := DefaultMovementCodes
	var extra []string
	if cfg != nil {
		if len(cfg.MovementCodes) > 0 {
			codes = cfg.MovementCodes
		}
		extra = cfg.ExtraMovementCodes
	}
	return &PAMValidator{movementCodes: upperSet(append(append([]string{}, codes...), extra...))}
}

func (v *PAMValidator) Name() string { return "pam" }

// Validate checks raw. In ModeMessage MSH, PID and PV1 are required.
func (v *PAMValidator) Validate(raw string, mode Mode) Result {
	c := &checker{}
	segments := hl7v2.Segments(raw)

	if mode == ModeMessage {
		c.requireSegment(segments, "MSH", true)
		c.requireSegment(segments, "EVN", false)
		c.requireSegment(segments, "PID", true)
		c.requireSegment(segments, "PV1", true)
	}

	for i, seg := range segments {
		line := i + 1
		switch hl7v2.SegmentCode(seg) {
		case "PID":
			v.validatePID(c, seg, line)
		case "PV1":
			v.validatePV1(c, seg, line, mode)
		case "ZBE":
			v.validateZBE(c, seg, line)
		}
	}

	return c.result()
}

func (v *PAMValidator) validatePID(c *checker, seg string, line int) {
	if !c.requireField(seg, line, 3, SeverityError, "PID-3 patient identifier list is required") {
		return
	}

	if !c.requireField(seg, line, 5, SeverityError, "PID-5 patient name is required") {
		return
	}
	name := hl7v2.Field(seg, 5)
	if strings.TrimSpace(hl7v2.Component(hl7v2.Repetitions(name)[0], 2)) == "" {
		c.add(SeverityWarning, "PID", "PID-5", name, line, "PID-5 patient name has no given name component")
	}
}

func (v *PAMValidator) validatePV1(c *checker, seg string, line int, mode Mode) {
	// Some ADT events legitimately carry no visit number, so the check only
	// fails a segment validated on its own.
	severity := SeverityError
	if mode == ModeMessage {
		severity = SeverityWarning
	}
	c.requireField(seg, line, 19, severity, "PV1-19 visit number is missing")
	c.requireField(seg, line, 3, SeverityWarning, "PV1-3 assigned location (UF) is missing")
}

func (v *PAMValidator) validateZBE(c *checker, seg string, line int) {
	if c.requireField(seg, line, 4, SeverityError, "ZBE-4 movement action is required") {
		code := strings.ToUpper(strings.TrimSpace(hl7v2.Field(seg, 4)))
		if _, ok := v.movementCodes[code]; !ok {
			c.add(SeverityWarning, "ZBE", "ZBE-4", code, line, fmt.Sprintf("unknown code %q for ZBE-4 movement action", code))
		}
	}

	if c.requireField(seg, line, 2, SeverityError, "ZBE-2 movement date/time is required") {
		c.checkDateTime(seg, line, 2, 1, "ZBE-2 movement date/time must be YYYYMMDDHHMM[SS]")
	}
}
