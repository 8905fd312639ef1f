package validation

import (
	"fmt"
	"strings"

	"github.com/savegress/pamflow/internal/hl7v2"
)

// DefaultLocationTypes lists the LOC-3 location types accepted for the
// structure master file, including the tolerated BED extension.
var DefaultLocationTypes = []string{
	"ETBL_GRPQ", "PL", "D", "UF", "UH", "CH", "LIT", "BED",
}

// MFNConfig holds MFN validator configuration
type MFNConfig struct {
	// LocationTypes overrides DefaultLocationTypes when non-empty.
	LocationTypes []string
	// ExtraLocationTypes extends the known set.
	ExtraLocationTypes []string
	// OrphanLCHTolerant lists message codes ("MFN" or "MFN^M05") whose
	// messages may carry LCH segments without a valid parent LOC. It only
	// applies in ModeMessage.
	OrphanLCHTolerant []string
}

// MFNValidator checks location master file notifications
type MFNValidator struct {
	locationTypes map[string]struct{}
	tolerant      map[string]struct{}
}

// NewMFNValidator creates a new MFN validator
func NewMFNValidator(cfg *MFNConfig) *MFNValidator {
	types := DefaultLocationTypes
	var extra, tolerant []string
	if cfg != nil {
		if len(cfg.LocationTypes) > 0 {
			types = cfg.LocationTypes
		}
		extra = cfg.ExtraLocationTypes
		tolerant = cfg.OrphanLCHTolerant
	}
	return &MFNValidator{
		locationTypes: upperSet(append(append([]string{}, types...), extra...)),
		tolerant:      upperSet(tolerant),
	}
}

func (v *MFNValidator) Name() string { return "mfn" }

// Validate checks raw. In ModeMessage MSH and MFI are required.
func (v *MFNValidator) Validate(raw string, mode Mode) Result {
	c := &checker{}
	segments := hl7v2.Segments(raw)

	tolerateOrphans := false
	if mode == ModeMessage {
		c.requireSegment(segments, "MSH", true)
		c.requireSegment(segments, "MFI", true)
		tolerateOrphans = v.toleratesOrphans(hl7v2.ParseHeader(raw))
	}

	hasLocation := false
	for i, seg := range segments {
		line := i + 1
		switch hl7v2.SegmentCode(seg) {
		case "LOC":
			hasLocation = v.validateLOC(c, seg, line)
		case "LCH":
			v.validateLCH(c, seg, line, hasLocation, tolerateOrphans)
		}
	}

	return c.result()
}

func (v *MFNValidator) toleratesOrphans(h hl7v2.Header) bool {
	if _, ok := v.tolerant[strings.ToUpper(h.Code())]; ok {
		return true
	}
	_, ok := v.tolerant[strings.ToUpper(string(h.MessageType))]
	return ok
}

// validateLOC reports whether the segment can parent the following LCH segments.
func (v *MFNValidator) validateLOC(c *checker, seg string, line int) bool {
	if !c.requireField(seg, line, 1, SeverityError, "LOC-1 location identifier is required") {
		return false
	}

	locType := strings.ToUpper(strings.TrimSpace(fieldComponent(seg, 3, 1)))
	if _, ok := v.locationTypes[locType]; !ok {
		c.add(SeverityError, "LOC", "LOC-3", locType, line, fmt.Sprintf("unknown location type %q", locType))
		return false
	}
	return true
}

func (v *MFNValidator) validateLCH(c *checker, seg string, line int, hasLocation, tolerateOrphans bool) {
	if !hasLocation && !tolerateOrphans {
		c.add(SeverityError, "LCH", "", "", line, "LCH without parent LOC")
	}

	code := hl7v2.Field(seg, 4)
	if !strings.Contains(code, hl7v2.ComponentSeparator) {
		c.add(SeverityWarning, "LCH", "LCH-4", code, line, "malformed attribute code")
	}
}
