package hl7v2

import (
	"fmt"
	"log/slog"
	"strings"
)

// Decoder extracts segment data from raw messages. Extraction is lenient:
// absent or malformed fields keep their zero value and internal failures are
// logged, never returned.
type Decoder struct {
	logger *slog.Logger
	find   func(raw, code string) (string, bool)
}

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	Logger *slog.Logger
}

// NewDecoder creates a new segment decoder
func NewDecoder(config *DecoderConfig) *Decoder {
	logger := slog.Default()
	if config != nil && config.Logger != nil {
		logger = config.Logger
	}
	return &Decoder{
		logger: logger.With("component", "hl7v2.decoder"),
		find:   FindSegment,
	}
}

// HasSegment reports whether raw carries a segment with the given code.
func (d *Decoder) HasSegment(raw, code string) bool {
	return HasSegment(raw, code)
}

// recover turns a panic raised during extraction into a warning. reset
// clears the partially filled result.
func (d *Decoder) recover(code string, reset func()) {
	if r := recover(); r != nil {
		reset()
		d.logger.Warn("segment extraction failed, using defaults",
			"segment", code,
			"error", fmt.Sprint(r))
	}
}

// ParsePID decodes the first PID segment of raw.
func (d *Decoder) ParsePID(raw string) (pid DecodedPID) {
	defer d.recover("PID", func() { pid = DecodedPID{} })

	seg, ok := d.find(raw, "PID")
	if !ok {
		return pid
	}

	pid.Identifiers = parseIdentifiers(Field(seg, 3))

	pid.Names = parsePersonNames(Field(seg, 5))
	if len(pid.Names) > 0 {
		first := pid.Names[0]
		pid.Family = first.Family
		pid.Given = first.Given
		pid.Middle = first.Middle
		pid.Prefix = first.Prefix
		pid.Suffix = first.Suffix
	}
	for _, name := range pid.Names {
		if strings.EqualFold(name.Type, "L") && name.Family != "" {
			pid.BirthFamily = name.Family
			break
		}
	}

	pid.BirthDateRaw = strings.TrimSpace(Field(seg, 7))
	pid.BirthDate = ParseDate(pid.BirthDateRaw)
	pid.Gender = strings.TrimSpace(Field(seg, 8))

	pid.Addresses = parseAddresses(Field(seg, 11))
	if len(pid.Addresses) > 0 {
		first := pid.Addresses[0]
		pid.Street = first.Street
		pid.City = first.City
		pid.PostalCode = first.PostalCode
		pid.Country = first.Country
	}
	if len(pid.Addresses) > 1 {
		birth := pid.Addresses[1]
		pid.BirthAddress = &birth
	}

	d.assignPhones(&pid, Field(seg, 13), Field(seg, 14))

	pid.MaritalStatus = Component(Field(seg, 16), 1)
	pid.AccountNumber = Component(Field(seg, 18), 1)
	pid.BirthPlace = strings.TrimSpace(Field(seg, 23))
	pid.BirthCity = pid.BirthPlace
	if pid.BirthAddress != nil && pid.BirthAddress.City != "" {
		pid.BirthCity = pid.BirthAddress.City
	}
	pid.IdentityReliability = Component(Field(seg, 32), 1)

	return pid
}

// assignPhones fills the flat phone fields. The first home repetition is the
// main phone; later repetitions are sorted by use code (WPN) or equipment type
// (CP) into work and mobile numbers. PID-14 backs up the work phone.
func (d *Decoder) assignPhones(pid *DecodedPID, home, business string) {
	for i, rep := range Repetitions(home) {
		number := phoneNumber(rep)
		if number == "" {
			continue
		}
		if i == 0 {
			pid.Phone = number
			continue
		}

		use := strings.ToUpper(Component(rep, 2))
		equipment := strings.ToUpper(Component(rep, 3))
		switch {
		case use == "WPN":
			if pid.WorkPhone == "" {
				pid.WorkPhone = number
			}
		case equipment == "CP" || use == "ORN" || use == "PRS":
			if pid.MobilePhone == "" {
				pid.MobilePhone = number
			}
		}
	}

	if pid.WorkPhone == "" {
		pid.WorkPhone = phoneNumber(firstRepetition(business))
	}
}

// ParsePD1 decodes the additional demographics of raw. PD1 carries the primary
// care provider; religion and language live on PID-17 and PID-15 in v2.5.
func (d *Decoder) ParsePD1(raw string) (pd1 DecodedPD1) {
	defer d.recover("PD1", func() { pd1 = DecodedPD1{} })

	if seg, ok := d.find(raw, "PD1"); ok {
		pd1.PrimaryCareProvider = Component(firstRepetition(Field(seg, 4)), 1)
	}
	if seg, ok := d.find(raw, "PID"); ok {
		pd1.Language = Component(Field(seg, 15), 1)
		pd1.Religion = Component(Field(seg, 17), 1)
	}

	return pd1
}

// ParsePV1 decodes the first PV1 segment of raw.
func (d *Decoder) ParsePV1(raw string) (pv1 DecodedPV1) {
	defer d.recover("PV1", func() { pv1 = DecodedPV1{} })

	seg, ok := d.find(raw, "PV1")
	if !ok {
		return pv1
	}

	pv1.PatientClass = strings.TrimSpace(Field(seg, 2))
	pv1.AssignedLocation = parseLocation(Field(seg, 3))
	pv1.PriorLocation = parseLocation(Field(seg, 6))
	pv1.HospitalService = Component(Field(seg, 10), 1)
	pv1.VisitNumber = Component(Field(seg, 19), 1)
	pv1.AdmitTime = ParseDateTime(Component(Field(seg, 44), 1))
	pv1.DischargeTime = ParseDateTime(Component(Field(seg, 45), 1))

	return pv1
}

// ParseZBE decodes the PAM France movement segment of raw.
func (d *Decoder) ParseZBE(raw string) (zbe DecodedZBE) {
	defer d.recover("ZBE", func() { zbe = DecodedZBE{} })

	seg, ok := d.find(raw, "ZBE")
	if !ok {
		return zbe
	}

	zbe.MovementID = Component(Field(seg, 1), 1)
	zbe.MovementTimeRaw = strings.TrimSpace(Component(Field(seg, 2), 1))
	zbe.MovementTime = ParseDateTime(zbe.MovementTimeRaw)
	zbe.Indicator = strings.ToUpper(strings.TrimSpace(Field(seg, 4)))
	zbe.Historic = strings.ToUpper(strings.TrimSpace(Field(seg, 5)))
	zbe.OriginalTrigger = strings.TrimSpace(Field(seg, 6))
	zbe.MedicalUnit = Component(Field(seg, 7), 1)
	zbe.Nature = strings.ToUpper(strings.TrimSpace(Field(seg, 9)))

	return zbe
}

// ParseMRG decodes the merge segment of raw.
func (d *Decoder) ParseMRG(raw string) (mrg DecodedMRG) {
	defer d.recover("MRG", func() { mrg = DecodedMRG{} })

	seg, ok := d.find(raw, "MRG")
	if !ok {
		return mrg
	}

	ids := parseIdentifiers(Field(seg, 1))
	if len(ids) > 0 {
		mrg.PriorPatientID = ids[0].Value
		mrg.PriorPatientIDType = ids[0].Type
	}
	names := parsePersonNames(Field(seg, 7))
	if len(names) > 0 {
		mrg.PriorFamily = names[0].Family
		mrg.PriorGiven = names[0].Given
	}

	return mrg
}

func firstRepetition(field string) string {
	return at(Repetitions(field), 0)
}

func parseIdentifiers(data string) []Identifier {
	var ids []Identifier
	for _, rep := range Repetitions(data) {
		value := strings.TrimSpace(Component(rep, 1))
		if value == "" {
			continue
		}
		idType := strings.TrimSpace(Component(rep, 5))
		if idType == "" {
			idType = "PI"
		}
		ids = append(ids, Identifier{Value: value, Type: idType})
	}
	return ids
}

func parsePersonNames(data string) []PersonName {
	var names []PersonName
	for _, rep := range Repetitions(data) {
		if strings.Trim(rep, ComponentSeparator) == "" {
			continue
		}
		names = append(names, PersonName{
			Family: subcomponent(Component(rep, 1), 1),
			Given:  Component(rep, 2),
			Middle: Component(rep, 3),
			Suffix: Component(rep, 4),
			Prefix: Component(rep, 5),
			Type:   Component(rep, 7),
		})
	}
	return names
}

func parseAddresses(data string) []Address {
	var addrs []Address
	for _, rep := range Repetitions(data) {
		if strings.Trim(rep, ComponentSeparator) == "" {
			continue
		}
		addrs = append(addrs, Address{
			Street:     Component(rep, 1),
			Other:      Component(rep, 2),
			City:       Component(rep, 3),
			State:      Component(rep, 4),
			PostalCode: Component(rep, 5),
			Country:    Component(rep, 6),
			Type:       Component(rep, 7),
		})
	}
	return addrs
}

func parseLocation(data string) Location {
	return Location{
		Raw:         data,
		PointOfCare: Component(data, 1),
		Room:        Component(data, 2),
		Bed:         Component(data, 3),
		Facility:    subcomponent(Component(data, 4), 1),
	}
}

func subcomponent(component string, n int) string {
	return at(strings.Split(component, SubcomponentSeparator), n-1)
}

// phoneNumber reads an XTN repetition: the formatted number, or the
// unformatted number (XTN-12) when the first component is empty.
func phoneNumber(rep string) string {
	if n := strings.TrimSpace(Component(rep, 1)); n != "" {
		return n
	}
	return strings.TrimSpace(Component(rep, 12))
}
