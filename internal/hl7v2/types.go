package hl7v2

import (
	"time"
)

// MessageType represents HL7 v2.x message types
type MessageType string

const (
	// ADT - Admit, Discharge, Transfer messages
	MessageTypeADT MessageType = "ADT"
	// MFN - Master File Notification
	MessageTypeMFN MessageType = "MFN"
	// ACK - Acknowledgment
	MessageTypeACK MessageType = "ACK"
)

// TriggerEvent represents HL7 v2.x trigger events
type TriggerEvent string

// ADT trigger events used by the IHE PAM profile
const (
	TriggerA01 TriggerEvent = "A01" // Admit inpatient
	TriggerA02 TriggerEvent = "A02" // Transfer
	TriggerA03 TriggerEvent = "A03" // Discharge
	TriggerA04 TriggerEvent = "A04" // Register outpatient
	TriggerA05 TriggerEvent = "A05" // Pre-admit
	TriggerA06 TriggerEvent = "A06" // Outpatient to inpatient
	TriggerA07 TriggerEvent = "A07" // Inpatient to outpatient
	TriggerA08 TriggerEvent = "A08" // Update patient information
	TriggerA11 TriggerEvent = "A11" // Cancel admit
	TriggerA12 TriggerEvent = "A12" // Cancel transfer
	TriggerA13 TriggerEvent = "A13" // Cancel discharge
	TriggerA16 TriggerEvent = "A16" // Pending discharge
	TriggerA21 TriggerEvent = "A21" // Leave of absence
	TriggerA22 TriggerEvent = "A22" // Return from leave of absence
	TriggerA24 TriggerEvent = "A24" // Link patient information
	TriggerA25 TriggerEvent = "A25" // Cancel pending discharge
	TriggerA28 TriggerEvent = "A28" // Add person information
	TriggerA31 TriggerEvent = "A31" // Update person information
	TriggerA37 TriggerEvent = "A37" // Unlink patient information
	TriggerA38 TriggerEvent = "A38" // Cancel pre-admit
	TriggerA40 TriggerEvent = "A40" // Merge patient identifier list
	TriggerA47 TriggerEvent = "A47" // Change patient identifier list
	TriggerA52 TriggerEvent = "A52" // Cancel leave of absence
	TriggerA53 TriggerEvent = "A53" // Cancel return from leave of absence
	TriggerA54 TriggerEvent = "A54" // Change attending doctor
	TriggerA55 TriggerEvent = "A55" // Cancel change attending doctor
	TriggerZ99 TriggerEvent = "Z99" // Update movement (PAM France)
)

// Header holds the MSH fields the rest of the system keys on.
type Header struct {
	MessageType     MessageType  `json:"message_type,omitempty"`
	TriggerEvent    TriggerEvent `json:"trigger_event,omitempty"`
	Structure       string       `json:"structure,omitempty"`
	ControlID       string       `json:"control_id,omitempty"`
	Version         string       `json:"version,omitempty"`
	SendingApp      string       `json:"sending_app,omitempty"`
	SendingFacility string       `json:"sending_facility,omitempty"`
	ReceivingApp    string       `json:"receiving_app,omitempty"`
	ReceivingFac    string       `json:"receiving_fac,omitempty"`
	RawTimestamp    string       `json:"raw_timestamp,omitempty"`
	Timestamp       *time.Time   `json:"timestamp,omitempty"`
}

// Code returns "TYPE^TRIGGER", or just the type when no trigger is present.
func (h Header) Code() string {
	if h.TriggerEvent == "" {
		return string(h.MessageType)
	}
	return string(h.MessageType) + ComponentSeparator + string(h.TriggerEvent)
}

// Identifier is one repetition of a CX identifier list.
type Identifier struct {
	Value string `json:"value,omitempty"`
	Type  string `json:"type,omitempty"`
}

// PersonName is one repetition of an XPN field.
type PersonName struct {
	Family string `json:"family,omitempty"`
	Given  string `json:"given,omitempty"`
	Middle string `json:"middle,omitempty"`
	Suffix string `json:"suffix,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Address is one repetition of an XAD field.
type Address struct {
	Street     string `json:"street,omitempty"`
	Other      string `json:"other,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	Type       string `json:"type,omitempty"`
}

// Location holds the PL components of an assigned or prior location.
type Location struct {
	Raw         string `json:"raw,omitempty"`
	PointOfCare string `json:"point_of_care,omitempty"`
	Room        string `json:"room,omitempty"`
	Bed         string `json:"bed,omitempty"`
	Facility    string `json:"facility,omitempty"`
}

// DecodedPID is the lenient projection of a PID segment. Every field keeps its
// zero value when the source field is absent or malformed.
type DecodedPID struct {
	Identifiers []Identifier `json:"identifiers,omitempty"`

	Names       []PersonName `json:"names,omitempty"`
	Family      string       `json:"family,omitempty"`
	Given       string       `json:"given,omitempty"`
	Middle      string       `json:"middle,omitempty"`
	Prefix      string       `json:"prefix,omitempty"`
	Suffix      string       `json:"suffix,omitempty"`
	BirthFamily string       `json:"birth_family,omitempty"`

	Addresses    []Address `json:"addresses,omitempty"`
	Street       string    `json:"street,omitempty"`
	City         string    `json:"city,omitempty"`
	PostalCode   string    `json:"postal_code,omitempty"`
	Country      string    `json:"country,omitempty"`
	BirthAddress *Address  `json:"birth_address,omitempty"`

	Phone       string `json:"phone,omitempty"`
	MobilePhone string `json:"mobile_phone,omitempty"`
	WorkPhone   string `json:"work_phone,omitempty"`

	BirthDateRaw string     `json:"birth_date_raw,omitempty"`
	BirthDate    *time.Time `json:"birth_date,omitempty"`

	Gender              string `json:"gender,omitempty"`
	MaritalStatus       string `json:"marital_status,omitempty"`
	AccountNumber       string `json:"account_number,omitempty"`
	BirthPlace          string `json:"birth_place,omitempty"`
	BirthCity           string `json:"birth_city,omitempty"`
	IdentityReliability string `json:"identity_reliability,omitempty"`
}

// DecodedPD1 is the lenient projection of the additional demographics.
type DecodedPD1 struct {
	PrimaryCareProvider string `json:"primary_care_provider,omitempty"`
	Religion            string `json:"religion,omitempty"`
	Language            string `json:"language,omitempty"`
}

// DecodedPV1 is the lenient projection of a PV1 segment.
type DecodedPV1 struct {
	PatientClass     string     `json:"patient_class,omitempty"`
	AssignedLocation Location   `json:"assigned_location,omitempty"`
	PriorLocation    Location   `json:"prior_location,omitempty"`
	HospitalService  string     `json:"hospital_service,omitempty"`
	VisitNumber      string     `json:"visit_number,omitempty"`
	AdmitTime        *time.Time `json:"admit_time,omitempty"`
	DischargeTime    *time.Time `json:"discharge_time,omitempty"`
}

// DecodedZBE is the lenient projection of the PAM France movement segment.
type DecodedZBE struct {
	MovementID      string     `json:"movement_id,omitempty"`
	MovementTimeRaw string     `json:"movement_time_raw,omitempty"`
	MovementTime    *time.Time `json:"movement_time,omitempty"`
	Indicator       string     `json:"indicator,omitempty"`
	Historic        string     `json:"historic,omitempty"`
	OriginalTrigger string     `json:"original_trigger,omitempty"`
	MedicalUnit     string     `json:"medical_unit,omitempty"`
	Nature          string     `json:"nature,omitempty"`
}

// DecodedMRG is the lenient projection of a merge segment.
type DecodedMRG struct {
	PriorPatientID     string `json:"prior_patient_id,omitempty"`
	PriorPatientIDType string `json:"prior_patient_id_type,omitempty"`
	PriorFamily        string `json:"prior_family,omitempty"`
	PriorGiven         string `json:"prior_given,omitempty"`
}
