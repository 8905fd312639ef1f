package hl7v2

import (
	"strings"
)

// ParseHeader decodes the MSH segment of raw. The trigger falls back to EVN-1
// when MSH-9 carries none. A message without MSH yields a zero Header.
func ParseHeader(raw string) Header {
	var h Header

	msh, ok := FindSegment(raw, "MSH")
	if !ok {
		return h
	}

	h.SendingApp = Component(MSHField(msh, 3), 1)
	h.SendingFacility = Component(MSHField(msh, 4), 1)
	h.ReceivingApp = Component(MSHField(msh, 5), 1)
	h.ReceivingFac = Component(MSHField(msh, 6), 1)
	h.RawTimestamp = Component(MSHField(msh, 7), 1)
	h.Timestamp = ParseDateTime(h.RawTimestamp)

	msgType := MSHField(msh, 9)
	h.MessageType = MessageType(strings.TrimSpace(Component(msgType, 1)))
	h.TriggerEvent = TriggerEvent(strings.TrimSpace(Component(msgType, 2)))
	h.Structure = strings.TrimSpace(Component(msgType, 3))
	h.ControlID = MSHField(msh, 10)
	h.Version = Component(MSHField(msh, 12), 1)

	if h.TriggerEvent == "" {
		if evn, ok := FindSegment(raw, "EVN"); ok {
			h.TriggerEvent = TriggerEvent(strings.TrimSpace(Field(evn, 1)))
		}
	}

	return h
}

// TriggerOf returns the trigger event code of raw, or "".
func TriggerOf(raw string) string {
	return string(ParseHeader(raw).TriggerEvent)
}

// Ack is the MSA content of an acknowledgment.
type Ack struct {
	Code      string // AA, AE, AR (or CA, CE, CR)
	ControlID string
	Text      string
}

// Accepted reports whether the acknowledgment code is a positive one.
func (a Ack) Accepted() bool {
	return a.Code == "AA" || a.Code == "CA"
}

// ParseAck extracts MSA-1..3 from an acknowledgment message.
func ParseAck(raw string) (Ack, bool) {
	msa, ok := FindSegment(raw, "MSA")
	if !ok {
		return Ack{}, false
	}
	return Ack{
		Code:      strings.TrimSpace(Field(msa, 1)),
		ControlID: Field(msa, 2),
		Text:      Field(msa, 3),
	}, true
}
