package hl7v2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeader(t *testing.T) {
	h := ParseHeader(admitMessage)

	assert.Equal(t, MessageTypeADT, h.MessageType)
	assert.Equal(t, TriggerA01, h.TriggerEvent)
	assert.Equal(t, "ADT_A01", h.Structure)
	assert.Equal(t, "MSG0001", h.ControlID)
	assert.Equal(t, "2.5", h.Version)
	assert.Equal(t, "SENDER", h.SendingApp)
	assert.Equal(t, "FAC", h.SendingFacility)
	assert.Equal(t, "RECEIVER", h.ReceivingApp)
	assert.Equal(t, "RFAC", h.ReceivingFac)
	assert.Equal(t, "ADT^A01", h.Code())

	require.NotNil(t, h.Timestamp)
	assert.Equal(t, time.Date(2024, 11, 1, 8, 0, 0, 0, time.UTC), *h.Timestamp)
}

func TestParseHeader_TriggerFromEVN(t *testing.T) {
	raw := "MSH|^~\\&|A|B|C|D|20241101||ADT|42|P|2.5\rEVN|A03|20241101"
	h := ParseHeader(raw)
	assert.Equal(t, TriggerA03, h.TriggerEvent)
	assert.Equal(t, "ADT^A03", h.Code())
}

func TestParseHeader_NoMSH(t *testing.T) {
	h := ParseHeader("PID|1||123")
	assert.Equal(t, Header{}, h)
	assert.Equal(t, "", TriggerOf("garbage"))
}

func TestParseAck(t *testing.T) {
	ack, ok := ParseAck("MSH|^~\\&|R|RF|S|SF|20241101||ACK^A01^ACK|9|P|2.5\rMSA|AE|MSG0001|unknown patient")
	require.True(t, ok)
	assert.Equal(t, "AE", ack.Code)
	assert.Equal(t, "MSG0001", ack.ControlID)
	assert.Equal(t, "unknown patient", ack.Text)
	assert.False(t, ack.Accepted())

	assert.True(t, Ack{Code: "AA"}.Accepted())
	assert.True(t, Ack{Code: "CA"}.Accepted())

	_, ok = ParseAck("MSH|^~\\&|R")
	assert.False(t, ok)
}

func TestBuildAck(t *testing.T) {
	raw := BuildAck(admitMessage, "AA", "")

	h := ParseHeader(raw)
	assert.Equal(t, MessageTypeACK, h.MessageType)
	assert.Equal(t, TriggerA01, h.TriggerEvent)
	assert.Equal(t, "RECEIVER", h.SendingApp)
	assert.Equal(t, "SENDER", h.ReceivingApp)
	assert.NotEmpty(t, h.ControlID)

	ack, ok := ParseAck(raw)
	require.True(t, ok)
	assert.True(t, ack.Accepted())
	assert.Equal(t, "MSG0001", ack.ControlID)
}
