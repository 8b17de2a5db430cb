package ipframed

import (
	"bytes"
	"testing"

	"github.com/halyardsys/protogate/internal/message"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	p := &Packet{
		Command:       SendReqResp,
		Reserved:      0,
		SessionHandle: 0xAABBCCDD,
		Status:        0,
		SenderContext: [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		Options:       0xDEADBEEF,
		Payload:       []byte("hello gateway"),
	}

	wire := Serialize(p)
	got, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !got.Command.Equal(p.Command) {
		t.Fatalf("command mismatch: got %v want %v", got.Command, p.Command)
	}
	if got.SessionHandle != p.SessionHandle {
		t.Fatalf("session handle mismatch: got %x want %x", got.SessionHandle, p.SessionHandle)
	}
	if got.Options != p.Options {
		t.Fatalf("options mismatch: got %x want %x", got.Options, p.Options)
	}
	if got.SenderContext != p.SenderContext {
		t.Fatalf("sender context mismatch")
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("payload mismatch: got %q want %q", got.Payload, p.Payload)
	}
	if got.LengthMismatch() {
		t.Fatalf("expected length field to match serialized size")
	}
}

func TestParseRejectsShortBuffer(t *testing.T) {
	if _, err := Parse(make([]byte, HeaderSize-1)); err == nil {
		t.Fatalf("expected error for undersized buffer")
	}
}

func TestParseFlagsLengthMismatch(t *testing.T) {
	p := &Packet{Command: SendUnitData, Payload: []byte("abc")}
	wire := Serialize(p)
	wire[2] = 0xFF // corrupt the length high byte
	got, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !got.LengthMismatch() {
		t.Fatalf("expected length mismatch to be flagged")
	}
}

func TestCommandFromByteUnknownIsCustom(t *testing.T) {
	c := CommandFromByte(0xEE)
	if !c.IsCustom() {
		t.Fatalf("expected 0xEE to be an unrecognized command")
	}
	if c.Byte() != 0xEE {
		t.Fatalf("expected byte round-trip, got %#x", c.Byte())
	}
}

func TestToCommonMarksCommandAndResponseExpectation(t *testing.T) {
	p := &Packet{Command: SendReqResp, Payload: []byte("x")}
	cm := ToCommon(p, Addresses{Source: "10.0.0.1", Destination: "10.0.0.2"})

	if !cm.Metadata.IsCommand {
		t.Fatalf("SendReqResp should be classified as a command")
	}
	if !cm.Metadata.RequiresResponse {
		t.Fatalf("SendReqResp should require a response")
	}
	if cm.Metadata.SourceAddress != "10.0.0.1" || cm.Metadata.DestinationAddress != "10.0.0.2" {
		t.Fatalf("unexpected addresses: %+v", cm.Metadata)
	}
}

func TestToCommonUnregisterSessionNeedsNoResponse(t *testing.T) {
	p := &Packet{Command: UnregisterSession, Payload: []byte("x")}
	cm := ToCommon(p, PlaceholderAddresses)
	if cm.Metadata.IsCommand {
		t.Fatalf("UnregisterSession should not be classified as a command")
	}
	if cm.Metadata.RequiresResponse {
		t.Fatalf("UnregisterSession should not require a response")
	}
}

func TestFromCommonChoosesCommandByDirection(t *testing.T) {
	cmd := message.Common{
		Payload:  []byte("payload"),
		Metadata: message.Metadata{IsCommand: true, MessageID: 0x1_0000_0042},
	}
	pkt, err := FromCommon(cmd)
	if err != nil {
		t.Fatalf("FromCommon: %v", err)
	}
	if !pkt.Command.Equal(SendReqResp) {
		t.Fatalf("expected SendReqResp for a command message, got %v", pkt.Command)
	}
	if pkt.SessionHandle != 0x42 {
		t.Fatalf("expected session handle truncated from message id, got %#x", pkt.SessionHandle)
	}

	resp := message.Common{Payload: []byte("r"), Metadata: message.Metadata{IsCommand: false}}
	pkt2, err := FromCommon(resp)
	if err != nil {
		t.Fatalf("FromCommon: %v", err)
	}
	if !pkt2.Command.Equal(SendUnitData) {
		t.Fatalf("expected SendUnitData for a non-command message, got %v", pkt2.Command)
	}
}
