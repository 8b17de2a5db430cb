// Package ipframed implements the wire codec and normalizer for the
// modern IP-encapsulated industrial protocol: a fixed 24-byte header plus
// variable-length payload, addressed by session handle.
package ipframed

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/halyardsys/protogate/internal/gwerrors"
	"github.com/halyardsys/protogate/internal/message"
	"github.com/halyardsys/protogate/internal/protocol"
)

// HeaderSize is the fixed on-wire header length in bytes.
const HeaderSize = 24

// Command is the packet's command byte: a closed set of recognized values
// plus an open Custom(u8) for anything else.
type Command struct {
	value uint8
	known bool
	name  string
}

var (
	ListIdentity    = Command{0x63, true, "ListIdentity"}
	ListServices    = Command{0x64, true, "ListServices"}
	ListInterfaces  = Command{0x65, true, "ListInterfaces"}
	RegisterSession = Command{0x66, true, "RegisterSession"}
	UnregisterSession = Command{0x67, true, "UnregisterSession"}
	SendReqResp     = Command{0x6F, true, "SendReqResp"}
	SendUnitData    = Command{0x70, true, "SendUnitData"}
	DataRequest     = Command{0x0A, true, "DataRequest"}
	DataResponse    = Command{0x0B, true, "DataResponse"}
)

var knownCommands = []Command{
	ListIdentity, ListServices, ListInterfaces, RegisterSession,
	UnregisterSession, SendReqResp, SendUnitData, DataRequest, DataResponse,
}

// CommandFromByte resolves a wire byte to a Command, recognized or Custom.
func CommandFromByte(b uint8) Command {
	for _, c := range knownCommands {
		if c.value == b {
			return c
		}
	}
	return Command{value: b, known: false, name: fmt.Sprintf("Custom(0x%02x)", b)}
}

// Byte returns the wire representation of the command.
func (c Command) Byte() uint8 { return c.value }

// IsCustom reports whether this is an unrecognized (open) command value.
func (c Command) IsCustom() bool { return !c.known }

func (c Command) String() string { return c.name }

// Equal compares two commands by wire value.
func (c Command) Equal(other Command) bool { return c.value == other.value }

// Packet is a parsed (or hand-built) IP-framed packet.
type Packet struct {
	Command       Command
	Reserved      uint8
	Length        uint16 // as read from the wire; may mismatch actual size
	SessionHandle uint32
	Status        uint32
	SenderContext [8]byte
	Options       uint32
	Payload       []byte

	// lengthMismatch records whether Parse observed Length != 24+len(Payload).
	// Such packets are still accepted; the caller may choose to log it.
	lengthMismatch bool
}

// LengthMismatch reports whether the decoded length field did not match
// the packet's actual on-wire byte count. Parser tolerates this; callers
// that care about it (e.g. for logging) can check here.
func (p *Packet) LengthMismatch() bool { return p.lengthMismatch }

// Parse decodes an IP-framed packet from raw bytes.
func Parse(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: ip-framed packet requires at least %d bytes, got %d", gwerrors.ErrParse, HeaderSize, len(data))
	}

	p := &Packet{
		Command:       CommandFromByte(data[0]),
		Reserved:      data[1],
		Length:        binary.BigEndian.Uint16(data[2:4]),
		SessionHandle: binary.BigEndian.Uint32(data[4:8]),
		Status:        binary.BigEndian.Uint32(data[8:12]),
		Options:       binary.BigEndian.Uint32(data[20:24]),
	}
	copy(p.SenderContext[:], data[12:20])
	p.Payload = append([]byte(nil), data[HeaderSize:]...)

	if int(p.Length) != HeaderSize+len(p.Payload) {
		p.lengthMismatch = true
	}

	return p, nil
}

// Serialize re-emits the header followed by the payload, recomputing the
// length field to equal HeaderSize + len(Payload).
func Serialize(p *Packet) []byte {
	out := make([]byte, HeaderSize+len(p.Payload))
	out[0] = p.Command.Byte()
	out[1] = p.Reserved
	binary.BigEndian.PutUint16(out[2:4], uint16(HeaderSize+len(p.Payload)))
	binary.BigEndian.PutUint32(out[4:8], p.SessionHandle)
	binary.BigEndian.PutUint32(out[8:12], p.Status)
	copy(out[12:20], p.SenderContext[:])
	binary.BigEndian.PutUint32(out[20:24], p.Options)
	copy(out[HeaderSize:], p.Payload)
	return out
}

func isCommand(c Command) bool {
	switch c.value {
	case ListIdentity.value, ListServices.value, RegisterSession.value, SendReqResp.value, DataRequest.value:
		return true
	default:
		return false
	}
}

func requiresResponse(c Command) bool {
	if !isCommand(c) {
		return false
	}
	switch c.value {
	case UnregisterSession.value, SendUnitData.value:
		return false
	default:
		return true
	}
}

// Addresses supplies the network-layer peer addresses a transport
// collaborator knows but the codec doesn't: the codec never does I/O.
type Addresses struct {
	Source      string
	Destination string
}

// PlaceholderAddresses is used when the caller has no transport-layer
// peer address available.
var PlaceholderAddresses = Addresses{Source: "unknown", Destination: "unknown"}

// ToCommon projects an IP-framed packet onto the protocol-neutral shape.
// addrs supplies source/destination since the codec has no access to the
// underlying connection's peer address.
func ToCommon(p *Packet, addrs Addresses) message.Common {
	cmd := isCommand(p.Command)
	timestampMs := uint64(time.Now().UnixMilli())

	priority := uint8(3)
	if cmd {
		priority = 1
	}

	target := protocol.LegacyBus
	return message.Common{
		SourceProtocol: protocol.IpFramed,
		TargetProtocol: &target,
		Priority:       priority,
		Payload:        append([]byte(nil), p.Payload...),
		Metadata: message.Metadata{
			SourceAddress:      addrs.Source,
			DestinationAddress: addrs.Destination,
			TimestampMs:        timestampMs,
			MessageID:          (timestampMs << 32) | uint64(p.SessionHandle),
			IsCommand:          cmd,
			RequiresResponse:   requiresResponse(p.Command),
		},
	}
}

// FromCommon builds an IP-framed packet from a normalized message headed
// for this protocol. The command is chosen from the message's command/
// response distinction; callers needing a specific wire command should
// construct the Packet directly instead.
func FromCommon(cm message.Common) (*Packet, error) {
	var cmd Command
	if cm.Metadata.IsCommand {
		cmd = SendReqResp
	} else {
		cmd = SendUnitData
	}

	sessionHandle := uint32(cm.Metadata.MessageID & 0xFFFFFFFF)

	return &Packet{
		Command:       cmd,
		Reserved:      0,
		SessionHandle: sessionHandle,
		Status:        0,
		Payload:       append([]byte(nil), cm.Payload...),
	}, nil
}
