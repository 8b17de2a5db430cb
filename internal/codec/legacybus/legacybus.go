// Package legacybus implements the wire codec and normalizer for the
// legacy command/response avionics bus: fixed 16-bit command/status/data
// words addressed by remote terminal.
package legacybus

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/halyardsys/protogate/internal/gwerrors"
	"github.com/halyardsys/protogate/internal/message"
	"github.com/halyardsys/protogate/internal/protocol"
)

// Kind is the derived transaction kind of a LegacyMessage, a pure function
// of its command word's subaddress and transmit/receive bit.
type Kind uint8

const (
	ControllerToTerminal Kind = iota
	TerminalToController
	// TerminalToTerminal is recognizable only by an additional second
	// command word in some bus variants. Parse never produces this kind;
	// it exists so callers can construct one directly (e.g. in tests) and
	// so the normalizer and router can reason about it.
	TerminalToTerminal
	ModeCode
)

func (k Kind) String() string {
	switch k {
	case ControllerToTerminal:
		return "controller_to_terminal"
	case TerminalToController:
		return "terminal_to_controller"
	case TerminalToTerminal:
		return "terminal_to_terminal"
	case ModeCode:
		return "mode_code"
	default:
		return "unknown_kind"
	}
}

const (
	// BroadcastAddress is the reserved terminal address (31) denoting broadcast.
	BroadcastAddress = 31
	// MaxDataWords is the most data words a single transaction carries.
	MaxDataWords = 32
)

// Word is a 16-bit command or status word with bitfields:
//
//	terminal address: bits 15-11 (5-bit, 0-31; 31 = broadcast)
//	transmit/receive:  bit 10    (0 = controller->terminal, 1 = terminal->controller)
//	subaddress:        bits 9-5  (0 = mode code, 1-30 data, 31 reserved)
//	word count:        bits 4-0  (0 encoded as 32 for data transfers)
type Word uint16

func (w Word) TerminalAddress() uint8 { return uint8(w>>11) & 0x1F }
func (w Word) TRBit() uint8           { return uint8(w>>10) & 0x01 }
func (w Word) Subaddress() uint8      { return uint8(w>>5) & 0x1F }
func (w Word) WordCount() int {
	n := int(w & 0x1F)
	if n == 0 {
		return MaxDataWords
	}
	return n
}

// NewWord packs bitfields into a command/status word. wordCount of 32 is
// encoded as the zero bit pattern per the wire format.
func NewWord(terminalAddr, trBit, subaddress uint8, wordCount int) Word {
	stored := wordCount
	if stored == MaxDataWords {
		stored = 0
	}
	return Word(uint16(terminalAddr&0x1F)<<11 | uint16(trBit&0x01)<<10 | uint16(subaddress&0x1F)<<5 | uint16(stored&0x1F))
}

// Message is a parsed (or hand-built) legacy-bus transaction.
type Message struct {
	CommandWord Word
	StatusWord  *Word
	DataWords   []uint16
	Kind        Kind
	TimestampMs uint64
}

// Parse decodes a legacy-bus transaction from raw big-endian 16-bit words.
func Parse(data []byte) (*Message, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: legacy bus transaction requires at least 2 bytes, got %d", gwerrors.ErrParse, len(data))
	}

	cmd := Word(binary.BigEndian.Uint16(data[0:2]))
	rest := data[2:]

	kind := deriveKind(cmd)

	msg := &Message{
		CommandWord: cmd,
		Kind:        kind,
		TimestampMs: uint64(time.Now().UnixMilli()),
	}

	if kind == TerminalToController && len(rest) >= 2 {
		status := Word(binary.BigEndian.Uint16(rest[0:2]))
		msg.StatusWord = &status
		rest = rest[2:]
	}

	for i := 0; i+1 < len(rest) && len(msg.DataWords) < MaxDataWords; i += 2 {
		msg.DataWords = append(msg.DataWords, binary.BigEndian.Uint16(rest[i:i+2]))
	}

	return msg, nil
}

func deriveKind(cmd Word) Kind {
	if cmd.Subaddress() == 0 {
		return ModeCode
	}
	if cmd.TRBit() == 0 {
		return ControllerToTerminal
	}
	return TerminalToController
}

// Serialize re-emits the command word, optional status word, then each data
// word, all big-endian.
func Serialize(m *Message) []byte {
	out := make([]byte, 0, 2+2+2*len(m.DataWords))
	out = binary.BigEndian.AppendUint16(out, uint16(m.CommandWord))
	if m.StatusWord != nil {
		out = binary.BigEndian.AppendUint16(out, uint16(*m.StatusWord))
	}
	for _, w := range m.DataWords {
		out = binary.BigEndian.AppendUint16(out, w)
	}
	return out
}

// ToCommon projects a legacy-bus message onto the protocol-neutral shape.
// The target protocol is set to IpFramed as a hint only; the transformer
// overwrites it with whatever the matched rule specifies.
func ToCommon(m *Message) message.Common {
	var source, destination string

	switch m.Kind {
	case ControllerToTerminal, ModeCode:
		source = "BC"
		destination = rtAddress(m.CommandWord.TerminalAddress())
	case TerminalToController:
		source = rtAddress(m.CommandWord.TerminalAddress())
		destination = "BC"
	case TerminalToTerminal:
		// Source RT is extracted from the status word's RT field; the
		// destination remains the command word's terminal address.
		if m.StatusWord != nil {
			source = rtAddress(m.StatusWord.TerminalAddress())
		} else {
			source = "RT0"
		}
		destination = rtAddress(m.CommandWord.TerminalAddress())
	}

	payload := make([]byte, 2*len(m.DataWords))
	for i, w := range m.DataWords {
		binary.BigEndian.PutUint16(payload[i*2:i*2+2], w)
	}

	target := protocol.IpFramed
	return message.Common{
		SourceProtocol: protocol.LegacyBus,
		TargetProtocol: &target,
		Priority:       2,
		Payload:        payload,
		Metadata: message.Metadata{
			SourceAddress:      source,
			DestinationAddress: destination,
			TimestampMs:        m.TimestampMs,
			MessageID:          messageID(m.TimestampMs, uint64(m.CommandWord)),
			IsCommand:          m.Kind == ControllerToTerminal || m.Kind == ModeCode,
			RequiresResponse:   m.Kind != TerminalToController,
		},
	}
}

func messageID(timestampMs, intraProtocolID uint64) uint64 {
	return (timestampMs << 16) | (intraProtocolID & 0xFFFF)
}

// FromCommon builds a legacy-bus message from a normalized message headed
// for this protocol. The command word's addressing is derived from the
// message direction; subaddress 1 (data) is used for all constructed
// transactions since CommonMessage carries no subaddress of its own.
func FromCommon(cm message.Common) (*Message, error) {
	words, err := bytesToWords(cm.Payload)
	if err != nil {
		return nil, err
	}

	var addrString string
	var trBit uint8
	var kind Kind
	if cm.Metadata.IsCommand {
		addrString = cm.Metadata.DestinationAddress
		trBit = 0
		kind = ControllerToTerminal
	} else {
		addrString = cm.Metadata.SourceAddress
		trBit = 1
		kind = TerminalToController
	}

	addr, err := parseRT(addrString)
	if err != nil {
		return nil, fmt.Errorf("%w: legacy destination %q: %v", gwerrors.ErrParse, addrString, err)
	}

	cmdWord := NewWord(addr, trBit, 1, len(words))

	m := &Message{
		CommandWord: cmdWord,
		DataWords:   words,
		Kind:        kind,
		TimestampMs: cm.Metadata.TimestampMs,
	}

	if kind == TerminalToController {
		status := NewWord(addr, trBit, 1, len(words))
		m.StatusWord = &status
	}

	return m, nil
}

func bytesToWords(payload []byte) ([]uint16, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("%w: legacy payload must have even byte length, got %d", gwerrors.ErrParse, len(payload))
	}
	words := make([]uint16, len(payload)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(payload[i*2 : i*2+2])
	}
	return words, nil
}

func rtAddress(addr uint8) string {
	return "RT" + strconv.Itoa(int(addr))
}

func parseRT(s string) (uint8, error) {
	if s == "BC" {
		return 0, fmt.Errorf("cannot address the bus controller as a remote terminal")
	}
	n := strings.TrimPrefix(s, "RT")
	if n == s {
		return 0, fmt.Errorf("address %q is not in RT<n> form", s)
	}
	v, err := strconv.Atoi(n)
	if err != nil || v < 0 || v > 31 {
		return 0, fmt.Errorf("address %q is not a valid terminal number", s)
	}
	return uint8(v), nil
}
