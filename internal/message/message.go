// Package message defines the protocol-neutral message shape that every
// codec normalizes into and every downstream component (router,
// transformer, security envelope) operates on.
package message

import (
	"fmt"

	"github.com/halyardsys/protogate/internal/protocol"
)

// Metadata carries the identity and scheduling facts a router needs that
// aren't part of the payload itself.
type Metadata struct {
	SourceAddress     string
	DestinationAddress string
	TimestampMs       uint64
	MessageID         uint64
	IsCommand         bool
	RequiresResponse  bool
}

// Common is the normalized, protocol-neutral representation both codecs
// project onto and read back from. Every component other than the
// normalizer treats it as opaque except through these documented fields.
type Common struct {
	SourceProtocol protocol.Type
	// TargetProtocol is optional; absence is a wildcard for the router.
	// When present it may merely be a hint set by a codec's ToCommon — the
	// transformer overwrites it with the matched rule's target when that
	// rule pins one; a wildcard rule leaves the hint in place.
	TargetProtocol *protocol.Type
	Priority       uint8
	Payload        []byte
	Metadata       Metadata
}

// Clone returns a deep copy suitable for the transformer to mutate without
// aliasing the original message's payload or target pointer.
func (m Common) Clone() Common {
	out := m
	if m.TargetProtocol != nil {
		tp := *m.TargetProtocol
		out.TargetProtocol = &tp
	}
	if m.Payload != nil {
		out.Payload = append([]byte(nil), m.Payload...)
	}
	return out
}

// WithTarget returns a copy of m with TargetProtocol set to t.
func (m Common) WithTarget(t protocol.Type) Common {
	out := m.Clone()
	out.TargetProtocol = &t
	return out
}

// String renders a short diagnostic summary, never the payload.
func (m Common) String() string {
	target := "nil"
	if m.TargetProtocol != nil {
		target = m.TargetProtocol.String()
	}
	return fmt.Sprintf("Common{source=%s target=%s priority=%d from=%s to=%s id=%d}",
		m.SourceProtocol, target, m.Priority, m.Metadata.SourceAddress,
		m.Metadata.DestinationAddress, m.Metadata.MessageID)
}
