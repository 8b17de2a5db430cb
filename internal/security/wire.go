package security

import (
	"encoding/binary"
	"fmt"

	"github.com/halyardsys/protogate/internal/gwerrors"
)

// magicByte precedes the version byte on the wire so a future incompatible
// format change can be detected before the version check itself would
// produce a confusing parse error.
const magicByte = 0x5E

// Serialize encodes a Secured message into a deterministic, length-prefixed
// binary form. The encoding is opaque to every other component; it is
// only required to round-trip: Deserialize(Serialize(x)) == x.
func Serialize(s *Secured) []byte {
	out := []byte{magicByte, s.Header.Version, uint8(s.Header.Mode)}
	out = appendLP16(out, []byte(s.Header.KeyID))
	out = appendLP16(out, s.Header.Nonce)
	out = appendLP16(out, s.Header.Signature)
	out = appendLP16(out, s.HMAC)
	out = appendLP32(out, s.Payload)
	return out
}

// Deserialize decodes bytes produced by Serialize.
func Deserialize(data []byte) (*Secured, error) {
	if len(data) < 3 || data[0] != magicByte {
		return nil, fmt.Errorf("%w: secured message missing magic byte", gwerrors.ErrParse)
	}
	version := data[1]
	if version != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported secured-message version %d", gwerrors.ErrParse, version)
	}
	mode := Mode(data[2])
	rest := data[3:]

	keyID, rest, err := readLP16(rest)
	if err != nil {
		return nil, err
	}
	nonce, rest, err := readLP16(rest)
	if err != nil {
		return nil, err
	}
	signature, rest, err := readLP16(rest)
	if err != nil {
		return nil, err
	}
	hmac, rest, err := readLP16(rest)
	if err != nil {
		return nil, err
	}
	payload, rest, err := readLP32(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: secured message has trailing bytes", gwerrors.ErrParse)
	}

	return &Secured{
		Header: Header{
			Version:   version,
			Mode:      mode,
			KeyID:     string(keyID),
			Nonce:     nonce,
			Signature: signature,
		},
		Payload: payload,
		HMAC:    hmac,
	}, nil
}

func appendLP16(dst []byte, field []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(field)))
	return append(dst, field...)
}

func appendLP32(dst []byte, field []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(field)))
	return append(dst, field...)
}

func readLP16(data []byte) (field []byte, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("%w: truncated length-prefixed field", gwerrors.ErrParse)
	}
	n := binary.BigEndian.Uint16(data[:2])
	data = data[2:]
	if len(data) < int(n) {
		return nil, nil, fmt.Errorf("%w: truncated field body", gwerrors.ErrParse)
	}
	var out []byte
	if n > 0 {
		out = append([]byte(nil), data[:n]...)
	}
	return out, data[n:], nil
}

func readLP32(data []byte) (field []byte, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated length-prefixed field", gwerrors.ErrParse)
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) < uint64(n) {
		return nil, nil, fmt.Errorf("%w: truncated field body", gwerrors.ErrParse)
	}
	var out []byte
	if n > 0 {
		out = append([]byte(nil), data[:n]...)
	}
	return out, data[n:], nil
}
