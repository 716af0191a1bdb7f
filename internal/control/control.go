// Package control implements the framing codec for the two control
// topics carried over every radio packet (spec.md §4.A): Node→Bridge
// (N2B) and Bridge→Node (B2N). Each encoded packet is a small
// direction-tagged header, a one-byte message tag, a fixed-size body,
// and — for Proxy messages only — a trailing fragment payload that the
// decoder exposes by reference instead of copying.
package control

import "encoding/binary"

// Topic keys distinguish the two control directions. They play the
// role of postcard-rpc's two-byte topic key (spec.md §4.A
// "variable key kind 'two-byte-key'"): a decoder rejects a packet whose
// key doesn't match the direction it expects.
const (
	KeyN2B uint16 = 0x4E32 // "N2"
	KeyB2N uint16 = 0x4232 // "B2"
)

// headerSize is 2 bytes of topic key + 2 bytes of wrapping sequence
// number.
const headerSize = 4

// Header is the per-packet envelope shared by both directions.
type Header struct {
	Key uint16
	Seq uint16
}

func encodeHeader(h Header, buf []byte) int {
	binary.LittleEndian.PutUint16(buf[0:2], h.Key)
	binary.LittleEndian.PutUint16(buf[2:4], h.Seq)
	return headerSize
}

func decodeHeader(data []byte) (Header, []byte, bool) {
	if len(data) < headerSize {
		return Header{}, nil, false
	}
	h := Header{
		Key: binary.LittleEndian.Uint16(data[0:2]),
		Seq: binary.LittleEndian.Uint16(data[2:4]),
	}
	return h, data[headerSize:], true
}

// N2BKind tags the variant of a Node2Bridge message.
type N2BKind uint8

const (
	N2BInitialize N2BKind = iota
	N2BKeepalive
	N2BProxy
	N2BNop
)

// Node2Bridge is the tagged union of node-originated control messages.
// Serial is meaningful for Initialize/Keepalive; Part/Total are
// meaningful for Proxy, whose fragment payload is returned separately
// by Decode.
type Node2Bridge struct {
	Kind   N2BKind
	Serial uint64
	Part   uint8
	Total  uint8
}

// B2NKind tags the variant of a Bridge2Node message.
type B2NKind uint8

const (
	B2NInitializeAck B2NKind = iota
	B2NKeepalive
	B2NProxy
	B2NReset
)

// Bridge2Node is the tagged union of bridge-originated control
// messages.
type Bridge2Node struct {
	Kind    B2NKind
	Serial  uint64
	UsePipe uint8
	Part    uint8
	Total   uint8
}

// EncodeN2B serializes msg with the given sequence number. The
// returned slice does not include any Proxy fragment payload; callers
// append that themselves (spec.md §4.A: "the remaining unconsumed
// bytes of the packet are the fragment payload").
func EncodeN2B(seq uint16, msg Node2Bridge) []byte {
	buf := make([]byte, headerSize+1+8)
	n := encodeHeader(Header{Key: KeyN2B, Seq: seq}, buf)
	buf[n] = byte(msg.Kind)
	n++
	switch msg.Kind {
	case N2BInitialize, N2BKeepalive:
		binary.LittleEndian.PutUint64(buf[n:n+8], msg.Serial)
		n += 8
	case N2BProxy:
		buf[n] = msg.Part
		buf[n+1] = msg.Total
		n += 2
	case N2BNop:
	}
	return buf[:n]
}

// DecodeN2B parses data as an N2B control packet. remain is the tail
// of data following the control header — the fragment payload for
// Proxy messages, empty otherwise.
func DecodeN2B(data []byte) (msg Node2Bridge, remain []byte, ok bool) {
	hdr, rest, ok := decodeHeader(data)
	if !ok || hdr.Key != KeyN2B {
		return Node2Bridge{}, nil, false
	}
	if len(rest) < 1 {
		return Node2Bridge{}, nil, false
	}
	kind := N2BKind(rest[0])
	rest = rest[1:]
	switch kind {
	case N2BInitialize, N2BKeepalive:
		if len(rest) < 8 {
			return Node2Bridge{}, nil, false
		}
		return Node2Bridge{Kind: kind, Serial: binary.LittleEndian.Uint64(rest[:8])}, rest[8:], true
	case N2BProxy:
		if len(rest) < 2 {
			return Node2Bridge{}, nil, false
		}
		return Node2Bridge{Kind: kind, Part: rest[0], Total: rest[1]}, rest[2:], true
	case N2BNop:
		return Node2Bridge{Kind: kind}, rest, true
	default:
		return Node2Bridge{}, nil, false
	}
}

// EncodeB2N serializes msg with the given sequence number. As with
// EncodeN2B, any Proxy fragment payload is appended by the caller.
func EncodeB2N(seq uint16, msg Bridge2Node) []byte {
	buf := make([]byte, headerSize+1+9)
	n := encodeHeader(Header{Key: KeyB2N, Seq: seq}, buf)
	buf[n] = byte(msg.Kind)
	n++
	switch msg.Kind {
	case B2NInitializeAck:
		binary.LittleEndian.PutUint64(buf[n:n+8], msg.Serial)
		buf[n+8] = msg.UsePipe
		n += 9
	case B2NKeepalive:
		binary.LittleEndian.PutUint64(buf[n:n+8], msg.Serial)
		n += 8
	case B2NProxy:
		buf[n] = msg.Part
		buf[n+1] = msg.Total
		n += 2
	case B2NReset:
	}
	return buf[:n]
}

// DecodeB2N parses data as a B2N control packet, mirroring DecodeN2B.
func DecodeB2N(data []byte) (msg Bridge2Node, remain []byte, ok bool) {
	hdr, rest, ok := decodeHeader(data)
	if !ok || hdr.Key != KeyB2N {
		return Bridge2Node{}, nil, false
	}
	if len(rest) < 1 {
		return Bridge2Node{}, nil, false
	}
	kind := B2NKind(rest[0])
	rest = rest[1:]
	switch kind {
	case B2NInitializeAck:
		if len(rest) < 9 {
			return Bridge2Node{}, nil, false
		}
		return Bridge2Node{
			Kind:    kind,
			Serial:  binary.LittleEndian.Uint64(rest[:8]),
			UsePipe: rest[8],
		}, rest[9:], true
	case B2NKeepalive:
		if len(rest) < 8 {
			return Bridge2Node{}, nil, false
		}
		return Bridge2Node{Kind: kind, Serial: binary.LittleEndian.Uint64(rest[:8])}, rest[8:], true
	case B2NProxy:
		if len(rest) < 2 {
			return Bridge2Node{}, nil, false
		}
		return Bridge2Node{Kind: kind, Part: rest[0], Total: rest[1]}, rest[2:], true
	case B2NReset:
		return Bridge2Node{Kind: kind}, rest, true
	default:
		return Bridge2Node{}, nil, false
	}
}
