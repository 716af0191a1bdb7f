package control

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestN2BRoundTrip(t *testing.T) {
	enc := EncodeN2B(7, Node2Bridge{Kind: N2BInitialize, Serial: 0x0102030405060708})
	msg, remain, ok := DecodeN2B(enc)
	require.True(t, ok)
	require.Empty(t, remain)
	require.Equal(t, Node2Bridge{Kind: N2BInitialize, Serial: 0x0102030405060708}, msg)
}

func TestN2BProxyCarriesTail(t *testing.T) {
	enc := EncodeN2B(1, Node2Bridge{Kind: N2BProxy, Part: 2, Total: 5})
	enc = append(enc, []byte("payload-bytes")...)
	msg, remain, ok := DecodeN2B(enc)
	require.True(t, ok)
	require.Equal(t, N2BProxy, msg.Kind)
	require.Equal(t, uint8(2), msg.Part)
	require.Equal(t, uint8(5), msg.Total)
	require.Equal(t, []byte("payload-bytes"), remain)
}

func TestB2NRoundTrip(t *testing.T) {
	enc := EncodeB2N(99, Bridge2Node{Kind: B2NInitializeAck, Serial: 42, UsePipe: 3})
	msg, remain, ok := DecodeB2N(enc)
	require.True(t, ok)
	require.Empty(t, remain)
	require.Equal(t, Bridge2Node{Kind: B2NInitializeAck, Serial: 42, UsePipe: 3}, msg)
}

func TestDecodeRejectsWrongDirection(t *testing.T) {
	enc := EncodeN2B(1, Node2Bridge{Kind: N2BNop})
	_, _, ok := DecodeB2N(enc)
	require.False(t, ok, "B2N decoder must reject an N2B-keyed packet")

	enc2 := EncodeB2N(1, Bridge2Node{Kind: B2NReset})
	_, _, ok = DecodeN2B(enc2)
	require.False(t, ok, "N2B decoder must reject a B2N-keyed packet")
}

func TestDecodeRejectsTruncated(t *testing.T) {
	_, _, ok := DecodeN2B([]byte{0x01})
	require.False(t, ok)

	enc := EncodeN2B(1, Node2Bridge{Kind: N2BInitialize, Serial: 1})
	_, _, ok = DecodeN2B(enc[:len(enc)-2])
	require.False(t, ok)
}
