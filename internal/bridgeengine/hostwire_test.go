package bridgeengine

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northfieldiot/pipebridge/internal/control"
	"github.com/northfieldiot/pipebridge/internal/pipetable"
	"github.com/northfieldiot/pipebridge/internal/rpc"
	"github.com/northfieldiot/pipebridge/internal/wire"
)

// memWire is a tiny in-memory rpc.WireTx/WireRx pair used to exercise
// ServeHost without internal/serialport or real hardware.
type memWire struct {
	out chan []byte
	in  chan []byte
}

func newMemWirePair() (hostSide, bridgeSide *memWire) {
	a := make(chan []byte, 16)
	b := make(chan []byte, 16)
	return &memWire{out: a, in: b}, &memWire{out: b, in: a}
}

func (w *memWire) Send(ctx context.Context, raw []byte) error {
	select {
	case w.out <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *memWire) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-w.in:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestHostProxyMessageRoundTrip(t *testing.T) {
	enc := EncodeHostProxyMessage(HostProxyMessage{Serial: 0x0102030405060708, Msg: []byte("hello")})
	dec, err := DecodeHostProxyMessage(enc)
	require.NoError(t, err)
	require.Equal(t, pipetable.Serial(0x0102030405060708), dec.Serial)
	require.Equal(t, []byte("hello"), dec.Msg)
}

func TestBridgeTableRoundTrip(t *testing.T) {
	serials := []pipetable.Serial{1, 2, 3}
	enc := EncodeBridgeTable(serials)
	dec, err := DecodeBridgeTable(enc)
	require.NoError(t, err)
	require.Equal(t, serials, dec)
}

func TestBridgeTableRoundTripEmpty(t *testing.T) {
	enc := EncodeBridgeTable(nil)
	dec, err := DecodeBridgeTable(enc)
	require.NoError(t, err)
	require.Empty(t, dec)
}

func TestServeHostForwardsProxyRequestToNode(t *testing.T) {
	bridgeSide, nodeSide := wire.NewLoopbackMedium(8, nil, nil)
	engine := startEngine(t, bridgeSide)

	init := control.EncodeN2B(0, control.Node2Bridge{Kind: control.N2BInitialize, Serial: 0xAAAA})
	require.NoError(t, nodeSide.Send(context.Background(), wire.Frame{Pipe: wire.BroadcastPipe, Payload: init}))
	recvFrame(t, nodeSide) // InitializeAck

	hostSide, wireSide := newMemWirePair()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = engine.ServeHost(ctx, wireSide, wireSide, nil) }()

	client := rpc.NewClient(ctx, hostSide, hostSide)
	_, err := client.Call(ctx, EndpointHostProxy, EncodeHostProxyMessage(HostProxyMessage{
		Serial: 0xAAAA,
		Msg:    []byte("ping"),
	}))
	require.NoError(t, err)

	fwd := recvFrame(t, nodeSide)
	msg, payload, ok := control.DecodeB2N(fwd.Payload)
	require.True(t, ok)
	require.Equal(t, control.B2NProxy, msg.Kind)
	require.Equal(t, []byte("ping"), payload)
}

func TestServeHostAnswersBridgeUniqueID(t *testing.T) {
	bridgeSide, _ := wire.NewLoopbackMedium(8, nil, nil)
	engine := startEngine(t, bridgeSide)
	engine.SetUniqueID(0x0102030405060708)

	hostSide, wireSide := newMemWirePair()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = engine.ServeHost(ctx, wireSide, wireSide, nil) }()

	client := rpc.NewClient(ctx, hostSide, hostSide)
	resp, err := client.Call(ctx, EndpointBridgeUniqueID, nil)
	require.NoError(t, err)
	require.Len(t, resp, 8)
	require.Equal(t, uint64(0x0102030405060708), binary.LittleEndian.Uint64(resp))
}

func TestServeHostPublishesBridgeToHost(t *testing.T) {
	bridgeSide, nodeSide := wire.NewLoopbackMedium(8, nil, nil)
	engine := startEngine(t, bridgeSide)

	init := control.EncodeN2B(0, control.Node2Bridge{Kind: control.N2BInitialize, Serial: 0xBEEF})
	require.NoError(t, nodeSide.Send(context.Background(), wire.Frame{Pipe: wire.BroadcastPipe, Payload: init}))
	ack := recvFrame(t, nodeSide)
	msg, _, ok := control.DecodeB2N(ack.Payload)
	require.True(t, ok)
	pipe := msg.UsePipe

	hostSide, wireSide := newMemWirePair()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = engine.ServeHost(ctx, wireSide, wireSide, nil) }()

	client := rpc.NewClient(ctx, hostSide, hostSide)
	sub := client.Subscribe(TopicBridgeToHost)

	proxy := control.EncodeN2B(1, control.Node2Bridge{Kind: control.N2BProxy, Part: 0, Total: 1})
	proxy = append(proxy, []byte("reply-body")...)
	require.NoError(t, nodeSide.Send(context.Background(), wire.Frame{Pipe: pipe, Payload: proxy}))

	select {
	case body := <-sub:
		fwd, err := DecodeHostProxyMessage(body)
		require.NoError(t, err)
		require.Equal(t, pipetable.Serial(0xBEEF), fwd.Serial)
		require.Equal(t, []byte("reply-body"), fwd.Msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bridge_to_host publish")
	}
}
