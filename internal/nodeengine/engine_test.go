package nodeengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northfieldiot/pipebridge/internal/control"
	"github.com/northfieldiot/pipebridge/internal/wire"
)

// bridgeAckOnce answers Initialize with a fixed InitializeAck and nothing
// else, enough to exercise Attach without the full bridgeengine. It
// waits longer than attachTimeout so that a retried Initialize arrives
// inside its window.
func bridgeAckOnce(t *testing.T, phy wire.RadioPHY, serial uint64, pipe uint8) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*attachTimeout)
	defer cancel()
	f, err := phy.Recv(ctx)
	require.NoError(t, err)
	msg, _, ok := control.DecodeN2B(f.Payload)
	require.True(t, ok)
	require.Equal(t, control.N2BInitialize, msg.Kind)
	require.Equal(t, serial, msg.Serial)

	reply := control.EncodeB2N(0, control.Bridge2Node{Kind: control.B2NInitializeAck, Serial: serial, UsePipe: pipe})
	require.NoError(t, phy.Send(ctx, wire.Frame{Pipe: wire.BroadcastPipe, Payload: reply}))
}

func TestAttachSucceeds(t *testing.T) {
	bridgeSide, nodeSide := wire.NewLoopbackMedium(8, nil, nil)
	e := New(nodeSide, 0x1234, nil)

	done := make(chan error, 1)
	go func() { done <- e.Attach(context.Background()) }()

	bridgeAckOnce(t, bridgeSide, 0x1234, 3)

	require.NoError(t, <-done)
	require.Equal(t, uint8(3), e.Pipe())
}

func TestAttachRetriesOnTimeout(t *testing.T) {
	bridgeSide, nodeSide := wire.NewLoopbackMedium(8, nil, nil)
	e := New(nodeSide, 55, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Attach(ctx) }()

	// Drain and ignore the first Initialize (simulating a lost ack),
	// then answer the second.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	_, err := bridgeSide.Recv(ctx2)
	require.NoError(t, err)

	bridgeAckOnce(t, bridgeSide, 55, 1)
	require.NoError(t, <-done)
}

func TestSendChunksProxyFragments(t *testing.T) {
	bridgeSide, nodeSide := wire.NewLoopbackMedium(8, nil, nil)
	e := New(nodeSide, 1, nil)
	e.pipe = 2

	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, e.Send(context.Background(), payload))

	var got []byte
	for i := 0; i < 3; i++ {
		f, err := bridgeSide.Recv(context.Background())
		require.NoError(t, err)
		require.Equal(t, uint8(2), f.Pipe)
		msg, remain, ok := control.DecodeN2B(f.Payload)
		require.True(t, ok)
		require.Equal(t, control.N2BProxy, msg.Kind)
		require.Equal(t, uint8(i), msg.Part)
		require.Equal(t, uint8(3), msg.Total)
		got = append(got, remain...)
	}
	require.Equal(t, payload, got)
}
