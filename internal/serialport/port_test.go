package serialport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// rwc adapts a net.Conn half as the io.ReadWriteCloser newPort expects.
type rwc struct {
	net.Conn
}

func pipePorts(t *testing.T) (a, b *Port) {
	t.Helper()
	c1, c2 := net.Pipe()
	a = newPort(&rwc{c1}, nil)
	b = newPort(&rwc{c2}, nil)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestSendReceiveRoundTrip(t *testing.T) {
	a, b := pipePorts(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() { _ = a.Send(ctx, []byte("hello world")) }()

	got, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
}

func TestMultipleFramesPreserveOrder(t *testing.T) {
	a, b := pipePorts(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	go func() {
		for _, m := range msgs {
			_ = a.Send(ctx, m)
		}
	}()

	for _, want := range msgs {
		got, err := b.Receive(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	a, b := pipePorts(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := b.Receive(ctx)
		done <- err
	}()

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock after Close")
	}
}

var _ io.ReadWriteCloser = (*rwc)(nil)
