package rpc

import "context"

// WireTx sends one already-encoded frame. Implementations (the node's
// ESB-chunking adapter, the host's serial-framed adapter) own their own
// chunking and retransmission concerns; rpc only deals in whole frames.
type WireTx interface {
	Send(ctx context.Context, raw []byte) error
}

// WireRx receives one already-reassembled frame.
type WireRx interface {
	Receive(ctx context.Context) ([]byte, error)
}
