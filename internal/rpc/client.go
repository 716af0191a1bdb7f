package rpc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Client is a request/response + subscribe client over a WireTx/WireRx
// pair, the host side's counterpart to Server. One Client instance
// corresponds to one RPC peer (e.g. one attached node, addressed by
// the caller's own transport-level routing).
type Client struct {
	tx  WireTx
	seq uint32

	mu      sync.Mutex
	pending map[uint32]chan Frame

	subMu sync.RWMutex
	subs  map[uint64]chan []byte
}

// NewClient constructs a Client and starts its background read loop
// against rx. The read loop exits when ctx is cancelled or rx errors.
func NewClient(ctx context.Context, tx WireTx, rx WireRx) *Client {
	c := &Client{
		tx:      tx,
		pending: make(map[uint32]chan Frame),
		subs:    make(map[uint64]chan []byte),
	}
	go c.readLoop(ctx, rx)
	return c
}

// Call sends a request to path and blocks for its response or error.
func (c *Client) Call(ctx context.Context, path string, body []byte) ([]byte, error) {
	seq := atomic.AddUint32(&c.seq, 1)
	key := KeyFor(path)

	replyCh := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[seq] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	req := Frame{Kind: KindRequest, Header: Header{Key: key, Seq: seq}, Body: body}
	if err := c.tx.Send(ctx, Encode(req)); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		if reply.Kind == KindError {
			return nil, fmt.Errorf("rpc: endpoint %q returned error: %s", path, string(reply.Body))
		}
		return reply.Body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe returns a channel delivering every Publish body seen for
// topic path. The channel is never closed by Client; callers that stop
// caring simply stop reading it.
func (c *Client) Subscribe(path string) <-chan []byte {
	key := KeyFor(path)
	ch := make(chan []byte, 16)
	c.subMu.Lock()
	c.subs[key] = ch
	c.subMu.Unlock()
	return ch
}

func (c *Client) readLoop(ctx context.Context, rx WireRx) {
	for {
		raw, err := rx.Receive(ctx)
		if err != nil {
			return
		}
		f, ok := Decode(raw)
		if !ok {
			continue
		}
		switch f.Kind {
		case KindResponse, KindError:
			c.mu.Lock()
			ch, found := c.pending[f.Header.Seq]
			c.mu.Unlock()
			if found {
				ch <- f
			}
		case KindPublish:
			c.subMu.RLock()
			ch, found := c.subs[f.Header.Key]
			c.subMu.RUnlock()
			if found {
				select {
				case ch <- f.Body:
				default:
				}
			}
		}
	}
}
