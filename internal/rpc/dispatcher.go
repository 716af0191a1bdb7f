package rpc

import (
	"context"
	"sync"
)

// Handler answers one request body with a response body, or an error
// that the dispatcher turns into a KindError frame.
type Handler func(ctx context.Context, body []byte) ([]byte, error)

// Dispatcher is an endpoint registry keyed by path hash, the receiving
// side's analogue of postcard-rpc's generated dispatch match arms.
type Dispatcher struct {
	mu        sync.RWMutex
	endpoints map[uint64]Handler
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{endpoints: make(map[uint64]Handler)}
}

// RegisterEndpoint binds path to h. Registering the same path twice
// replaces the previous handler.
func (d *Dispatcher) RegisterEndpoint(path string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints[KeyFor(path)] = h
}

// Dispatch runs the handler registered for req's key, if any, and
// builds the reply frame. ok is false when no handler is registered
// for the key, in which case the caller should not send a reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req Frame) (reply Frame, ok bool) {
	d.mu.RLock()
	h, found := d.endpoints[req.Header.Key]
	d.mu.RUnlock()
	if !found {
		return Frame{}, false
	}
	resp, err := h(ctx, req.Body)
	if err != nil {
		return Frame{
			Kind:   KindError,
			Header: req.Header,
			Body:   []byte(err.Error()),
		}, true
	}
	return Frame{
		Kind:   KindResponse,
		Header: req.Header,
		Body:   resp,
	}, true
}
