// Package hostclient is the host-side RPC client: it addresses nodes
// by serial through the bridge's ProxyMessage endpoint/topic, and
// multiplexes the bridge's single Bridge→Host stream into per-serial
// rpc.Client sessions. Grounded on blattuhr/host/src/main.rs's
// poststation_sdk::connect/proxy_endpoint usage, rendered against this
// module's own internal/rpc instead of postcard-rpc.
package hostclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/northfieldiot/pipebridge/internal/bridgeengine"
	"github.com/northfieldiot/pipebridge/internal/pipetable"
	"github.com/northfieldiot/pipebridge/internal/rpc"
)

// Host is a client over a bridgeengine.Engine's host control surface,
// fanning ProxyMessage traffic out to one rpc.Client per attached
// node.
type Host struct {
	engine *bridgeengine.Engine
	log    *logrus.Entry

	mu       sync.Mutex
	sessions map[pipetable.Serial]*rpc.Client
	wires    map[pipetable.Serial]*nodeWire
}

// New constructs a Host wired to engine. ctx governs the background
// fan-in goroutine; it should outlive every call made through Host.
func New(ctx context.Context, engine *bridgeengine.Engine, log *logrus.Entry) *Host {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	h := &Host{
		engine:   engine,
		log:      log,
		sessions: make(map[pipetable.Serial]*rpc.Client),
	}
	go h.fanIn(ctx)
	return h
}

// nodeWire adapts one serial's slice of the shared ProxyMessage
// stream into an rpc.WireTx/WireRx pair.
type nodeWire struct {
	serial pipetable.Serial
	engine *bridgeengine.Engine
	rx     chan []byte
}

func (w *nodeWire) Send(ctx context.Context, raw []byte) error {
	return w.engine.SubmitHostProxy(ctx, w.serial, raw)
}

func (w *nodeWire) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-w.rx:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Host) fanIn(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-h.engine.ToHost():
			if !ok {
				return
			}
			h.mu.Lock()
			_, known := h.sessions[msg.Serial]
			h.mu.Unlock()
			if !known {
				h.log.WithField("serial", msg.Serial).Debug("hostclient: dropping proxy message for unopened session")
				continue
			}
			h.deliver(msg)
		}
	}
}

func (h *Host) deliver(msg bridgeengine.HostProxyMessage) {
	h.mu.Lock()
	w := h.wireFor(msg.Serial)
	h.mu.Unlock()
	select {
	case w.rx <- msg.Msg:
	default:
		h.log.WithField("serial", msg.Serial).Warn("hostclient: session inbox full, dropping frame")
	}
}

// wireFor must be called with h.mu held; it is only used internally
// for routing, not for session creation (see Session).
func (h *Host) wireFor(serial pipetable.Serial) *nodeWire {
	// Sessions store only the rpc.Client; the underlying nodeWire isn't
	// retrievable from it, so fan-in keeps its own parallel map lazily
	// built by Session. This indirection exists because rpc.Client owns
	// its WireRx privately.
	return h.wires[serial]
}

// Session returns (creating if necessary) the rpc.Client addressing
// serial. The returned client's Call/Subscribe talk to that node's RPC
// endpoints/topics, tunneled over the bridge's Proxy framing.
func (h *Host) Session(ctx context.Context, serial pipetable.Serial) *rpc.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.sessions[serial]; ok {
		return c
	}
	w := &nodeWire{serial: serial, engine: h.engine, rx: make(chan []byte, 8)}
	if h.wires == nil {
		h.wires = make(map[pipetable.Serial]*nodeWire)
	}
	h.wires[serial] = w
	c := rpc.NewClient(ctx, w, w)
	h.sessions[serial] = c
	return c
}

// CallEndpoint is a convenience wrapper for a single request/response
// against serial's endpoint path.
func (h *Host) CallEndpoint(ctx context.Context, serial pipetable.Serial, path string, body []byte) ([]byte, error) {
	c := h.Session(ctx, serial)
	resp, err := c.Call(ctx, path, body)
	if err != nil {
		return nil, fmt.Errorf("hostclient: %s/%d: %w", path, serial, err)
	}
	return resp, nil
}

// Subscribe returns serial's subscription channel for topic path.
func (h *Host) Subscribe(ctx context.Context, serial pipetable.Serial, path string) <-chan []byte {
	return h.Session(ctx, serial).Subscribe(path)
}
