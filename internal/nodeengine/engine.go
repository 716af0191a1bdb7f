// Package nodeengine is the node transport engine (spec.md §4.E): an
// Attach phase that negotiates a pipe with the bridge, followed by a
// steady-state phase running a keepalive ticker alongside RPC wire
// adapters that chunk outbound frames and reassemble inbound ones.
// Grounded on poststation-node/src/main.rs's get_pipe/keepalive tasks
// and impls.rs's EsbTx/EsbRx.
package nodeengine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/northfieldiot/pipebridge/internal/control"
	"github.com/northfieldiot/pipebridge/internal/fragment"
	"github.com/northfieldiot/pipebridge/internal/wire"
)

// ErrAttachFailed is returned by Attach if ctx is cancelled before a
// pipe is granted.
var ErrAttachFailed = errors.New("nodeengine: attach cancelled")

// ErrProtocolViolation marks an unexpected InitializeAck/Keepalive
// reply from the bridge once attached (spec.md §4.E: "implementer may
// panic or reset").
var ErrProtocolViolation = errors.New("nodeengine: protocol violation")

const (
	attachTimeout    = time.Second
	keepaliveMaxIdle = 3 * time.Second
	chunkSize        = fragment.ChunkSize
)

// KeepaliveTick is the keepalive ticker's resolution: every tick sends
// either a Keepalive (once keepaliveMaxIdle has passed) or a Nop. It is
// a package var rather than a const so cmd/noded can override it from
// config before calling Run; the default is 100ms.
var KeepaliveTick = 100 * time.Millisecond

// Engine is one node's attachment and steady-state session with a
// bridge over a RadioPHY.
type Engine struct {
	phy    wire.RadioPHY
	serial uint64
	log    *logrus.Entry

	pipe     uint8
	pid      uint8 // 2-bit, shared across Attach and steady state
	replySeq uint16

	lastKeepalive time.Time

	fragBuf fragment.Reassembler
	rxOut   chan []byte // reassembled inbound RPC frames, delivered to the RPC wire adapter
	resetCh chan struct{}
}

// New constructs an Engine for the node identified by serial.
func New(phy wire.RadioPHY, serial uint64, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Engine{
		phy:     phy,
		serial:  serial,
		log:     log,
		rxOut:   make(chan []byte, 4),
		resetCh: make(chan struct{}, 1),
	}
}

// Pipe returns the pipe granted by the most recent successful Attach.
func (e *Engine) Pipe() uint8 { return e.pipe }

// Attach loops sending Initialize{serial} on pipe 0 until an
// InitializeAck naming our serial arrives, or ctx is cancelled
// (spec.md §4.E phase 1).
func (e *Engine) Attach(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ErrAttachFailed
		}
		req := control.EncodeN2B(e.nextSeq(), control.Node2Bridge{
			Kind:   control.N2BInitialize,
			Serial: e.serial,
		})
		if err := e.phy.Send(ctx, wire.Frame{Pipe: wire.BroadcastPipe, PID: e.nextPID(), Payload: req, AckRequested: true}); err != nil {
			e.log.WithError(err).Warn("nodeengine: attach send failed, retrying")
			continue
		}

		ackCtx, cancel := context.WithTimeout(ctx, attachTimeout)
		f, err := e.phy.Recv(ackCtx)
		cancel()
		if err != nil {
			continue // timeout or any other recv error: retry
		}
		msg, _, ok := control.DecodeB2N(f.Payload)
		if !ok || msg.Kind != control.B2NInitializeAck || msg.Serial != e.serial {
			continue
		}
		e.pipe = msg.UsePipe
		e.lastKeepalive = time.Now()
		return nil
	}
}

func (e *Engine) nextSeq() uint16 {
	v := e.replySeq
	e.replySeq++
	return v
}

func (e *Engine) nextPID() uint8 {
	v := e.pid
	e.pid = (e.pid + 1) % 4
	return v
}
