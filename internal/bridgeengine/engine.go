// Package bridgeengine is the bridge transport engine (spec.md §4.D)
// and its host-facing control surface (§4.F): a single dispatch loop
// multiplexing table maintenance, radio receive, and host-originated
// proxy sends, directly grounded on poststation-bridge/src/bridge.rs's
// Bridge::run select loop.
package bridgeengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/northfieldiot/pipebridge/internal/control"
	"github.com/northfieldiot/pipebridge/internal/fragment"
	"github.com/northfieldiot/pipebridge/internal/pipetable"
	"github.com/northfieldiot/pipebridge/internal/wire"
)

// ErrUnknownDevice is returned to the host when a ProxyMessage names a
// serial with no currently allocated pipe (spec.md §4.F).
var ErrUnknownDevice = errors.New("bridgeengine: unknown device")

const (
	chunkSize        = 128
	hostRequestDepth = 16
)

// TableTickPeriod and CullThreshold are the §8 timing constants for
// table maintenance. They are package vars rather than consts so
// cmd/bridged can override them from config before calling Run;
// defaults match spec.md §8 exactly.
var (
	TableTickPeriod = 5 * time.Second
	CullThreshold   = 30 * time.Second
)

// HostProxyMessage is the host-visible envelope carried on both the
// Host→Bridge endpoint and the Bridge→Host topic.
type HostProxyMessage struct {
	Serial pipetable.Serial
	Msg    []byte
}

type hostRequest struct {
	msg   HostProxyMessage
	reply chan error
}

// Engine runs the bridge side of the protocol: table ownership,
// fragment reassembly per pipe, and the host control surface.
type Engine struct {
	phy wire.RadioPHY
	log *logrus.Entry

	tableMu sync.Mutex
	table   *pipetable.Table
	frags   [pipetable.NumPipes]*fragment.Reassembler

	replySeq      uint32 // wraps at 16 bits on the wire
	hostRequests  chan hostRequest
	toHost        chan HostProxyMessage
	bridgeTableCh chan []pipetable.Serial

	uniqueID uint64
	now      func() time.Time
}

// SetUniqueID sets the identifier the bridge itself reports from
// EndpointBridgeUniqueID (spec.md §6: "at minimum a unique-id getter",
// which the original poststation-bridge exposes for the bridge as well
// as for every node). The zero value is reported if this is never
// called.
func (e *Engine) SetUniqueID(id uint64) { e.uniqueID = id }

// New constructs an Engine. toHostBuf and bridgeTableBuf size the
// host-facing topic channels; callers drain them to receive published
// messages.
func New(phy wire.RadioPHY, log *logrus.Entry, toHostBuf, bridgeTableBuf int) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	e := &Engine{
		phy:           phy,
		log:           log,
		table:         pipetable.NewTable(),
		hostRequests:  make(chan hostRequest, hostRequestDepth),
		toHost:        make(chan HostProxyMessage, toHostBuf),
		bridgeTableCh: make(chan []pipetable.Serial, bridgeTableBuf),
		now:           time.Now,
	}
	for i := range e.frags {
		e.frags[i] = &fragment.Reassembler{}
	}
	return e
}

// ToHost is the Bridge→Host topic (spec.md §4.F).
func (e *Engine) ToHost() <-chan HostProxyMessage { return e.toHost }

// BridgeTable is the BridgeTable topic, published every 5s.
func (e *Engine) BridgeTable() <-chan []pipetable.Serial { return e.bridgeTableCh }

// SubmitHostProxy is the Host→Bridge endpoint: send msg to the node
// identified by serial. It blocks until the engine has attempted the
// send (not until the node acknowledges receipt at the RPC layer).
func (e *Engine) SubmitHostProxy(ctx context.Context, serial pipetable.Serial, msg []byte) error {
	req := hostRequest{msg: HostProxyMessage{Serial: serial, Msg: msg}, reply: make(chan error, 1)}
	select {
	case e.hostRequests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the engine until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	frames := make(chan wire.Frame)
	g.Go(func() error {
		defer close(frames)
		for {
			f, err := e.phy.Recv(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(TableTickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				e.tableTick(ctx)
			case f, ok := <-frames:
				if !ok {
					return nil
				}
				e.handleFrame(ctx, f)
			case req := <-e.hostRequests:
				req.reply <- e.handleHostProxy(ctx, req.msg)
			}
		}
	})

	return g.Wait()
}

func (e *Engine) tableTick(ctx context.Context) {
	e.tableMu.Lock()
	e.table.Cull(e.now(), CullThreshold)
	snap := e.table.Snapshot(make([]pipetable.Serial, 0, pipetable.NumPipes))
	e.tableMu.Unlock()

	// The BridgeTable topic's own wrapping sequence number is stamped by
	// whichever rpc.Sender publishes this snapshot to the host.
	select {
	case e.bridgeTableCh <- snap:
	default:
		e.log.Warn("bridgeengine: BridgeTable subscriber not keeping up, dropping snapshot")
	}
}

func (e *Engine) nextReplySeq() uint16 {
	v := uint16(e.replySeq)
	e.replySeq++
	return v
}

// sendReply sends body on pipe, reusing the inbound frame's pid — spec.md
// §4.D: "Replies on pipe n reuse that pipe's pid and an acked outgoing
// frame."
func (e *Engine) sendReply(ctx context.Context, pipe uint8, pid uint8, body []byte) {
	f := wire.Frame{Pipe: pipe, PID: pid, Payload: body, AckRequested: true}
	if err := e.phy.Send(ctx, f); err != nil {
		e.log.WithError(err).WithField("pipe", pipe).Warn("bridgeengine: reply send failed")
	}
}

func (e *Engine) handleHostProxy(ctx context.Context, msg HostProxyMessage) error {
	e.tableMu.Lock()
	pipe, ok := e.table.PipeForSerial(msg.Serial)
	e.tableMu.Unlock()
	if !ok {
		return ErrUnknownDevice
	}

	total := (len(msg.Msg) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(msg.Msg) {
			end = len(msg.Msg)
		}
		chunk := msg.Msg[start:end]
		body := control.EncodeB2N(e.nextReplySeq(), control.Bridge2Node{
			Kind:  control.B2NProxy,
			Part:  uint8(i),
			Total: uint8(total),
		})
		body = append(body, chunk...)
		if err := e.phy.Send(ctx, wire.Frame{Pipe: pipe, Payload: body}); err != nil {
			e.log.WithError(err).WithField("serial", msg.Serial).Warn("bridgeengine: host proxy send failed")
			return ErrUnknownDevice
		}
	}
	return nil
}
