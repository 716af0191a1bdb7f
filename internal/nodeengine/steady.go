package nodeengine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/northfieldiot/pipebridge/internal/control"
	"github.com/northfieldiot/pipebridge/internal/fragment"
	"github.com/northfieldiot/pipebridge/internal/wire"
)

// Run drives the steady-state phase: the keepalive ticker and the
// radio receive pump feeding the RPC wire adapter. Attach must have
// succeeded first. Run returns when ctx is cancelled, or immediately
// (without error) if the bridge sends Reset — callers should re-Attach
// and call Run again (spec.md §4.E: "reset and re-attach"). An
// InitializeAck or Keepalive on our pipe naming another serial ends Run
// with ErrProtocolViolation.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.keepaliveLoop(ctx)
	})
	g.Go(func() error {
		return e.recvLoop(ctx)
	})

	err := g.Wait()
	if err == errReset {
		return nil
	}
	return err
}

var errReset = &resetError{}

type resetError struct{}

func (*resetError) Error() string { return "nodeengine: bridge sent Reset" }

func (e *Engine) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(KeepaliveTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var msg control.Node2Bridge
			if time.Since(e.lastKeepalive) >= keepaliveMaxIdle {
				msg = control.Node2Bridge{Kind: control.N2BKeepalive, Serial: e.serial}
			} else {
				msg = control.Node2Bridge{Kind: control.N2BNop}
			}
			body := control.EncodeN2B(e.nextSeq(), msg)
			if err := e.phy.Send(ctx, wire.Frame{Pipe: e.pipe, PID: e.nextPID(), Payload: body, AckRequested: true}); err != nil {
				e.log.WithError(err).Debug("nodeengine: keepalive/nop send failed")
			}
		}
	}
}

// recvLoop consumes radio packets on our pipe, feeding Proxy fragments
// to the reassembler and delivering completed frames on rxOut.
func (e *Engine) recvLoop(ctx context.Context) error {
	for {
		f, err := e.phy.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if f.Pipe != e.pipe {
			continue
		}
		msg, payload, ok := control.DecodeB2N(f.Payload)
		if !ok {
			continue
		}
		switch msg.Kind {
		case control.B2NInitializeAck, control.B2NKeepalive:
			if msg.Serial != e.serial {
				return ErrProtocolViolation
			}
			if msg.Kind == control.B2NKeepalive {
				e.lastKeepalive = time.Now()
			}
		case control.B2NReset:
			return errReset
		case control.B2NProxy:
			outcome := e.fragBuf.Handle(msg.Part, msg.Total, payload)
			if outcome == fragment.Complete {
				reassembled := append([]byte(nil), e.fragBuf.Data()...)
				select {
				case e.rxOut <- reassembled:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// WireTx adapts Engine as an rpc.WireTx: outbound RPC frames are
// chunked at 128 bytes and sent as successive Proxy fragments.
func (e *Engine) Send(ctx context.Context, raw []byte) error {
	total := (len(raw) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(raw) {
			end = len(raw)
		}
		body := control.EncodeN2B(e.nextSeq(), control.Node2Bridge{
			Kind:  control.N2BProxy,
			Part:  uint8(i),
			Total: uint8(total),
		})
		body = append(body, raw[start:end]...)
		if err := e.phy.Send(ctx, wire.Frame{Pipe: e.pipe, PID: e.nextPID(), Payload: body, AckRequested: true}); err != nil {
			return err
		}
	}
	return nil
}

// Receive adapts Engine as an rpc.WireRx, returning the next
// reassembled inbound RPC frame.
func (e *Engine) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-e.rxOut:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
