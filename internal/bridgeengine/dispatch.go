package bridgeengine

import (
	"context"

	"github.com/northfieldiot/pipebridge/internal/control"
	"github.com/northfieldiot/pipebridge/internal/fragment"
	"github.com/northfieldiot/pipebridge/internal/pipetable"
	"github.com/northfieldiot/pipebridge/internal/wire"
)

// handleFrame implements the (pipe, message) dispatch table of
// spec.md §4.D.
func (e *Engine) handleFrame(ctx context.Context, f wire.Frame) {
	msg, payload, ok := control.DecodeN2B(f.Payload)
	if !ok {
		e.log.Debug("bridgeengine: dropping undecodable N2B frame")
		return
	}

	if f.Pipe == wire.BroadcastPipe {
		e.handlePipeZero(ctx, f.PID, msg)
		return
	}
	e.handlePipeN(ctx, f.Pipe, f.PID, msg, payload)
}

func (e *Engine) handlePipeZero(ctx context.Context, pid uint8, msg control.Node2Bridge) {
	if msg.Kind != control.N2BInitialize {
		e.sendReset(ctx, wire.BroadcastPipe, pid)
		return
	}

	e.tableMu.Lock()
	result, pipe := e.table.AllocatePipe(pipetable.Serial(msg.Serial), e.now())
	e.tableMu.Unlock()

	if result == pipetable.Full {
		e.sendReset(ctx, wire.BroadcastPipe, pid)
		return
	}
	reply := control.EncodeB2N(e.nextReplySeq(), control.Bridge2Node{
		Kind:    control.B2NInitializeAck,
		Serial:  msg.Serial,
		UsePipe: pipe,
	})
	e.sendReply(ctx, wire.BroadcastPipe, pid, reply)
}

func (e *Engine) handlePipeN(ctx context.Context, pipe uint8, pid uint8, msg control.Node2Bridge, payload []byte) {
	switch msg.Kind {
	case control.N2BInitialize:
		e.sendReset(ctx, pipe, pid)

	case control.N2BKeepalive:
		e.tableMu.Lock()
		ok := e.table.UpdateTime(pipe, pipetable.Serial(msg.Serial), e.now())
		e.tableMu.Unlock()
		if !ok {
			e.sendReset(ctx, pipe, pid)
			return
		}
		reply := control.EncodeB2N(e.nextReplySeq(), control.Bridge2Node{
			Kind:   control.B2NKeepalive,
			Serial: msg.Serial,
		})
		e.sendReply(ctx, pipe, pid, reply)

	case control.N2BProxy:
		e.handleProxyFragment(pipe, msg, payload)

	case control.N2BNop:
		// No action (spec.md §4.D).
	}
}

func (e *Engine) handleProxyFragment(pipe uint8, msg control.Node2Bridge, payload []byte) {
	if pipe == 0 || int(pipe) > pipetable.NumPipes {
		return
	}
	outcome := e.frags[pipe-1].Handle(msg.Part, msg.Total, payload)
	if outcome == fragment.Complete {
		e.publishComplete(pipe)
	}
}

func (e *Engine) publishComplete(pipe uint8) {
	e.tableMu.Lock()
	serial, ok := e.table.SerialForPipe(pipe)
	e.tableMu.Unlock()
	if !ok {
		return
	}
	reassembled := append([]byte(nil), e.frags[pipe-1].Data()...)
	msg := HostProxyMessage{Serial: serial, Msg: reassembled}
	select {
	case e.toHost <- msg:
	default:
		e.log.Warn("bridgeengine: Bridge→Host subscriber not keeping up, dropping frame")
	}
}

func (e *Engine) sendReset(ctx context.Context, pipe uint8, pid uint8) {
	reply := control.EncodeB2N(e.nextReplySeq(), control.Bridge2Node{Kind: control.B2NReset})
	e.sendReply(ctx, pipe, pid, reply)
}
