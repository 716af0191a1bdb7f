package wire

import "context"

// DropFunc reports whether an in-flight frame on a LoopbackMedium
// should be silently dropped, modeling radio-link loss for tests such
// as spec.md's S5 (dropped middle fragment).
type DropFunc func(f Frame) bool

type loopbackPHY struct {
	tx   *FrameQueue
	rx   *FrameQueue
	drop DropFunc
}

func (p *loopbackPHY) Send(ctx context.Context, f Frame) error {
	if p.drop != nil && p.drop(f) {
		return nil
	}
	return p.tx.Commit(ctx, f)
}

func (p *loopbackPHY) Recv(ctx context.Context) (Frame, error) {
	return p.rx.Grant(ctx)
}

// NewLoopbackMedium returns a pair of RadioPHYs wired together
// in-memory: the bridge side and the node side of a simulated radio
// link, with independent packet-loss hooks for each direction. Either
// DropFunc may be nil.
func NewLoopbackMedium(buffer int, dropNode2Bridge, dropBridge2Node DropFunc) (bridgeSide, nodeSide RadioPHY) {
	n2b := NewFrameQueue(buffer)
	b2n := NewFrameQueue(buffer)
	bridgeSide = &loopbackPHY{tx: b2n, rx: n2b, drop: dropBridge2Node}
	nodeSide = &loopbackPHY{tx: n2b, rx: b2n, drop: dropNode2Bridge}
	return bridgeSide, nodeSide
}
