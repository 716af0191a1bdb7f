package rpc

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Sender publishes topic messages, stamping each with a wrapping
// sequence number local to this sender (spec.md §4.A "wrapping
// sequence number").
type Sender struct {
	tx  WireTx
	seq uint32
}

// NewSender wraps tx for publishing.
func NewSender(tx WireTx) *Sender {
	return &Sender{tx: tx}
}

// Publish sends one message on topic path.
func (s *Sender) Publish(ctx context.Context, path string, body []byte) error {
	seq := atomic.AddUint32(&s.seq, 1)
	f := Frame{
		Kind:   KindPublish,
		Header: Header{Key: KeyFor(path), Seq: seq},
		Body:   body,
	}
	return s.tx.Send(ctx, Encode(f))
}

// Server runs a Dispatcher's endpoints against a WireRx/WireTx pair,
// the node-local counterpart of poststation-node's RPC server loop.
type Server struct {
	rx         WireRx
	tx         WireTx
	dispatcher *Dispatcher
	log        *logrus.Entry
}

// NewServer constructs a Server. log may be nil, in which case a
// disabled entry is used.
func NewServer(rx WireRx, tx WireTx, dispatcher *Dispatcher, log *logrus.Entry) *Server {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}
	return &Server{rx: rx, tx: tx, dispatcher: dispatcher, log: log}
}

// Run dispatches incoming requests until ctx is cancelled or Receive
// errors.
func (s *Server) Run(ctx context.Context) error {
	for {
		raw, err := s.rx.Receive(ctx)
		if err != nil {
			return err
		}
		req, ok := Decode(raw)
		if !ok {
			s.log.Warn("rpc: dropping undecodable frame")
			continue
		}
		if req.Kind != KindRequest {
			continue
		}
		reply, handled := s.dispatcher.Dispatch(ctx, req)
		if !handled {
			s.log.WithField("key", req.Header.Key).Warn("rpc: no endpoint for key")
			continue
		}
		if err := s.tx.Send(ctx, Encode(reply)); err != nil {
			return err
		}
	}
}
