package bridgeengine

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/northfieldiot/pipebridge/internal/pipetable"
	"github.com/northfieldiot/pipebridge/internal/rpc"
)

// Wire-level names for the host control surface (spec.md §4.F): the
// single Host→Bridge endpoint and the two Bridge→Host topics, carried
// as ordinary internal/rpc endpoint/topic keys over whatever WireTx/
// WireRx pair connects the host to this bridge (in production,
// internal/serialport's USB-CDC framing).
const (
	EndpointHostProxy      = "pipebridge/host_proxy"
	EndpointBridgeUniqueID = "pipebridge/bridge_unique_id"
	TopicBridgeToHost      = "pipebridge/bridge_to_host"
	TopicBridgeTable       = "pipebridge/bridge_table"
)

// EncodeHostProxyMessage serializes a HostProxyMessage as an 8-byte
// little-endian serial followed by the raw message bytes, the wire
// shape shared by the Host→Bridge endpoint request and the Bridge→Host
// topic payload.
func EncodeHostProxyMessage(msg HostProxyMessage) []byte {
	buf := make([]byte, 8+len(msg.Msg))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.Serial))
	copy(buf[8:], msg.Msg)
	return buf
}

// DecodeHostProxyMessage is EncodeHostProxyMessage's inverse.
func DecodeHostProxyMessage(data []byte) (HostProxyMessage, error) {
	if len(data) < 8 {
		return HostProxyMessage{}, fmt.Errorf("bridgeengine: host proxy message too short: %d bytes", len(data))
	}
	return HostProxyMessage{
		Serial: pipetable.Serial(binary.LittleEndian.Uint64(data[0:8])),
		Msg:    append([]byte(nil), data[8:]...),
	}, nil
}

// EncodeBridgeTable serializes a pipe-table snapshot as a one-byte
// count followed by that many 8-byte little-endian serials, in the
// pipe-index order Snapshot already returns them in.
func EncodeBridgeTable(serials []pipetable.Serial) []byte {
	buf := make([]byte, 1+8*len(serials))
	buf[0] = byte(len(serials))
	for i, s := range serials {
		binary.LittleEndian.PutUint64(buf[1+8*i:9+8*i], uint64(s))
	}
	return buf
}

// DecodeBridgeTable is EncodeBridgeTable's inverse.
func DecodeBridgeTable(data []byte) ([]pipetable.Serial, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("bridgeengine: empty bridge table payload")
	}
	n := int(data[0])
	if len(data) < 1+8*n {
		return nil, fmt.Errorf("bridgeengine: bridge table payload too short for %d entries", n)
	}
	out := make([]pipetable.Serial, n)
	for i := range out {
		out[i] = pipetable.Serial(binary.LittleEndian.Uint64(data[1+8*i : 9+8*i]))
	}
	return out, nil
}

// ServeHost runs the wire-level host control surface over tx/rx until
// ctx is cancelled: it dispatches EndpointHostProxy requests into
// SubmitHostProxy, and republishes e.ToHost()/e.BridgeTable() as the
// TopicBridgeToHost/TopicBridgeTable topics. This is the USB-serial
// counterpart of the in-process wiring internal/hostclient uses for
// same-process callers.
func (e *Engine) ServeHost(ctx context.Context, tx rpc.WireTx, rx rpc.WireRx, log *logrus.Entry) error {
	if log == nil {
		log = e.log
	}
	dispatcher := rpc.NewDispatcher()
	dispatcher.RegisterEndpoint(EndpointHostProxy, func(ctx context.Context, body []byte) ([]byte, error) {
		msg, err := DecodeHostProxyMessage(body)
		if err != nil {
			return nil, err
		}
		if err := e.SubmitHostProxy(ctx, msg.Serial, msg.Msg); err != nil {
			return nil, err
		}
		return nil, nil
	})
	dispatcher.RegisterEndpoint(EndpointBridgeUniqueID, func(ctx context.Context, _ []byte) ([]byte, error) {
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, e.uniqueID)
		return out, nil
	})

	server := rpc.NewServer(rx, tx, dispatcher, log)
	sender := rpc.NewSender(tx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-e.ToHost():
				if !ok {
					return nil
				}
				if err := sender.Publish(ctx, TopicBridgeToHost, EncodeHostProxyMessage(msg)); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case snap, ok := <-e.BridgeTable():
				if !ok {
					return nil
				}
				if err := sender.Publish(ctx, TopicBridgeTable, EncodeBridgeTable(snap)); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}
