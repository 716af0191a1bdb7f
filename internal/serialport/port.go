// Package serialport is the host↔bridge USB transport: a magic-header,
// length-prefixed, CRC16/XMODEM-checked byte framing directly adapted
// from the teacher bridge package's readBytes/reassembleMessages/
// writeBytes pipeline, generalized from ESP-NOW MAC-addressed messages
// to carrying opaque rpc frames (spec.md §4.F: the bridge is USB-
// attached to the host).
package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/snksoft/crc"
	serial "go.bug.st/serial.v1"
)

var magic = [2]byte{0x55, 0x44}

const maxFrameLen = 1024 + 16 // headroom over fragment.BufSize for the rpc envelope

// ErrClosed is returned by Send/Receive once the port has been closed.
var ErrClosed = errors.New("serialport: closed")

// Port is a framed byte transport over a USB-serial connection. It
// implements rpc.WireTx and rpc.WireRx.
type Port struct {
	conn   io.ReadWriteCloser
	log    *logrus.Entry
	inbox  chan []byte
	outbox chan []byte
	closed chan struct{}
}

// Open opens portName at the bridge's fixed baud rate and starts the
// framing pump goroutines.
func Open(portName string, log *logrus.Entry) (*Port, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	mode := &serial.Mode{
		BaudRate: 460800,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	conn, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", portName, err)
	}
	return newPort(conn, log), nil
}

func newPort(conn io.ReadWriteCloser, log *logrus.Entry) *Port {
	p := &Port{
		conn:   conn,
		log:    log,
		inbox:  make(chan []byte, 64),
		outbox: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	bytesIn := make(chan byte, 1024)
	go readBytes(conn, bytesIn, log)
	go reassembleFrames(bytesIn, p.inbox, log)
	go writeFrames(conn, p.outbox, log)
	return p
}

// Close tears down the underlying connection. Pending Send/Receive
// calls unblock with ErrClosed.
func (p *Port) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
		close(p.closed)
	}
	return p.conn.Close()
}

// Send implements rpc.WireTx.
func (p *Port) Send(ctx context.Context, raw []byte) error {
	select {
	case p.outbox <- raw:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements rpc.WireRx.
func (p *Port) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw, ok := <-p.inbox:
		if !ok {
			return nil, ErrClosed
		}
		return raw, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func readBytes(source io.Reader, output chan<- byte, log *logrus.Entry) {
	defer close(output)
	buf := make([]byte, 256)
	for {
		n, err := source.Read(buf)
		if err != nil {
			log.WithError(err).Debug("serialport: read loop ending")
			return
		}
		for i := 0; i < n; i++ {
			output <- buf[i]
		}
	}
}

func getBytes(input <-chan byte, n int) ([]byte, bool) {
	result := make([]byte, n)
	for i := 0; i < n; i++ {
		b, more := <-input
		if !more {
			return nil, false
		}
		result[i] = b
	}
	return result, true
}

func reassembleFrames(input <-chan byte, output chan<- []byte, log *logrus.Entry) {
	crcFn := crc.NewHashWithTable(crc.NewTable(crc.XMODEM))
	defer close(output)
	for {
		header, ok := getBytes(input, 2)
		if !ok {
			return
		}
		if header[0] != magic[0] || header[1] != magic[1] {
			log.WithField("header", header).Debug("serialport: resyncing on bad magic")
			continue
		}
		lenBytes, ok := getBytes(input, 2)
		if !ok {
			return
		}
		length := int(lenBytes[0]) | int(lenBytes[1])<<8
		if length > maxFrameLen {
			log.WithField("length", length).Warn("serialport: dropping oversized frame")
			continue
		}
		data, ok := getBytes(input, length)
		if !ok {
			return
		}
		crcBytes, ok := getBytes(input, 2)
		if !ok {
			return
		}
		want := uint16(crcBytes[0]) | uint16(crcBytes[1])<<8
		if got := crcFn.CalculateCRC(data); uint16(got) != want {
			log.Warn("serialport: dropping frame with bad CRC")
			continue
		}
		output <- data
	}
}

func assureWritten(target io.Writer, data []byte, log *logrus.Entry) bool {
	index := 0
	for index < len(data) {
		n, err := target.Write(data[index:])
		if err != nil {
			log.WithError(err).Warn("serialport: write failed")
			return false
		}
		index += n
	}
	return true
}

func writeFrames(target io.Writer, outbox <-chan []byte, log *logrus.Entry) {
	crcFn := crc.NewHashWithTable(crc.NewTable(crc.XMODEM))
	for data := range outbox {
		length := len(data)
		header := []byte{magic[0], magic[1], byte(length & 0xFF), byte((length >> 8) & 0xFF)}
		if !assureWritten(target, header, log) {
			return
		}
		if !assureWritten(target, data, log) {
			return
		}
		sum := crcFn.CalculateCRC(data)
		if !assureWritten(target, []byte{byte(sum & 0xFF), byte((sum >> 8) & 0xFF)}, log) {
			return
		}
	}
}
