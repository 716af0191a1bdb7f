// Package bootloader defines the wire types and node-side endpoint shapes
// for the flash read/erase/write + reboot-to-bootloader collaborator
// spec.md §1 calls out as external ("a small on-device bootloader with
// flash read/erase/write endpoints"). Grounded on
// original_source/bootloader-icd/src/lib.rs (FlashReadCommand,
// AppPartitionInfo, ReadError) and original_source/bootloader/src/handlers.rs
// (unique_id, get_info). Real flash I/O is hardware-specific and out of
// scope per spec.md §1; endpoints bind to ErrNotImplemented until a real
// flash driver is wired in on actual hardware.
package bootloader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/northfieldiot/pipebridge/internal/rpc"
)

// ErrNotImplemented is returned by every flash operation on a node that
// has no real flash driver behind it (the default on any non-hardware
// build).
var ErrNotImplemented = errors.New("bootloader: flash access not implemented on this node")

// Endpoint path strings, carried over from bootloader-icd/src/lib.rs's
// endpoints! table unchanged.
const (
	PathReadFlash  = "bootloader/flash/read"
	PathEraseFlash = "bootloader/flash/erase"
	PathWriteFlash = "bootloader/flash/write"
	PathFlashInfo  = "bootloader/flash/info"
)

// PartitionInfo mirrors bootloader-icd's AppPartitionInfo: the app
// partition's location and the bootloader's preferred transfer chunk
// size.
type PartitionInfo struct {
	Start         uint32
	Len           uint32
	TransferChunk uint32
}

// ReadCommand mirrors bootloader-icd's FlashReadCommand.
type ReadCommand struct {
	Start uint32
	Len   uint32
}

// EraseCommand requests erase of one flash region, start..start+len.
// Supplemented relative to the original's read-only sample: a real
// bootloader collaborator also needs erase before write.
type EraseCommand struct {
	Start uint32
	Len   uint32
}

// WriteCommand carries a chunk of data to be written starting at Start,
// mirroring the shape of ReadCommand/DataChunk combined for the write
// direction.
type WriteCommand struct {
	Start uint32
	Data  []byte
}

// OutOfRangeError mirrors bootloader-icd's ReadError::OutOfRange.
type OutOfRangeError struct {
	ReqStart, ReqEnd uint32
	MemStart, MemEnd uint32
}

func (e OutOfRangeError) Error() string {
	return fmt.Sprintf("bootloader: requested range [%d,%d) outside flash [%d,%d)",
		e.ReqStart, e.ReqEnd, e.MemStart, e.MemEnd)
}

// TooLargeError mirrors bootloader-icd's ReadError::TooLarge.
type TooLargeError struct {
	ReqLen, MaxLen uint32
}

func (e TooLargeError) Error() string {
	return fmt.Sprintf("bootloader: requested length %d exceeds max %d", e.ReqLen, e.MaxLen)
}

// EncodeReadCommand/DecodeReadCommand give ReadCommand a fixed 8-byte
// little-endian wire shape (start, then len), the same fixed-width
// little-endian style internal/control uses for its fields.
func EncodeReadCommand(c ReadCommand) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], c.Start)
	binary.LittleEndian.PutUint32(buf[4:8], c.Len)
	return buf
}

func DecodeReadCommand(data []byte) (ReadCommand, error) {
	if len(data) < 8 {
		return ReadCommand{}, fmt.Errorf("bootloader: read command too short: %d bytes", len(data))
	}
	return ReadCommand{
		Start: binary.LittleEndian.Uint32(data[0:4]),
		Len:   binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

func EncodeEraseCommand(c EraseCommand) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], c.Start)
	binary.LittleEndian.PutUint32(buf[4:8], c.Len)
	return buf
}

func DecodeEraseCommand(data []byte) (EraseCommand, error) {
	if len(data) < 8 {
		return EraseCommand{}, fmt.Errorf("bootloader: erase command too short: %d bytes", len(data))
	}
	return EraseCommand{
		Start: binary.LittleEndian.Uint32(data[0:4]),
		Len:   binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

func EncodeWriteCommand(c WriteCommand) []byte {
	buf := make([]byte, 4+len(c.Data))
	binary.LittleEndian.PutUint32(buf[0:4], c.Start)
	copy(buf[4:], c.Data)
	return buf
}

func DecodeWriteCommand(data []byte) (WriteCommand, error) {
	if len(data) < 4 {
		return WriteCommand{}, fmt.Errorf("bootloader: write command too short: %d bytes", len(data))
	}
	return WriteCommand{
		Start: binary.LittleEndian.Uint32(data[0:4]),
		Data:  data[4:],
	}, nil
}

func EncodePartitionInfo(p PartitionInfo) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], p.Start)
	binary.LittleEndian.PutUint32(buf[4:8], p.Len)
	binary.LittleEndian.PutUint32(buf[8:12], p.TransferChunk)
	return buf
}

func DecodePartitionInfo(data []byte) (PartitionInfo, error) {
	if len(data) < 12 {
		return PartitionInfo{}, fmt.Errorf("bootloader: partition info too short: %d bytes", len(data))
	}
	return PartitionInfo{
		Start:         binary.LittleEndian.Uint32(data[0:4]),
		Len:           binary.LittleEndian.Uint32(data[4:8]),
		TransferChunk: binary.LittleEndian.Uint32(data[8:12]),
	}, nil
}

// Flash is the real flash-access collaborator a hardware build binds in;
// spec.md §1 treats it as out-of-scope, so the only implementation this
// repo ships is the stub below.
type Flash interface {
	Read(start, length uint32) ([]byte, error)
	Erase(start, length uint32) error
	Write(start uint32, data []byte) error
	Info() PartitionInfo
}

// StubFlash implements Flash by failing every operation with
// ErrNotImplemented, the default a node binds until a real flash driver
// exists for its hardware.
type StubFlash struct{}

func (StubFlash) Read(uint32, uint32) ([]byte, error) { return nil, ErrNotImplemented }
func (StubFlash) Erase(uint32, uint32) error          { return ErrNotImplemented }
func (StubFlash) Write(uint32, []byte) error          { return ErrNotImplemented }
func (StubFlash) Info() PartitionInfo                 { return PartitionInfo{} }

// RegisterEndpoints binds the flash endpoints onto dispatcher, backed by
// flash. The cmd binaries call it on a node's dispatcher next to
// nodeapp.App.Register whenever a node exposes the bootloader-icd flash
// surface.
func RegisterEndpoints(dispatcher *rpc.Dispatcher, flash Flash) {
	dispatcher.RegisterEndpoint(PathFlashInfo, func(_ context.Context, _ []byte) ([]byte, error) {
		return EncodePartitionInfo(flash.Info()), nil
	})
	dispatcher.RegisterEndpoint(PathReadFlash, func(_ context.Context, body []byte) ([]byte, error) {
		cmd, err := DecodeReadCommand(body)
		if err != nil {
			return nil, err
		}
		return flash.Read(cmd.Start, cmd.Len)
	})
	dispatcher.RegisterEndpoint(PathEraseFlash, func(_ context.Context, body []byte) ([]byte, error) {
		cmd, err := DecodeEraseCommand(body)
		if err != nil {
			return nil, err
		}
		return nil, flash.Erase(cmd.Start, cmd.Len)
	})
	dispatcher.RegisterEndpoint(PathWriteFlash, func(_ context.Context, body []byte) ([]byte, error) {
		cmd, err := DecodeWriteCommand(body)
		if err != nil {
			return nil, err
		}
		return nil, flash.Write(cmd.Start, cmd.Data)
	})
}
