// Package nodeapp is the node's demo RPC surface: the mandatory
// unique-id endpoint plus a handful of example endpoints/topics, wired
// onto internal/rpc exactly the way poststation-node's firmware wires
// its SetLedEndpoint/SleepEndpoint/RebootToBootloader onto its local
// dispatcher (bridge-icd/src/lib.rs's endpoints! table). Path strings
// are carried over unchanged from that table.
package nodeapp

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/northfieldiot/pipebridge/internal/bootloader"
	"github.com/northfieldiot/pipebridge/internal/epaper"
	"github.com/northfieldiot/pipebridge/internal/rpc"
)

const (
	PathGetUniqueID      = "poststation/unique_id/get"
	PathSleep            = "template/sleep"
	PathSetLed           = "template/led/set"
	PathGetLed           = "template/led/get"
	PathRebootBootloader = "curacao/postboot/reset"
	PathDummyTopic       = "dummy"
	PathSensorTopic      = "curacao/sensor/reading"
	PathSetDisplay       = "blattuhr/display/set"
)

// LedState mirrors the node's tri-state LED demo (bridge-icd's
// LedState enum).
type LedState uint8

const (
	LedOff LedState = iota
	LedOn
	LedBlinking
)

// Rebooter lets the app defer to a real bootloader-entry mechanism;
// implementations on real hardware trigger a watchdog reset into the
// bootloader partition.
type Rebooter interface {
	RebootToBootloader(ctx context.Context) error
}

// App is the demo node application: unique id, an LED you can set/get,
// a sleep endpoint, and a periodic sensor topic.
type App struct {
	uniqueID uint64
	reboot   Rebooter

	mu  sync.Mutex
	led LedState

	displayMu sync.Mutex
	display   []byte
}

// New constructs an App identified by uniqueID (normally the node's
// serial). reboot may be nil, in which case RebootToBootloader always
// fails with bootloader.ErrNotImplemented.
func New(uniqueID uint64, reboot Rebooter) *App {
	return &App{uniqueID: uniqueID, reboot: reboot}
}

// Register binds every endpoint onto dispatcher.
func (a *App) Register(dispatcher *rpc.Dispatcher) {
	dispatcher.RegisterEndpoint(PathGetUniqueID, a.getUniqueID)
	dispatcher.RegisterEndpoint(PathSleep, a.sleep)
	dispatcher.RegisterEndpoint(PathSetLed, a.setLed)
	dispatcher.RegisterEndpoint(PathGetLed, a.getLed)
	dispatcher.RegisterEndpoint(PathRebootBootloader, a.rebootToBootloader)
	dispatcher.RegisterEndpoint(PathSetDisplay, a.setDisplay)
}

func (a *App) getUniqueID(ctx context.Context, _ []byte) ([]byte, error) {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, a.uniqueID)
	return out, nil
}

func (a *App) sleep(ctx context.Context, body []byte) ([]byte, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("nodeapp: sleep request too short")
	}
	ms := binary.LittleEndian.Uint32(body)
	start := time.Now()
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(time.Since(start).Milliseconds()))
	return out, nil
}

func (a *App) setLed(ctx context.Context, body []byte) ([]byte, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("nodeapp: set-led request too short")
	}
	a.mu.Lock()
	a.led = LedState(body[0])
	a.mu.Unlock()
	return nil, nil
}

func (a *App) getLed(ctx context.Context, _ []byte) ([]byte, error) {
	a.mu.Lock()
	led := a.led
	a.mu.Unlock()
	return []byte{byte(led)}, nil
}

// setDisplay decodes an RLE-encoded framebuffer (blattuhr/host's
// literal/run encoding, internal/epaper) and stores it as the node's
// current display contents. A real e-paper driver would push this
// buffer out over SPI; that peripheral is out of scope per spec.md §1,
// so this endpoint only exercises the decode and storage.
func (a *App) setDisplay(ctx context.Context, body []byte) ([]byte, error) {
	pixels, err := epaper.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("nodeapp: set-display: %w", err)
	}
	a.displayMu.Lock()
	a.display = pixels
	a.displayMu.Unlock()
	return nil, nil
}

// Display returns the most recently decoded framebuffer, or nil if
// setDisplay has never been called.
func (a *App) Display() []byte {
	a.displayMu.Lock()
	defer a.displayMu.Unlock()
	return append([]byte(nil), a.display...)
}

func (a *App) rebootToBootloader(ctx context.Context, _ []byte) ([]byte, error) {
	if a.reboot == nil {
		return nil, bootloader.ErrNotImplemented
	}
	return nil, a.reboot.RebootToBootloader(ctx)
}

// RunSensorTopic publishes a synthetic sensor reading on PathSensorTopic
// every period until ctx is cancelled, the supplemented always-on
// telemetry topic analogous to the original's scd41-node readings.
func (a *App) RunSensorTopic(ctx context.Context, sender *rpc.Sender, period time.Duration, reading func() float32) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			body := make([]byte, 4)
			binary.LittleEndian.PutUint32(body, uint32(reading()*100))
			if err := sender.Publish(ctx, PathSensorTopic, body); err != nil {
				return err
			}
		}
	}
}
