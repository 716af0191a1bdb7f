// Command pbctl is the host-side CLI: it addresses nodes through a
// USB-attached bridge by serial, the Go analogue of
// DavyLandman-espnow-bridge/example/main.go's connect/wait/print-
// messages demo, with kryptco-kr-style colorized table output and a
// firestige-Otus-style cobra command tree.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/northfieldiot/pipebridge/internal/bootloader"
	"github.com/northfieldiot/pipebridge/internal/bridgeengine"
	"github.com/northfieldiot/pipebridge/internal/config"
	"github.com/northfieldiot/pipebridge/internal/hostclient"
	"github.com/northfieldiot/pipebridge/internal/logging"
	"github.com/northfieldiot/pipebridge/internal/nodeapp"
	"github.com/northfieldiot/pipebridge/internal/nodeengine"
	"github.com/northfieldiot/pipebridge/internal/pipetable"
	"github.com/northfieldiot/pipebridge/internal/rpc"
	"github.com/northfieldiot/pipebridge/internal/serialport"
	"github.com/northfieldiot/pipebridge/internal/wire"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pbctl",
	Short: "pbctl talks to pipebridge nodes through a USB-attached bridge",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.AddCommand(demoCmd, tableCmd, callCmd, bridgeIDCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLog(cfg config.HostConfig) *logrus.Entry {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	return logrus.NewEntry(logging.New(level, cfg.LogFile))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func openPort(cfg config.HostConfig, log *logrus.Entry) (*serialport.Port, error) {
	port, err := serialport.Open(cfg.SerialPort, log.WithField("role", "serialport"))
	if err != nil {
		return nil, fmt.Errorf("pbctl: open %s: %w", cfg.SerialPort, err)
	}
	return port, nil
}

// demoCmd wires a bridge and one node together over an in-memory radio
// loopback and drives a handful of calls against it, requiring no real
// hardware — the teacher's own example/main.go shape (connect, wait,
// print messages), expanded to exercise the whole transport stack.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a self-contained bridge+node demo over an in-memory radio loopback",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadHost(cfgFile)
		if err != nil {
			return err
		}
		log := newLog(cfg)
		ctx, cancel := signalContext()
		defer cancel()

		const demoSerial = 0x0102030405060708

		bridgeSide, nodeSide := wire.NewLoopbackMedium(32, nil, nil)
		engine := bridgeengine.New(bridgeSide, log.WithField("role", "bridge"), 16, 16)
		go func() { _ = engine.Run(ctx) }()

		node := nodeengine.New(nodeSide, demoSerial, log.WithField("role", "node"))
		if err := node.Attach(ctx); err != nil {
			return fmt.Errorf("pbctl demo: node attach: %w", err)
		}
		fmt.Printf("node attached on pipe %d\n", node.Pipe())

		dispatcher := rpc.NewDispatcher()
		app := nodeapp.New(demoSerial, nil)
		app.Register(dispatcher)
		bootloader.RegisterEndpoints(dispatcher, bootloader.StubFlash{})
		server := rpc.NewServer(node, node, dispatcher, log.WithField("role", "node-rpc"))
		go func() { _ = server.Run(ctx) }()
		go func() { _ = node.Run(ctx) }()

		sender := rpc.NewSender(node)
		go func() {
			_ = app.RunSensorTopic(ctx, sender, 500*time.Millisecond, func() float32 { return 21.5 })
		}()

		host := hostclient.New(ctx, engine, log.WithField("role", "host"))

		idBytes, err := host.CallEndpoint(ctx, pipetable.Serial(demoSerial), nodeapp.PathGetUniqueID, nil)
		if err != nil {
			return fmt.Errorf("pbctl demo: get unique id: %w", err)
		}
		fmt.Println(color.GreenString("unique id: %s", hex.EncodeToString(idBytes)))

		sub := host.Subscribe(ctx, pipetable.Serial(demoSerial), nodeapp.PathSensorTopic)
		for i := 0; i < 3; i++ {
			select {
			case reading := <-sub:
				fmt.Println(color.CyanString("sensor reading: %s", hex.EncodeToString(reading)))
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
				return fmt.Errorf("pbctl demo: timed out waiting for sensor reading")
			}
		}
		return nil
	},
}

// tableCmd subscribes to a real bridge's BridgeTable topic over
// internal/serialport and prints each snapshot as it arrives.
var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Print the bridge's pipe table as it is published",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadHost(cfgFile)
		if err != nil {
			return err
		}
		log := newLog(cfg)
		ctx, cancel := signalContext()
		defer cancel()

		port, err := openPort(cfg, log)
		if err != nil {
			return err
		}
		defer port.Close()

		client := rpc.NewClient(ctx, port, port)
		sub := client.Subscribe(bridgeengine.TopicBridgeTable)
		fmt.Println("waiting for bridge table snapshots (ctrl-c to stop)...")
		for {
			select {
			case <-ctx.Done():
				return nil
			case raw := <-sub:
				serials, err := bridgeengine.DecodeBridgeTable(raw)
				if err != nil {
					log.WithError(err).Warn("pbctl: dropping malformed bridge table snapshot")
					continue
				}
				printTable(serials)
			}
		}
	},
}

func printTable(serials []pipetable.Serial) {
	if len(serials) == 0 {
		fmt.Println(color.YellowString("(no nodes attached)"))
		return
	}
	for i, s := range serials {
		fmt.Printf("node %d  %s\n", i+1, color.HiCyanString("%016x", uint64(s)))
	}
}

// bridgeIDCmd calls the bridge's own unique-id endpoint directly — it
// is a bridge-local handler, not a ProxyMessage routed to a node.
var bridgeIDCmd = &cobra.Command{
	Use:   "bridgeid",
	Short: "Print the bridge's own unique id",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadHost(cfgFile)
		if err != nil {
			return err
		}
		log := newLog(cfg)
		ctx, cancel := signalContext()
		defer cancel()

		port, err := openPort(cfg, log)
		if err != nil {
			return err
		}
		defer port.Close()

		client := rpc.NewClient(ctx, port, port)
		idBytes, err := client.Call(ctx, bridgeengine.EndpointBridgeUniqueID, nil)
		if err != nil {
			return fmt.Errorf("pbctl bridgeid: %w", err)
		}
		fmt.Println(color.GreenString("bridge unique id: %s", hex.EncodeToString(idBytes)))
		return nil
	},
}

// callCmd issues one request/response call against a node's endpoint
// over a real bridge, addressing the node by serial.
var callCmd = &cobra.Command{
	Use:   "call <serial-hex> <path> [body-hex]",
	Short: "Call one RPC endpoint on a node, addressed by serial",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadHost(cfgFile)
		if err != nil {
			return err
		}
		log := newLog(cfg)
		ctx, cancel := signalContext()
		defer cancel()

		serial, err := strconv.ParseUint(args[0], 16, 64)
		if err != nil {
			return fmt.Errorf("pbctl call: invalid serial %q: %w", args[0], err)
		}
		var body []byte
		if len(args) == 3 {
			body, err = hex.DecodeString(args[2])
			if err != nil {
				return fmt.Errorf("pbctl call: invalid body hex: %w", err)
			}
		}

		port, err := openPort(cfg, log)
		if err != nil {
			return err
		}
		defer port.Close()

		reqBody := bridgeengine.EncodeHostProxyMessage(bridgeengine.HostProxyMessage{
			Serial: pipetable.Serial(serial),
			Msg:    rpc.Encode(rpc.Frame{Kind: rpc.KindRequest, Header: rpc.Header{Key: rpc.KeyFor(args[1])}, Body: body}),
		})
		client := rpc.NewClient(ctx, port, port)
		if _, err := client.Call(ctx, bridgeengine.EndpointHostProxy, reqBody); err != nil {
			return fmt.Errorf("pbctl call: %w", err)
		}

		sub := client.Subscribe(bridgeengine.TopicBridgeToHost)
		select {
		case raw := <-sub:
			msg, err := bridgeengine.DecodeHostProxyMessage(raw)
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(msg.Msg))
			return nil
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
			return fmt.Errorf("pbctl call: timed out waiting for reply")
		}
	},
}
