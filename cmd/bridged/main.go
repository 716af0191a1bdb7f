// Command bridged runs the bridge transport engine against a real
// USB-serial host link. spec.md §6 treats the radio driver as an
// external collaborator out of scope for this module, so the radio
// side of the engine runs over an in-memory loopback populated with
// --sim-nodes simulated nodes instead of a real nRF ESB driver — the
// host control surface on the other side is the genuine article,
// served over internal/serialport exactly as a production bridge
// would serve it. Command shape grounded on firestige-Otus/cmd/root.go
// and daemon.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/northfieldiot/pipebridge/internal/bootloader"
	"github.com/northfieldiot/pipebridge/internal/bridgeengine"
	"github.com/northfieldiot/pipebridge/internal/config"
	"github.com/northfieldiot/pipebridge/internal/logging"
	"github.com/northfieldiot/pipebridge/internal/nodeapp"
	"github.com/northfieldiot/pipebridge/internal/nodeengine"
	"github.com/northfieldiot/pipebridge/internal/rpc"
	"github.com/northfieldiot/pipebridge/internal/serialport"
	"github.com/northfieldiot/pipebridge/internal/wire"
)

var (
	cfgFile  string
	simNodes int
)

var rootCmd = &cobra.Command{
	Use:   "bridged",
	Short: "bridged runs the bridge transport engine and serves the host over USB-serial",
	RunE:  runBridge,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.Flags().IntVar(&simNodes, "sim-nodes", 1, "number of in-process simulated nodes to attach over the radio loopback")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadBridge(cfgFile)
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log := logrus.NewEntry(logging.New(level, cfg.LogFile))

	if cfg.TableTickPeriod > 0 {
		bridgeengine.TableTickPeriod = cfg.TableTickPeriod
	}
	if cfg.CullThreshold > 0 {
		bridgeengine.CullThreshold = cfg.CullThreshold
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridgeSide, nodeSide := wire.NewLoopbackMedium(32, nil, nil)
	engine := bridgeengine.New(bridgeSide, log.WithField("role", "bridge"), 32, 4)
	engine.SetUniqueID(cfg.UniqueID)

	port, err := serialport.Open(cfg.SerialPort, log.WithField("role", "serialport"))
	if err != nil {
		return fmt.Errorf("bridged: open %s: %w", cfg.SerialPort, err)
	}
	defer port.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return engine.ServeHost(ctx, port, port, log.WithField("role", "host-rpc")) })

	for i := 0; i < simNodes; i++ {
		serial := uint64(0xF00D000000000000 | uint64(i+1))
		g.Go(func() error { return runSimulatedNode(ctx, nodeSide, serial, log) })
	}

	log.WithField("serial_port", cfg.SerialPort).WithField("sim_nodes", simNodes).Info("bridged: serving")
	return g.Wait()
}

// runSimulatedNode attaches one node to the radio loopback and runs
// its steady-state session plus a minimal RPC surface, standing in for
// a real battery-powered node while no radio hardware is attached.
func runSimulatedNode(ctx context.Context, phy wire.RadioPHY, serial uint64, log *logrus.Entry) error {
	nodeLog := log.WithField("role", "sim-node").WithField("serial", fmt.Sprintf("%016x", serial))
	node := nodeengine.New(phy, serial, nodeLog)
	if err := node.Attach(ctx); err != nil {
		return fmt.Errorf("bridged: simulated node %016x attach: %w", serial, err)
	}

	dispatcher := rpc.NewDispatcher()
	app := nodeapp.New(serial, nil)
	app.Register(dispatcher)
	bootloader.RegisterEndpoints(dispatcher, bootloader.StubFlash{})
	server := rpc.NewServer(node, node, dispatcher, nodeLog)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return node.Run(ctx) })
	return g.Wait()
}
