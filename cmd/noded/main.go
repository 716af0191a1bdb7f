// Command noded runs one node's transport engine and RPC app against
// a radio link. spec.md §6 puts the radio driver itself out of scope,
// so noded's RadioPHY is the node side of an in-memory loopback whose
// other side is a standalone bridge engine running in the same process;
// a real deployment wires Engine to the nRF ESB driver this module
// never implements. Command shape grounded on firestige-Otus/cmd/root.go
// and daemon.go.
package main

import (
	"context"
	"fmt"
	"math/rand"
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
	"github.com/northfieldiot/pipebridge/internal/wire"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "noded",
	Short: "noded runs one node's transport engine and demo RPC app",
	RunE:  runNode,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadNode(cfgFile)
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log := logrus.NewEntry(logging.New(level, cfg.LogFile))

	if cfg.KeepaliveTick > 0 {
		nodeengine.KeepaliveTick = cfg.KeepaliveTick
	}

	serial := cfg.Serial
	if serial == 0 {
		serial = rand.Uint64()
		log.WithField("serial", fmt.Sprintf("%016x", serial)).Warn("noded: no serial configured, using a random one")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// No real radio driver exists in this module (spec.md §6); run a
	// standalone bridge in-process so this binary is runnable on its own,
	// the same accommodation cmd/bridged makes for its sim-nodes.
	bridgeSide, nodeSide := wire.NewLoopbackMedium(32, nil, nil)
	standaloneBridge := bridgeengine.New(bridgeSide, log.WithField("role", "standalone-bridge"), 8, 4)

	engine := nodeengine.New(nodeSide, serial, log.WithField("role", "node"))
	if err := engine.Attach(ctx); err != nil {
		return fmt.Errorf("noded: attach: %w", err)
	}
	log.WithField("pipe", engine.Pipe()).Info("noded: attached")

	dispatcher := rpc.NewDispatcher()
	app := nodeapp.New(serial, nil)
	app.Register(dispatcher)
	bootloader.RegisterEndpoints(dispatcher, bootloader.StubFlash{})
	server := rpc.NewServer(engine, engine, dispatcher, log.WithField("role", "node-rpc"))
	sender := rpc.NewSender(engine)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return standaloneBridge.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error {
		return app.RunSensorTopic(ctx, sender, nodeengine.KeepaliveTick*10, func() float32 { return 21.5 })
	})
	return g.Wait()
}
