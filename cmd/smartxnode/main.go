// Command smartxnode runs a single SmartXChain node: it loads a TOML
// config file, starts the peer transport server and the node's
// background loops, and blocks until interrupted.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/inetconnector/smartxchain/config"
	"github.com/inetconnector/smartxchain/node"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		log.Warn("failed to set GOMAXPROCS from cgroup limits", "err", err)
	}

	app := &cli.App{
		Name:  "smartxnode",
		Usage: "run a SmartXChain contract-execution and peer-consensus node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "./smartxnode.toml",
				Usage:   "path to the node's TOML config file",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug-level logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Crit("smartxnode exited with error", "err", err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogging(cfg, c.Bool("verbose"))

	n, err := node.New(cfg)
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	n.Stop()
	return nil
}

// setupLogging installs a terminal handler, mirrored to a rotating log
// file when cfg.LogFilePath is configured, matching the two-sink
// composition cmd/geth builds around log.NewGlogHandler.
func setupLogging(cfg *config.Config, verbose bool) {
	out := io.Writer(os.Stderr)
	if cfg.LogFilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFilePath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotator)
	}

	glogger := log.NewGlogHandler(log.NewTerminalHandler(out, false))
	if verbose || cfg.Debug {
		glogger.Verbosity(log.LevelDebug)
	} else {
		glogger.Verbosity(log.LevelInfo)
	}
	log.SetDefault(log.NewLogger(glogger))
}
