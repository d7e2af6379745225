package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/davidahmann/simrestart/core/collective"
	"github.com/davidahmann/simrestart/core/config"
	coreerrors "github.com/davidahmann/simrestart/core/errors"
)

const (
	defaultHubAddress = "127.0.0.1:7400"
	hubStopGrace      = 5 * time.Second
)

func runHub(arguments []string) int {
	flagSet := flag.NewFlagSet("hub", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var configPath string
	var listen string
	var logFormat string
	var logLevel string
	var helpFlag bool
	flagSet.StringVar(&configPath, "config", config.DefaultPath, "path to simrestart config")
	flagSet.StringVar(&listen, "listen", "", "address to listen on (defaults to collective.hub_address)")
	flagSet.StringVar(&logFormat, "log-format", "", "diagnostic log format: json or text")
	flagSet.StringVar(&logLevel, "log-level", "", "diagnostic log level")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(interspersed(flagSet, arguments)); err != nil {
		fmt.Printf("hub error: %s\n", err)
		return exitInvalidInput
	}
	if helpFlag {
		printHubUsage()
		return exitOK
	}
	explicit := explicitFlags(flagSet)
	configuration, err := config.Load(configPath, !explicit["config"])
	if err != nil {
		fmt.Printf("hub error: %s\n", err)
		return exitInvalidInput
	}
	if explicit["log-format"] {
		configuration.Logging.Format = strings.ToLower(strings.TrimSpace(logFormat))
	}
	if explicit["log-level"] {
		configuration.Logging.Level = strings.ToLower(strings.TrimSpace(logLevel))
	}
	if err := configuration.Validate(); err != nil {
		fmt.Printf("hub error: %s\n", err)
		return exitInvalidInput
	}
	address := strings.TrimSpace(listen)
	if address == "" {
		address = configuration.Collective.HubAddress
	}
	if address == "" {
		address = defaultHubAddress
	}

	logger := newLogger(configuration, "hub", os.Stderr)
	shutdown := setupTracing(configuration, logger)
	defer shutdown()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = serveHub(ctx, address, logger, func(addr net.Addr) {
		fmt.Printf("hub listening on %s\n", addr)
	})
	if err != nil {
		fmt.Printf("hub error: %s\n", err)
		return exitCodeForError(err, exitInternalFailure)
	}
	return exitOK
}

// serveHub serves a collective hub on address until ctx is done. ready is
// called with the bound address once the listener is open.
func serveHub(ctx context.Context, address string, logger *slog.Logger, ready func(net.Addr)) error {
	var listenConfig net.ListenConfig
	listener, err := listenConfig.Listen(ctx, "tcp", address)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("listen on %s: %w", address, err), coreerrors.CategoryIOFailure, "listen_failed", "choose a free address with --listen", false)
	}
	server := collective.NewHubServer(collective.NewHub())
	logger.Info("collective hub listening", "address", listener.Addr().String())
	if ready != nil {
		ready(listener.Addr())
	}

	go func() {
		<-ctx.Done()
		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(hubStopGrace):
			server.Stop()
		}
	}()
	if err := collective.ServeHub(server, listener); err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "serve_failed", "", false)
	}
	logger.Info("collective hub stopped")
	return nil
}

func printHubUsage() {
	fmt.Println("Usage:")
	fmt.Println("  simrestart hub [--listen 127.0.0.1:7400] [--config <path>] [--log-format json|text] [--log-level <level>] [--explain]")
}
