package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emmett/companion/internal/app"
	"github.com/emmett/companion/internal/app/system"
	"github.com/emmett/companion/internal/config"
	"github.com/emmett/companion/internal/logging"
	"github.com/emmett/companion/internal/models"
	grpcserver "github.com/emmett/companion/internal/server/grpc"
	wsserver "github.com/emmett/companion/internal/server/ws"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	host        = flag.String("host", "", "Listen address (default from config: localhost)")
	grpcPort    = flag.Int("port", 0, "gRPC port (default from config: 50051)")
	wsPort      = flag.Int("ws-port", 0, "Websocket event port (default from config: 8080)")
	autoStart   = flag.Bool("start", false, "Start a conversation immediately with the configured profile")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Companion Server v%s\n", Version)
		fmt.Printf("  Commit:  %s\n", GitCommit)
		fmt.Printf("  Branch:  %s\n", GitBranch)
		fmt.Printf("  Built:   %s\n", BuildTime)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithFallback(*configFile)
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *grpcPort != 0 {
		cfg.Server.GRPCPort = *grpcPort
	}
	if *wsPort != 0 {
		cfg.Server.WSPort = *wsPort
	}
	// no terminal to answer download prompts
	cfg.Models.AutoDownload = true
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, logCloser, err := logging.Open(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger.Info().Str("version", Version).Str("commit", GitCommit).Msg("companion server starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := models.NewStore(cfg.Models.Dir)
	if err != nil {
		return err
	}
	parts, err := system.Build(ctx, cfg, app.NewModelManager(store, os.Stderr, os.Stdin), logger)
	if err != nil {
		return err
	}
	companion, err := app.New(cfg, parts, app.WithLogger(logger))
	if err != nil {
		parts.Close()
		return err
	}
	defer companion.Close()

	if *autoStart {
		if _, err := companion.StartSession(ctx, nil); err != nil {
			return err
		}
	}

	grpcSrv := grpcserver.NewServer(grpcserver.Config{Host: cfg.Server.Host, Port: cfg.Server.GRPCPort}, companion, logger)
	wsSrv := wsserver.NewServer(wsserver.Config{Host: cfg.Server.Host, Port: cfg.Server.WSPort}, companion, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(grpcSrv.Start)
	g.Go(wsSrv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		grpcSrv.Stop()
		return wsSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
