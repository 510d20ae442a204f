package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/emmett/companion/internal/app"
	"github.com/emmett/companion/internal/app/system"
	"github.com/emmett/companion/internal/config"
	"github.com/emmett/companion/internal/logging"
	"github.com/emmett/companion/internal/models"
	"github.com/emmett/companion/internal/server/mcp"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Companion MCP v%s\n", Version)
		fmt.Printf("  Commit:  %s\n", GitCommit)
		fmt.Printf("  Branch:  %s\n", GitBranch)
		fmt.Printf("  Built:   %s\n", BuildTime)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

// stdout carries the protocol, so everything else goes to stderr
func run() error {
	cfg, err := config.LoadWithFallback(*configFile)
	if err != nil {
		return err
	}
	cfg.Models.AutoDownload = true
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, logCloser, err := logging.Open(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer logCloser.Close()

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

	srv := mcp.NewServer(mcp.Config{ServerName: "companion", ServerVersion: Version}, companion, logger)
	logger.Info().Str("version", Version).Msg("MCP server ready on stdio")
	return srv.Start(ctx)
}
