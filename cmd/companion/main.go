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
	"github.com/emmett/companion/internal/audio/device"
	"github.com/emmett/companion/internal/config"
	"github.com/emmett/companion/internal/input"
	"github.com/emmett/companion/internal/logging"
	"github.com/emmett/companion/internal/models"
	"github.com/emmett/companion/internal/output"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

var (
	configFile       = flag.String("config", "", "Path to configuration file (default: ~/.companionrc or /etc/companion/config.yaml)")
	saveConfig       = flag.String("save-config", "", "Write the effective configuration to this path and exit")
	listModels       = flag.Bool("list-models", false, "List all available models and voices for download")
	listDownloaded   = flag.Bool("list-downloaded", false, "List all downloaded models and voices")
	downloadModel    = flag.String("download-model", "", "Download a specific model or voice by name")
	setDefault       = flag.String("set-default", "", "Set a recognition model as the default")
	modelName        = flag.String("model", "", "Speech recognition model (default: vosk-model-small-en-us-0.15)")
	autoDownload     = flag.Bool("auto-download", false, "Download missing models without asking")
	listDevices      = flag.Bool("list-devices", false, "List all available audio devices")
	audioDevice      = flag.String("device", "", "Microphone name or id (use --list-devices to see available devices)")
	outputDevice     = flag.String("output-device", "", "Speaker name or id")
	strategy         = flag.String("strategy", "", "Speech detection: vad or continuous")
	silenceThreshold = flag.Duration("silence-threshold", 0, "Silence that ends the user's turn (e.g. 1.2s)")
	bargeIn          = flag.Bool("barge-in", true, "Let the user interrupt the companion")
	name             = flag.String("name", "", "Name of the person being talked with")
	voice            = flag.String("voice", "", "Companion voice: female or male")
	speechProvider   = flag.String("speech", "", "Speech provider: openai, service or local")
	outputFormat     = flag.String("format", "", "Transcript format: text or json")
	outputFile       = flag.String("output", "", "Transcript file (default: none)")
	logLevel         = flag.String("log-level", "", "Log level: debug, info, warn, error")
	hotkeyCombo      = flag.String("hotkey", "", "Start/stop the conversation with a global hotkey (e.g. ctrl+shift+space)")
	showVersion      = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Companion v%s\n", Version)
		fmt.Printf("  Commit:  %s\n", GitCommit)
		fmt.Printf("  Branch:  %s\n", GitBranch)
		fmt.Printf("  Built:   %s\n", BuildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadWithFallback(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	applyFlags(cfg)

	if *saveConfig != "" {
		if err := cfg.Save(*saveConfig); err != nil {
			fatal(err)
		}
		fmt.Printf("Configuration written to %s\n", *saveConfig)
		return
	}

	if *listDevices {
		if err := system.NewDeviceManager(os.Stdout).ListDevices(); err != nil {
			fatal(err)
		}
		return
	}

	store, err := models.NewStore(cfg.Models.Dir)
	if err != nil {
		fatal(err)
	}
	mgr := app.NewModelManager(store, os.Stdout, os.Stdin)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *listModels:
		err = mgr.ListModels()
	case *listDownloaded:
		err = mgr.ListDownloaded()
	case *downloadModel != "":
		err = mgr.Download(ctx, *downloadModel)
	case *setDefault != "":
		err = mgr.SetDefault(*setDefault)
	default:
		fmt.Printf("Companion v%s (commit: %s, branch: %s, built: %s)\n", Version, GitCommit, GitBranch, BuildTime)
		err = run(ctx, cfg, mgr)
	}
	if err != nil {
		fatal(err)
	}
}

// applyFlags overrides configuration values with the flags given on the
// command line
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.Models.Default = *modelName
		case "auto-download":
			cfg.Models.AutoDownload = *autoDownload
		case "device":
			cfg.Audio.Device = *audioDevice
		case "output-device":
			cfg.Audio.OutputDevice = *outputDevice
		case "strategy":
			cfg.Detector.Strategy = *strategy
		case "silence-threshold":
			cfg.Turn.SilenceThreshold = *silenceThreshold
		case "barge-in":
			cfg.Turn.BargeIn = *bargeIn
		case "name":
			cfg.Profile.Name = *name
		case "voice":
			cfg.Profile.Voice = *voice
		case "speech":
			cfg.Speech.Provider = *speechProvider
		case "format":
			cfg.Output.Format = *outputFormat
		case "output":
			cfg.Output.File = *outputFile
		case "log-level":
			cfg.Log.Level = *logLevel
		case "hotkey":
			cfg.Hotkey.Enabled = *hotkeyCombo != ""
		}
	})
}

func run(ctx context.Context, cfg *config.Config, mgr *app.ModelManager) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, logCloser, err := logging.Open(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	console := output.DefaultConsoleOutput()
	opts := []app.Option{app.WithLogger(logger), app.WithConsole(console)}

	if cfg.Output.File != "" {
		f, err := os.Create(cfg.Output.File)
		if err != nil {
			return fmt.Errorf("failed to create transcript file: %w", err)
		}
		defer f.Close()
		formatter, err := output.NewFormatter(cfg.Output.Format, f)
		if err != nil {
			return err
		}
		opts = append(opts, app.WithTranscript(formatter))
	}

	dm := system.NewDeviceManager(os.Stdout)
	mic, err := dm.SelectDevice(device.KindCapture, cfg.Audio.Device)
	if err != nil {
		return err
	}
	speaker, err := dm.SelectDevice(device.KindPlayback, cfg.Audio.OutputDevice)
	if err != nil {
		return err
	}
	console.Info(fmt.Sprintf("Microphone: %s, speaker: %s", mic.Name, speaker.Name))

	console.Info("Loading speech recognition and voices...")
	parts, err := system.Build(ctx, cfg, mgr, logger)
	if err != nil {
		return err
	}

	companion, err := app.New(cfg, parts, opts...)
	if err != nil {
		parts.Close()
		return err
	}
	defer companion.Close()

	if cfg.Hotkey.Enabled {
		combo := *hotkeyCombo
		if combo == "" {
			combo = input.DefaultHotkey
		}
		hk := input.NewHotkeyManager(companion, logger, func(active bool, err error) {
			switch {
			case err != nil:
				console.Error(err.Error())
			case active:
				console.Status("Conversation started")
			default:
				console.Status("Conversation paused")
			}
		})
		if err := hk.Start(ctx, combo); err != nil {
			return err
		}
		defer hk.Stop()
		console.Info(fmt.Sprintf("Press %s to start or stop the conversation. Ctrl+C quits.", combo))
	} else {
		if _, err := companion.StartSession(ctx, nil); err != nil {
			return err
		}
		console.Info("Listening. Press Ctrl+C to stop.")
	}

	<-ctx.Done()
	console.Info("Shutting down...")
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
