package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/globalecho/internal/capture"
	"github.com/loqalabs/globalecho/internal/config"
	"github.com/loqalabs/globalecho/internal/controller"
	"github.com/loqalabs/globalecho/internal/gateway"
)

var version = "0.1.0-dev"

type commonFlags struct {
	configPath string
	gatewayURL string
	verbose    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&c.gatewayURL, "gateway", "", "Gateway base URL (overrides config)")
	fs.BoolVar(&c.verbose, "v", false, "Log to stderr")
}

func (c *commonFlags) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if c.gatewayURL != "" {
		cfg.Client.GatewayURL = c.gatewayURL
	}
	level := slog.LevelError
	if c.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'translate', 'replay', 'record' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "translate":
		err = runTranslate(os.Args[2:])
	case "replay":
		err = runReplay(os.Args[2:])
	case "record":
		err = runRecord(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newGatewayClient(cfg config.ClientConfig) *gateway.Client {
	var httpClient *http.Client
	if cfg.TimeoutMS > 0 {
		httpClient = &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
	}
	return gateway.NewClient(cfg.GatewayURL, httpClient)
}

func runTranslate(args []string) error {
	var (
		common    commonFlags
		text      string
		sessionID string
	)
	fs := flag.NewFlagSet("translate", flag.ExitOnError)
	common.register(fs)
	fs.StringVar(&text, "text", "", "Text to translate")
	fs.StringVar(&sessionID, "session", "", "Session ID sent as X-Session-ID")
	fs.Parse(args)

	cfg, _, err := common.load()
	if err != nil {
		return err
	}
	translation, err := newGatewayClient(cfg.Client).Translate(context.Background(), sessionID, text)
	if err != nil {
		return err
	}
	fmt.Println(translation)
	return nil
}

func runReplay(args []string) error {
	var (
		common     commonFlags
		scriptPath string
	)
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	common.register(fs)
	fs.StringVar(&scriptPath, "script", "session.yaml", "Path to capture script")
	fs.Parse(args)

	cfg, logger, err := common.load()
	if err != nil {
		return err
	}
	script, err := capture.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	opts := capture.OptionsFromConfig(cfg.Capture)
	if script.Language != "" {
		opts.Language = script.Language
	}

	capability := capture.NewScriptedCapability(script.Steps)
	ctrl := controller.New(capability, opts, newGatewayClient(cfg.Client), logger)
	if err := ctrl.Start(); err != nil {
		return printSession(ctrl.Snapshot())
	}
	capability.Last().Play()
	_ = ctrl.Stop(context.Background())
	return printSession(ctrl.Snapshot())
}

func runRecord(args []string) error {
	var (
		common   commonFlags
		command  string
		language string
	)
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	common.register(fs)
	fs.StringVar(&command, "command", "", "Recognizer command (overrides capture.command)")
	fs.StringVar(&language, "language", "", "Recognition language (overrides capture.language)")
	fs.Parse(args)

	cfg, logger, err := common.load()
	if err != nil {
		return err
	}
	if command != "" {
		cfg.Capture.Command = command
	}
	if language != "" {
		cfg.Capture.Language = language
	}

	capability := capture.Unavailable()
	if cfg.Capture.Command != "" {
		capability, err = capture.ExecCapability(cfg.Capture.Command, logger)
		if err != nil {
			return err
		}
	}

	ended := make(chan struct{}, 1)
	ctrl := controller.New(capability, capture.OptionsFromConfig(cfg.Capture), newGatewayClient(cfg.Client), logger,
		controller.WithObserver(func(s controller.Session) {
			if s.State == controller.Recording && s.Transcript != "" {
				fmt.Fprintf(os.Stderr, "\r%s", s.Transcript)
			}
			if s.State == controller.Idle && !s.Translating {
				select {
				case ended <- struct{}{}:
				default:
				}
			}
		}))

	if err := ctrl.Start(); err != nil {
		return printSession(ctrl.Snapshot())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	fmt.Fprintln(os.Stderr, "recording, press Ctrl+C to stop")
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr)
		_ = ctrl.Stop(context.Background())
	case <-ended:
		fmt.Fprintln(os.Stderr)
		// The recognizer finished on its own; translate what it heard.
		if snap := ctrl.Snapshot(); snap.Error == "" {
			_ = ctrl.Translate(context.Background(), snap.Transcript)
		}
	}
	return printSession(ctrl.Snapshot())
}

func printSession(s controller.Session) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return err
	}
	if s.Error != "" {
		return fmt.Errorf("session failed: %s", s.Error)
	}
	return nil
}
