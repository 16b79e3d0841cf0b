// Command svs-remote discovers the SVS subwoofer over BLE and controls it,
// either through one-shot subcommands or a local HTTP/WebSocket server.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/chaz8081/svs-remote/internal/ble"
	"github.com/chaz8081/svs-remote/internal/config"
	"github.com/chaz8081/svs-remote/internal/logging"
	"github.com/chaz8081/svs-remote/internal/nowplaying"
	"github.com/chaz8081/svs-remote/internal/preset"
	"github.com/chaz8081/svs-remote/internal/server"
	"github.com/chaz8081/svs-remote/internal/svs"
)

func main() {
	app := cli.NewApp()

	app.Name = "svs-remote"
	app.Usage = "Control an SVS subwoofer over Bluetooth LE"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "path to config file (default: ~/.config/svs-remote/config.yaml)"},
		cli.DurationFlag{Name: "scan, s", Usage: "override the scan window"},
	}
	app.Action = serve

	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "Connect and serve the HTTP/WebSocket control API",
			Action: serve,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "listen, l", Usage: "listen address (overrides config)"},
				cli.BoolFlag{Name: "no-connect", Usage: "start without connecting; use POST /api/connect later"},
			},
		},
		{
			Name:   "adapters",
			Usage:  "List local Bluetooth adapters",
			Action: adapters,
		},
		{
			Name:   "scan",
			Usage:  "Scan and list advertising peripherals",
			Action: scan,
		},
		{
			Name:   "connect",
			Usage:  "Discover and connect to the subwoofer, then disconnect",
			Action: connect,
		},
		{
			Name:      "send",
			Usage:     "Write a raw hex-encoded frame to the command characteristic",
			ArgsUsage: "<hex>",
			Action:    send,
		},
		{
			Name:      "volume",
			Usage:     "Set volume in dB (-60 to 0)",
			ArgsUsage: "<dB>",
			Action:    func(c *cli.Context) error { return setControl(c, "volume") },
		},
		{
			Name:      "phase",
			Usage:     "Set phase in degrees (0 to 180)",
			ArgsUsage: "<degrees>",
			Action:    func(c *cli.Context) error { return setControl(c, "phase") },
		},
		{
			Name:   "init",
			Usage:  "Write the default config file if none exists",
			Action: initConfig,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// env is the wiring shared by every subcommand.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	session *ble.Session
	link    *ble.LinkManager
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if d := c.GlobalDuration("scan"); d > 0 {
		cfg.BLE.ScanSeconds = d.Seconds()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	session := ble.NewSession(ble.NewTinyGoHost(), logger)
	link := ble.NewLinkManager(session, ble.LinkOptions{
		ScanDuration:      cfg.BLE.ScanDuration(),
		ValidateOnConnect: cfg.BLE.ValidateOnConnect,
		Logger:            logger,
	})
	return &env{cfg: cfg, logger: logger, session: session, link: link}, nil
}

func serve(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	if addr := c.String("listen"); addr != "" {
		e.cfg.Server.Listen = addr
	}
	printBanner(e.cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(e.cfg.Presets.DBPath), 0755); err != nil {
		return fmt.Errorf("creating preset dir: %w", err)
	}
	backend, err := preset.OpenSQLite(e.cfg.Presets.DBPath)
	if err != nil {
		return err
	}
	defer backend.Close()
	presets, err := preset.NewStore(ctx, backend)
	if err != nil {
		return err
	}

	hub := server.NewHub(e.logger)
	defer hub.Close()

	var source nowplaying.Source = nowplaying.NoSource{}
	if e.cfg.NowPlaying.Source == "mpris" {
		source = nowplaying.NewMPRISSource(e.logger)
	}
	watcher := nowplaying.NewWatcher(source, hub, e.logger)
	if err := watcher.Start(ctx); err != nil {
		// Media integration is optional; the remote still works without it.
		e.logger.Warn("[NowPlaying] source unavailable", "source", e.cfg.NowPlaying.Source, "error", err)
	}

	controller := svs.NewController(e.link, e.cfg.SVS.Settle(), e.logger)
	srv := server.New(e.link, controller, presets, watcher, hub, e.logger)

	if !c.Bool("no-connect") {
		log.Println("Scanning for", ble.DeviceName+"...")
		if err := e.link.DiscoverAndConnect(ctx); err != nil {
			e.logger.Warn("[BLE] initial connect failed", "error", err)
		} else {
			st := e.link.Status()
			log.Printf("Connected to %s (%s)", st.Name, st.Address)
			hub.Emit("device-connected", st)
		}
	}
	defer e.link.Close()

	httpServer := &http.Server{
		Addr:              e.cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("[HTTP] listening", "addr", e.cfg.Server.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			e.logger.Warn("[HTTP] shutdown", "error", err)
		}
	}
	log.Println("Goodbye!")
	return nil
}

func adapters(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	list, err := e.session.ListAdapters()
	if err != nil {
		return err
	}
	for _, a := range list {
		fmt.Println(a.ID())
	}
	return nil
}

func scan(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	list, err := e.session.ListAdapters()
	if err != nil {
		return err
	}
	fmt.Printf("Scanning on %s for %s...\n", list[0].ID(), e.cfg.BLE.ScanDuration())
	peripherals, err := e.session.Scan(ctx, list[0], e.cfg.BLE.ScanDuration())
	if err != nil {
		return err
	}
	for _, p := range peripherals {
		marker := " "
		if p.Name == ble.DeviceName {
			marker = "*"
		}
		fmt.Printf("%s %-17s %4d dBm  %s\n", marker, p.Address, p.RSSI, p.Name)
	}
	fmt.Printf("%d peripheral(s)\n", len(peripherals))
	return nil
}

func connect(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.link.DiscoverAndConnect(ctx); err != nil {
		return err
	}
	defer e.link.Close()
	st := e.link.Status()
	fmt.Printf("Connected to %s (%s)\n", st.Name, st.Address)
	return nil
}

func send(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: svs-remote send <hex>", 2)
	}
	payload, err := hex.DecodeString(strings.ReplaceAll(c.Args().First(), " ", ""))
	if err != nil {
		return fmt.Errorf("invalid hex payload: %w", err)
	}
	return withLink(c, func(ctx context.Context, e *env) error {
		return e.link.SendCommand(ctx, payload)
	})
}

func setControl(c *cli.Context, which string) error {
	if c.NArg() != 1 {
		return cli.NewExitError(fmt.Sprintf("usage: svs-remote %s <value>", which), 2)
	}
	value, err := strconv.ParseFloat(c.Args().First(), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", which, err)
	}
	return withLink(c, func(ctx context.Context, e *env) error {
		controller := svs.NewController(e.link, e.cfg.SVS.Settle(), e.logger)
		if which == "phase" {
			return controller.SetPhase(ctx, value)
		}
		return controller.SetVolume(ctx, value)
	})
}

// withLink connects, runs fn, and disconnects.
func withLink(c *cli.Context, fn func(context.Context, *env) error) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.link.DiscoverAndConnect(ctx); err != nil {
		return err
	}
	defer e.link.Close()

	if err := fn(ctx, e); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func initConfig(_ *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println("Config already exists at", config.DefaultConfigPath())
		return nil
	}
	fmt.Println("Wrote default config to", path)
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== svs-remote ===")
	fmt.Printf("  Device:     %s\n", ble.DeviceName)
	fmt.Printf("  Scan:       %s\n", cfg.BLE.ScanDuration())
	fmt.Printf("  Settle:     %s\n", cfg.SVS.Settle())
	fmt.Printf("  Listen:     %s\n", cfg.Server.Listen)
	fmt.Printf("  Presets:    %s\n", cfg.Presets.DBPath)
	fmt.Printf("  NowPlaying: %s\n", cfg.NowPlaying.Source)
	fmt.Printf("  Log:        %s (%s)\n", cfg.LogLevel, cfg.LogFormat)
	fmt.Println("==================")
}
