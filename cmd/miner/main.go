// Command miner is the entry point for the Twitch Drops Miner. It loads
// the settings file, wires the shared transport, session and GraphQL
// clients into a single-account miner, and manages graceful shutdown via
// OS signals.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/Guliveer/twitch-drops-go/internal/auth"
	"github.com/Guliveer/twitch-drops-go/internal/config"
	"github.com/Guliveer/twitch-drops-go/internal/gql"
	"github.com/Guliveer/twitch-drops-go/internal/logger"
	"github.com/Guliveer/twitch-drops-go/internal/miner"
	"github.com/Guliveer/twitch-drops-go/internal/transport"
	"github.com/Guliveer/twitch-drops-go/internal/twitch"
)

const banner = `
╔══════════════════════════════════════════════════╗
║          Twitch Drops Miner — Go Edition         ║
╚══════════════════════════════════════════════════╝
`

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the settings file")
	logLevel := flag.String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides TDG_LOG_LEVEL env)")
	noColor := flag.Bool("no-color", false, "Disable colored output (overrides TTY detection)")
	flag.Parse()

	// A local .env overlays the environment before the config reads it.
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if *logLevel != "" {
		level = logger.ParseLevel(*logLevel)
	}
	colored := !*noColor && !cfg.Log.NoColor &&
		term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""

	logDir := ""
	if cfg.Log.File {
		logDir = filepath.Join(cfg.StateDir, "logs")
	}
	log, err := logger.Setup(logger.Config{
		Level:     level,
		FileLevel: slog.LevelDebug,
		Colored:   colored,
		LogDir:    logDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(banner)
	log.Info("🚀 Starting Twitch Drops Miner (Go)", "config", *configPath)

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Error("Failed to create state directory", "dir", cfg.StateDir, "error", err)
		os.Exit(1)
	}

	httpClient, err := transport.NewClient(transport.Options{
		CookieFile: filepath.Join(cfg.StateDir, "cookies.json"),
		Proxy:      cfg.Proxy,
	}, log)
	if err != nil {
		log.Error("Failed to build HTTP client", "error", err)
		os.Exit(1)
	}

	authClient := auth.NewClient(auth.Config{
		Username:  cfg.Username,
		AuthToken: cfg.Auth.AuthToken,
		Password:  cfg.Auth.Password,
	}, httpClient, log)
	gqlClient := gql.NewClient(authClient, httpClient, log)
	webClient := twitch.NewClient(httpClient, log)

	m := miner.New(cfg, log, httpClient, authClient, gqlClient, webClient)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("Received shutdown signal", "signal", sig.String())
		cancel()

		time.AfterFunc(30*time.Second, func() {
			log.Error("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		})
	}()

	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Miner exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("👋 Shutdown complete")
}
