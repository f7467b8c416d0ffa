// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/cuebox/internal/api/connect"
	"github.com/osa030/cuebox/internal/app/gate"
	"github.com/osa030/cuebox/internal/app/playback"
	"github.com/osa030/cuebox/internal/app/session"
	hostsignal "github.com/osa030/cuebox/internal/app/signal"
	"github.com/osa030/cuebox/internal/infra/audio"
	"github.com/osa030/cuebox/internal/infra/config"
	"github.com/osa030/cuebox/internal/infra/decode"
	"github.com/osa030/cuebox/internal/infra/diskcache"
	"github.com/osa030/cuebox/internal/infra/fetch"
	"github.com/osa030/cuebox/internal/infra/logger"
)

var (
	app        = kingpin.New("cuebox-server", "cuebox audio cue server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	listPresetsCmd = app.Command("list-presets", "List configured presets and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == listPresetsCmd.FullCommand() {
		printPresets(cfg)
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := audio.NewBackend(cfg.Audio.Backend, cfg.Audio.Settings, decode.New())
	if err != nil {
		return errors.Wrap(err, "failed to create audio backend")
	}
	zlog.Info().Msgf("Audio backend: %s", backend.Name())

	interaction, err := newGate(cfg)
	if err != nil {
		return err
	}
	bus := hostsignal.NewBus()

	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}

	registry := session.NewRegistry(playback.Deps{
		Backend: backend,
		Fetcher: fetcher,
		Gate:    interaction,
		Bus:     bus,
	}, playerDefaults(cfg), presets(cfg))

	if cfg.PrefetchCount() > 0 {
		go func() {
			if err := registry.PrefetchPresets(ctx); err != nil {
				zlog.Warn().Err(err).Msg("Preset prefetch failed")
			}
		}()
	}

	if cfg.Gate.Terminal && !interaction.Open() {
		go watchTerminal(ctx, interaction, stop)
	}

	var opts []connect.HandlerOption
	if cfg.Server.Token != "" {
		opts = append(opts, connect.WithInterceptors(apiconnect.NewTokenInterceptor(cfg.Server.Token)))
	} else {
		zlog.Warn().Msg("server.token is empty, RPC surface is unauthenticated")
	}

	mux := http.NewServeMux()
	mux.Handle(apiconnect.NewPlayerServiceHandler(apiconnect.NewPlayerService(registry), opts...))
	mux.Handle(apiconnect.NewHostServiceHandler(apiconnect.NewHostService(registry, interaction, bus), opts...))

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Give the listener a moment before running hooks
	time.Sleep(100 * time.Millisecond)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	select {
	case <-ctx.Done():
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Destroy players first so blocked Play calls return before the server drains
	if err := registry.Close(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to close players: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

func newGate(cfg *config.Config) (*gate.Gate, error) {
	if !cfg.GateEnabled() {
		zlog.Info().Msg("Interaction gate disabled")
		return gate.Opened(), nil
	}
	kinds := make([]gate.Kind, 0, len(cfg.Gate.Events))
	for _, name := range cfg.Gate.Events {
		k, err := gate.ParseKind(name)
		if err != nil {
			return nil, errors.Wrap(err, "invalid gate config")
		}
		kinds = append(kinds, k)
	}
	return gate.New(kinds...), nil
}

func newFetcher(cfg *config.Config) (*fetch.Client, error) {
	fc := fetch.Config{
		Timeout:           cfg.Fetch.Timeout(),
		RequestsPerMinute: cfg.Fetch.RequestsPerMinute,
		Burst:             cfg.Fetch.Burst,
		BearerToken:       cfg.Fetch.BearerToken,
		UserAgent:         cfg.Fetch.UserAgent,
		DisableLocal:      !cfg.Fetch.LocalAllowed(),
		LocalRoot:         cfg.Fetch.LocalRoot,
	}
	if dir := cfg.Fetch.Cache.Dir; dir != "" {
		store, err := diskcache.New(diskcache.Config{
			Dir:              dir,
			CompressionLevel: cfg.Fetch.Cache.CompressionLevel,
			MaxBytes:         cfg.Fetch.Cache.MaxBytes,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to open fetch cache")
		}
		zlog.Info().Msgf("Fetch cache: dir=%s size=%d", dir, store.Size())
		fc.Store = store
	}
	return fetch.New(fc), nil
}

func playerDefaults(cfg *config.Config) session.Defaults {
	return session.Defaults{
		Loop:        cfg.Player.Loop,
		Volume:      cfg.Player.Volume,
		Autoplay:    cfg.Player.Autoplay,
		PauseOnBlur: cfg.Player.PauseOnBlur,
	}
}

func presets(cfg *config.Config) map[string]session.Preset {
	out := make(map[string]session.Preset, len(cfg.Presets))
	for name, p := range cfg.Presets {
		out[name] = session.Preset{
			Src:         p.Src,
			Loop:        p.Loop,
			Volume:      p.Volume,
			Autoplay:    p.Autoplay,
			PauseOnBlur: p.PauseOnBlur,
			Prefetch:    p.Prefetch,
		}
	}
	return out
}

// printPresets prints configured presets.
func printPresets(cfg *config.Config) {
	names := make([]string, 0, len(cfg.Presets))
	for name := range cfg.Presets {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Presets:")
	for _, name := range names {
		p := cfg.Presets[name]
		fmt.Printf("  %-20s %s (loop=%t prefetch=%t)\n", name, p.Src, p.Loop, p.Prefetch)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
