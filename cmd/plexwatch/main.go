// Package main provides the plexwatch entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/jjlawren/plexwatch/internal/app/watcher"
	"github.com/jjlawren/plexwatch/internal/infra/config"
	"github.com/jjlawren/plexwatch/internal/infra/logger"
	"github.com/jjlawren/plexwatch/internal/infra/plex"
)

var (
	app        = kingpin.New("plexwatch", "Watch a Plex server for player state changes")
	configPath = app.Flag("config", "Path to config file").Default("config/plexwatch.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	// Initialize logger
	loggerConfig := logger.Config{Level: "info", Output: "stdout"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Command-line flags override individual config settings, the rest
	// keep their config file values
	if err := logger.Init(logConfig(cfg, *verbose, *logfile)); err != nil {
		zlog.Fatal().Msgf("Failed to reinitialize logger: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Watcher error: %v", err)
		os.Exit(1)
	}
}

// logConfig merges command-line overrides onto the config file's log
// settings. Each flag replaces only the setting it covers.
func logConfig(cfg *config.Config, verbose bool, logfile string) logger.Config {
	lc := logger.Config{Level: cfg.Log.Level, Output: cfg.Log.Output}
	if verbose {
		lc.Level = "debug"
	}
	if logfile != "" {
		lc.Output = logfile
	}
	return lc
}

// run executes the main watcher logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	server, err := plex.NewServer(cfg.Server.URL, cfg.Server.Token)
	if err != nil {
		return errors.Wrap(err, "invalid server config")
	}

	listener, err := watcher.NewListener(watcher.Config{
		Target:             server,
		Callback:           printEvent,
		Subscriptions:      cfg.Stream.Subscriptions,
		Heartbeat:          cfg.Heartbeat(),
		InsecureSkipVerify: cfg.Server.InsecureSkipVerify,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create listener")
	}

	zlog.Info().Msgf("Watching %s", cfg.Server.URL)

	done := make(chan struct{})
	go func() {
		defer close(done)
		listener.Listen(context.Background())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
		listener.Close()
		<-done
	case <-done:
		// The listener stopped on its own (permanent error); the reason was
		// already reported through the state callback.
	}

	zlog.Info().Msg("Watcher stopped")
	return nil
}

// printEvent logs every surfaced event as a structured line.
func printEvent(eventType string, data any, reason error) {
	if eventType == watcher.SignalConnectionState {
		evt := zlog.Info()
		if reason != nil {
			evt = zlog.Warn().Err(reason)
		}
		evt.Str("event", eventType).Msgf("Connection %s", data)
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		zlog.Warn().Msgf("Failed to encode %s event: %v", eventType, err)
		return
	}
	zlog.Info().Str("event", eventType).RawJSON("data", payload).Msg("Player event")
}
