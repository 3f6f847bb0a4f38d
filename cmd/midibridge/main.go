// Package main is the entry point for the LacyLights MIDI bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // registers the rtmidi driver

	"github.com/bbernstein/lacylights-midi/internal/api"
	"github.com/bbernstein/lacylights-midi/internal/config"
	"github.com/bbernstein/lacylights-midi/internal/database"
	"github.com/bbernstein/lacylights-midi/internal/database/repositories"
	"github.com/bbernstein/lacylights-midi/internal/mapping"
	"github.com/bbernstein/lacylights-midi/internal/services/dispatch"
	"github.com/bbernstein/lacylights-midi/internal/services/midi"
	"github.com/bbernstein/lacylights-midi/internal/services/pubsub"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	printBanner(cfg)

	if err := run(cfg); err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Println("Bridge stopped")
}

func run(cfg *config.Config) error {
	defer gomidi.CloseDriver()

	ps := pubsub.New()

	opts := dispatch.Options{
		QueueSize:   cfg.QueueSize,
		HTTPTimeout: cfg.HTTPTimeout,
		PubSub:      ps,
	}
	apiOpts := api.Options{
		PubSub:     ps,
		Version:    Version,
		CORSOrigin: cfg.CORSOrigin,
		Debug:      cfg.IsDevelopment(),
	}

	if cfg.RevisionHistoryEnabled {
		db, err := database.Connect(database.Config{
			URL:         cfg.DatabaseURL,
			MaxIdleConn: 1,
			MaxOpenConn: 1,
			Debug:       false,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() { _ = database.Close() }()

		revisions := repositories.NewRevisionRepository(db)
		opts.Recorder = revisions
		apiOpts.Revisions = revisions
	}

	engine := dispatch.NewEngine(mapping.NewFileSource(cfg.MappingPath, cfg.MIDIDevice), opts)
	if err := engine.Reload(context.Background()); err != nil {
		return fmt.Errorf("failed to load mapping %s: %w", cfg.MappingPath, err)
	}
	engine.Start()

	device := engine.Store().Settings().InputDevice
	input, err := midi.Open(device, engine.Handle)
	if err != nil {
		_ = engine.Stop(context.Background())
		return err
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go warnOnDeviceChange(watchCtx, ps, engine, input.Name())

	var httpServer *http.Server
	if cfg.StatusEnabled {
		apiOpts.Engine = engine
		httpServer = &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      api.NewServer(apiOpts).Handler(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // live feed connections are long-lived
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Printf("📡 Status API listening on http://localhost:%s\n", cfg.Port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("❌ Status API error: %v", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	reason := waitForShutdown(sigs, engine)
	log.Printf("Shutting down (%s)...", reason)

	// Stop intake first so nothing new is queued while draining
	input.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := engine.Stop(ctx); err != nil {
		log.Printf("⚠️  Dispatch did not drain: %v", err)
	}

	if httpServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  Status API shutdown error: %v", err)
		}
	}

	stats := engine.Stats()
	log.Printf("✅ Handled %d events, dispatched %d, failed %d, dropped %d",
		stats.Handled, stats.Dispatched, stats.Failed, stats.Dropped)
	return nil
}

// controller is the part of the engine the signal loop drives.
type controller interface {
	Reload(ctx context.Context) error
	Done() <-chan struct{}
}

// waitForShutdown blocks until a stop signal arrives or a quit command runs.
// SIGHUP reloads the mapping and keeps waiting.
func waitForShutdown(sigs <-chan os.Signal, c controller) string {
	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				log.Println("🔄 SIGHUP received, reloading mapping")
				if err := c.Reload(context.Background()); err != nil {
					log.Printf("⚠️  Keeping previous mapping: %v", err)
				}
				continue
			}
			return sig.String()
		case <-c.Done():
			return "quit command"
		}
	}
}

// warnOnDeviceChange logs when a reload names a different input device than
// the one already open. The input port is only chosen at startup.
func warnOnDeviceChange(ctx context.Context, ps *pubsub.PubSub, engine *dispatch.Engine, opened string) {
	sub := ps.Subscribe(pubsub.TopicConfigReloaded, "", 4)
	defer ps.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel:
			if !ok {
				return
			}
			res, isResult := msg.(dispatch.ReloadResult)
			if !isResult || !res.Accepted {
				continue
			}
			if store := engine.Store(); store != nil {
				want := store.Settings().InputDevice
				if midi.MatchInput([]string{opened}, want) < 0 {
					log.Printf("⚠️  Mapping now names MIDI input %q but %q is open; restart to switch devices", want, opened)
				}
			}
		}
	}
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println("============================================")
	fmt.Println("  LacyLights MIDI Bridge")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Build:   %s\n", BuildTime)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Mapping:     %s\n", cfg.MappingPath)
	if cfg.MIDIDevice != "" {
		fmt.Printf("  MIDI input:  %s (override)\n", cfg.MIDIDevice)
	}
	if cfg.StatusEnabled {
		fmt.Printf("  Status API:  :%s\n", cfg.Port)
	} else {
		fmt.Println("  Status API:  disabled")
	}
	if cfg.RevisionHistoryEnabled {
		fmt.Printf("  History:     %s\n", cfg.DatabaseURL)
	}
	fmt.Println("============================================")
}
