// Package main provides the voicevault entry point: local recording manager
// with its HTTP control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm/logger"

	"github.com/Katie1225/voicevault/internal/artifact"
	"github.com/Katie1225/voicevault/internal/capture"
	"github.com/Katie1225/voicevault/internal/catalog"
	"github.com/Katie1225/voicevault/internal/config"
	"github.com/Katie1225/voicevault/internal/db"
	"github.com/Katie1225/voicevault/internal/orchestrator"
	"github.com/Katie1225/voicevault/internal/quota"
	"github.com/Katie1225/voicevault/internal/remote"
	"github.com/Katie1225/voicevault/internal/server"
	"github.com/Katie1225/voicevault/internal/store"
	"github.com/Katie1225/voicevault/internal/watcher"
	"github.com/Katie1225/voicevault/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

// defaultRecorderCmd records from the default input until interrupted.
const defaultRecorderCmd = "ffmpeg -f pulse -i default {out}"

func main() {
	listen := flag.String("listen", "", "Listen address (default from config)")
	recorder := flag.String("recorder", defaultRecorderCmd, "Capture command, {out} is the target file")
	ffmpegBin := flag.String("ffmpeg", "ffmpeg", "ffmpeg binary for audio transforms")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()
	}()

	// SQLite side-ledger: artifact job status, quota account, outbox.
	dbStore, err := db.NewStore(db.Config{
		Path:     config.DBPath(),
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer dbStore.Close()

	remoteClient := remote.New(cfg.Remote)

	ledger, err := quota.New(ctx, db.NewQuotaStore(dbStore), remoteClient, quota.Options{
		AccountID:         cfg.AccountID,
		GiftCoins:         cfg.GiftCoins,
		ReconcileInterval: time.Duration(cfg.ReconcileHours) * time.Hour,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open quota ledger")
	}
	go ledger.Run(ctx, time.Duration(cfg.OutboxDrainSec)*time.Second)

	artifacts := artifact.New(
		config.DerivedDir(),
		artifact.NewFFmpegTool(*ffmpegBin),
		db.NewJobStore(dbStore),
	)

	cat := catalog.New(store.New(config.CatalogPath(), config.BackupPath()), artifacts)
	if err := cat.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load catalog")
	}

	orch := orchestrator.New(cat, artifacts, ledger, remoteClient, cfg.Costs)

	device := capture.NewExecDevice(strings.Fields(*recorder), config.RecordingsDir())
	rec := capture.New(device, cat, capture.Options{
		MaxDurationSec:   cfg.MaxDurationSec,
		LevelHistorySize: cfg.LevelHistorySize,
		LevelFloorDB:     cfg.LevelFloorDB,
		OnAutoStop: func(item *models.RecordingItem) {
			log.Info().Str("uri", item.URI).Msg("Recording auto-stopped at duration cap")
		},
	})

	svc := server.New(Version, cat, orch, rec, ledger, cfg)

	// Re-persist from memory if the catalog file disappears underneath us.
	guard, err := watcher.New(config.CatalogPath(), func() {
		if err := cat.Resave(); err != nil {
			log.Error().Err(err).Msg("Catalog restore failed")
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create catalog guard")
	} else if err := guard.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start catalog guard")
	} else {
		defer guard.Stop()
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		// Final stop and flush so a capture in progress is not lost.
		if _, err := rec.Stop(true); err != nil {
			log.Warn().Err(err).Msg("Capture finalization on shutdown failed")
		}
		if err := cat.Flush(); err != nil {
			log.Warn().Err(err).Msg("Final catalog flush failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("version", Version).Msg("voicevault listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server error")
	}
}

// setupLogging writes console output to stderr and, when configured, a
// rotated copy to the log file.
func setupLogging(cfg *config.Config) {
	console := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}
	if cfg.LogFile == "" {
		log.Logger = log.Output(console)
		return
	}
	rotated := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	log.Logger = log.Output(io.MultiWriter(console, rotated))
}
