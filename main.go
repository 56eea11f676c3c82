// Package main runs the voicebridge server: a relay between consultation
// room capture clients and the streaming speech-recognition service.
//
// Usage:
//
//	voicebridge [-config path/to/config.json]
//
// If -config is not specified, voicebridge looks for config.json in the
// same directory as the binary. The recognition secret must be present in
// the CLOVA_SPEECH_SECRET environment variable; startup fails without it.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hanuiwon/voicebridge/internal/archive"
	"github.com/hanuiwon/voicebridge/internal/bridge"
	"github.com/hanuiwon/voicebridge/internal/config"
	"github.com/hanuiwon/voicebridge/internal/notify"
	"github.com/hanuiwon/voicebridge/internal/protocol"
	"github.com/hanuiwon/voicebridge/internal/recognition"
)

// Build information, set via -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	dialer, err := recognition.NewWSDialer(cfg.Recognition.Endpoint, cfg.Recognition.Secret, cfg.IdleTimeout())
	if err != nil {
		slog.Error("failed to create recognition dialer", "error", err)
		os.Exit(1)
	}
	slog.Info("recognition endpoint configured", "endpoint", cfg.Recognition.Endpoint)

	boostings, err := cfg.Boostings()
	if err != nil {
		slog.Error("failed to load boostings keywords", "error", err)
		os.Exit(1)
	}
	if len(boostings) > 0 {
		slog.Info("vocabulary boosting enabled", "keywords", len(boostings))
	}
	defaults := protocol.RecognitionConfig{
		Language:   cfg.Speech.Language,
		Completion: cfg.Speech.Completion,
		Boostings:  boostings,
	}

	notifier := notify.NewNotifier(cfg)

	var archiver *archive.Archiver
	if cfg.HasArchive() {
		archiver = archive.NewArchiver(cfg.Archive)
		slog.Info("transcript archive enabled", "bucket", cfg.Archive.Bucket)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := archiver.TestConnection(ctx); err != nil {
				slog.Warn("archive connectivity check failed", "bucket", cfg.Archive.Bucket, "error", err)
			}
		}()
	}

	b := bridge.New(dialer, defaults, notifier, archiver)
	srv := NewServer(cfg, b)

	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	srv.version.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
