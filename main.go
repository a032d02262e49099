// Package main runs the loudness ducking daemon. Media clients stream
// loudness snapshots and captions over a WebSocket; the daemon lowers their
// playback volume around loud events and restores it afterwards.
//
// Usage:
//
//	crest [-config path/to/config.json] [-log-level debug]
//
// If -config is not specified, crest looks for config.json in the same
// directory as the binary.
package main

import (
	"cmp"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/oszuidwest/crest/internal/archive"
	"github.com/oszuidwest/crest/internal/classifier"
	"github.com/oszuidwest/crest/internal/config"
	"github.com/oszuidwest/crest/internal/eventlog"
	"github.com/oszuidwest/crest/internal/notify"
	"github.com/oszuidwest/crest/internal/pipeline"
	"github.com/oszuidwest/crest/internal/server"
	"github.com/oszuidwest/crest/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error (overrides config)")
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

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	setupLogging(cmp.Or(*logLevel, snap.LogLevel))
	slog.Info("using config file", "path", *configPath)

	hub := notify.NewHub(notify.DefaultRecentEvents)
	sinks := []notify.Sink{hub}

	eventLogPath := cmp.Or(snap.EventLogPath, eventlog.DefaultLogPath(snap.WebPort))
	logger, err := eventlog.NewLogger(eventLogPath)
	if err != nil {
		slog.Warn("telemetry log disabled", "path", eventLogPath, "error", err)
	} else {
		sinks = append(sinks, logger)
	}

	var archiver pipeline.Archiver
	var recorder *archive.Recorder
	if snap.HasArchive() {
		recorder, err = archive.NewRecorder(archive.S3Config{
			Endpoint:        snap.ArchiveEndpoint,
			Bucket:          snap.ArchiveBucket,
			AccessKeyID:     snap.ArchiveAccessKeyID,
			SecretAccessKey: snap.ArchiveSecretAccessKey,
			Prefix:          snap.ArchivePrefix,
		})
		if err != nil {
			slog.Warn("telemetry archive disabled", "error", err)
		} else {
			sinks = append(sinks, recorder)
			archiver = recorder
			slog.Info("archiving telemetry to S3", "bucket", snap.ArchiveBucket)
		}
	}

	publisher := notify.NewEventNotifier(cfg, sinks...)
	sessions := pipeline.NewManager()

	releases := NewReleaseWatcher(publisher)
	releaseCtx, stopReleases := context.WithCancel(context.Background())
	go releases.Run(releaseCtx)

	srv := NewServer(cfg, sessions, hub, releases, server.PlayerConfig{
		Settings:   func() pipeline.Settings { return pipeline.SettingsFromSnapshot(cfg.Snapshot()) },
		Classifier: newClassifier(&snap),
		Publisher:  publisher,
		Archiver:   archiver,
	}, eventLogPath)

	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	stopReleases()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if recorder != nil {
		recorder.Wait()
	}
	if logger != nil {
		util.SafeCloseFunc(logger, "telemetry log")()
	}

	slog.Info("shutdown complete")
}

// setupLogging installs the default text logger at the given level.
func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// newClassifier returns the external classifier client, or the local
// keyword classifier when no service is configured or the client cannot be built.
func newClassifier(snap *config.Snapshot) classifier.Classifier {
	if !snap.HasClassifier() {
		slog.Info("no classifier service configured, using local classifier")
		return classifier.Local{}
	}
	c, err := classifier.NewHTTPClient(classifier.HTTPConfig{
		URL:          snap.ClassifierURL,
		Timeout:      time.Duration(snap.ClassifierTimeoutMs) * time.Millisecond,
		TokenURL:     snap.ClassifierTokenURL,
		ClientID:     snap.ClassifierClientID,
		ClientSecret: snap.ClassifierClientSecret,
		Scopes:       snap.ClassifierScopes,
	})
	if err != nil {
		slog.Warn("classifier service unusable, using local classifier", "url", snap.ClassifierURL, "error", err)
		return classifier.Local{}
	}
	slog.Info("using classifier service", "url", snap.ClassifierURL)
	return c
}
