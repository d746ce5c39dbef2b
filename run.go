package main

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oszuidwest/zwfm-speechdetect/internal/archive"
	"github.com/oszuidwest/zwfm-speechdetect/internal/audio"
	"github.com/oszuidwest/zwfm-speechdetect/internal/config"
	"github.com/oszuidwest/zwfm-speechdetect/internal/detector"
	"github.com/oszuidwest/zwfm-speechdetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-speechdetect/internal/metrics"
	"github.com/oszuidwest/zwfm-speechdetect/internal/notify"
	"github.com/oszuidwest/zwfm-speechdetect/internal/server"
	"github.com/oszuidwest/zwfm-speechdetect/internal/util"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 30 * time.Second

// runDetector runs the detector and web server until a shutdown signal arrives.
func runDetector(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureAPIKey(cfg); err != nil {
		return err
	}
	snap := cfg.Snapshot()

	ctx, stop := signal.NotifyContext(parent, util.ShutdownSignals()...)
	defer stop()

	// Check FFmpeg availability
	ffmpegPath := util.ResolveFFmpegPath(snap.FFmpegPath)
	ffmpegAvailable := ffmpegPath != ""
	if !ffmpegAvailable {
		slog.Warn("FFmpeg not found - running in degraded mode", "configured_path", snap.FFmpegPath)
	} else {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}

	logPath := cmp.Or(snap.LogPath, eventlog.DefaultLogPath(snap.WebPort))
	events, err := eventlog.NewLogger(logPath)
	if err != nil {
		return util.WrapError("open event log", err)
	}
	slog.Info("event log opened", "path", logPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	notifier := notify.NewSpeechNotifier(cfg)
	archiver := archive.New(cfg, events)
	archiver.OnResult(m.ArchiveResult)

	det, err := detector.New(cfg, audio.NewCapture(ffmpegPath), detector.Options{
		Metrics:  m,
		EventLog: events,
		Notifier: notifier,
	})
	if err != nil {
		return util.WrapError("create detector", err)
	}

	releases := NewReleaseWatcher(releaseFeedURL, nil)
	commands := server.NewCommandHandler(cfg, det, notifier, archiver, logPath)
	srv := NewServer(cfg, ServerOptions{
		Detector:        det,
		Commands:        commands,
		Metrics:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Releases:        releases,
		EventLogPath:    logPath,
		FFmpegAvailable: ffmpegAvailable,
	})

	go det.Run(ctx)
	go releases.Run(ctx)
	go func() {
		err := cfg.Watch(ctx, func(s config.Snapshot) {
			slog.Info("configuration reloaded")
			det.ApplyConfig(s)
			notifier.Invalidate()
			if err := archiver.Reschedule(s); err != nil {
				slog.Error("failed to reschedule archive", "error", err)
			}
		})
		if err != nil {
			slog.Error("config watcher stopped", "error", err)
		}
	}()

	if err := archiver.Start(); err != nil {
		slog.Error("failed to start archive schedule", "error", err)
	}

	if ffmpegAvailable {
		slog.Info("starting detector")
		if err := det.Start(); err != nil {
			slog.Error("failed to start detector", "error", err)
		}
	} else {
		slog.Warn("detector not started - FFmpeg not available")
	}

	httpServer := srv.Start()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, util.WrapError("shut down HTTP server", err))
	}
	if err := det.Stop(); err != nil {
		errs = append(errs, util.WrapError("stop detector", err))
	}
	archiver.Stop()
	notifier.Wait()
	if err := events.Close(); err != nil {
		errs = append(errs, util.WrapError("close event log", err))
	}

	if err := errors.Join(errs...); err != nil {
		slog.Error("shutdown completed with errors", "error", err)
		return err
	}
	slog.Info("shutdown complete")
	return nil
}

// ensureAPIKey generates and persists an API key when none is configured.
func ensureAPIKey(cfg *config.Config) error {
	if cfg.Snapshot().APIKey != "" {
		return nil
	}
	key, err := config.GenerateAPIKey()
	if err != nil {
		return util.WrapError("generate API key", err)
	}
	if err := cfg.SetAPIKey(key); err != nil {
		return util.WrapError("save API key", err)
	}
	slog.Info("generated API key", "path", cfg.Path())
	return nil
}
