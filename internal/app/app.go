package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	server "towerdefense/server"
	"towerdefense/server/internal/game"
	servernet "towerdefense/server/internal/net"
	"towerdefense/server/internal/net/ws"
	"towerdefense/server/internal/observability"
	"towerdefense/server/internal/persist"
	"towerdefense/server/internal/telemetry"
	"towerdefense/server/logging"
	loggingpersistence "towerdefense/server/logging/persistence"
	loggingSinks "towerdefense/server/logging/sinks"
)

// Run wires the process together and blocks until ctx is cancelled, a
// termination signal arrives, or a component fails. A hub fault is returned
// wrapped so callers can exit non-zero after the fault flush.
func Run(ctx context.Context, cfg Config) error {
	logger, closeLog := NewLogger(cfg.Log, os.Stdout)
	defer closeLog()
	telemetryLogger := telemetry.WrapLogger(logger)

	router, err := NewEventRouter(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persist.OpenStore(ctx, persist.StoreConfig{
		Driver:     cfg.Store.Driver,
		URL:        cfg.Store.URL,
		Key:        cfg.Store.Key,
		SQLDialect: cfg.Store.SQLDialect,
	})
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			telemetryLogger.Printf("failed to close store: %v", cerr)
		}
	}()

	counters := telemetry.NewCounters()
	restored, err := restoreRooms(ctx, store, router)
	if err != nil {
		return err
	}

	writer := persist.NewWriter(persist.WriterConfig{
		Store:     store,
		Compress:  cfg.Store.Compress,
		Logger:    telemetryLogger,
		Publisher: router,
		Metrics:   counters,
	})

	hubCfg := server.DefaultHubConfig()
	hubCfg.TickInterval = cfg.TickInterval
	hubCfg.BroadcastInterval = cfg.BroadcastInterval
	hubCfg.LobbyInterval = cfg.LobbyInterval
	hubCfg.SaveDebounce = cfg.SaveDebounce
	hubCfg.GracePeriod = cfg.GracePeriod
	hubCfg.IdleTimeout = cfg.IdleTimeout
	hubCfg.Logger = telemetryLogger
	hubCfg.Metrics = counters
	hubCfg.Writer = writer
	hub := server.NewHub(hubCfg, router)
	if installed := hub.Restore(restored); installed > 0 {
		telemetryLogger.Printf("restored %d rooms", installed)
	}

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{
		Logger:        telemetryLogger,
		Publisher:     router,
		RatePerSecond: cfg.RateLimit.PerSecond,
		Burst:         cfg.RateLimit.Burst,
	})
	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		WebSocket:     wsHandler.Handle,
		ClientDir:     cfg.ClientDir,
		Logger:        telemetryLogger,
		Observability: observability.Config{EnablePprof: cfg.Pprof},
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return writer.Run(gctx)
	})
	g.Go(func() error {
		telemetryLogger.Printf("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			telemetryLogger.Printf("http shutdown: %v", err)
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, server.ErrHubFault) {
		logger.WithError(err).Error("hub faulted; state flushed")
	}
	return err
}

// restoreRooms loads the stored snapshot. Sanitization findings are
// published; an unreadable or unsupported document stops startup.
func restoreRooms(ctx context.Context, store persist.Store, pub logging.Publisher) ([]*game.Room, error) {
	rooms, report, err := persist.Load(ctx, store, time.Now())
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	loggingpersistence.SnapshotLoaded(ctx, pub, loggingpersistence.LoadedPayload{
		Version:      report.Version,
		RoomsLoaded:  report.RoomsLoaded,
		RoomsDropped: report.RoomsDropped,
		Issues:       len(report.Issues),
	})
	for _, issue := range report.Issues {
		loggingpersistence.SnapshotSanitized(ctx, pub, issue.Room, loggingpersistence.SanitizedPayload{
			Field:   issue.Field,
			Problem: issue.Problem,
		})
	}
	return rooms, nil
}

// NewLogger builds the process logger. A configured file is rotated by
// lumberjack; the returned func closes it.
func NewLogger(cfg LogConfig, stdout io.Writer) (*logrus.Logger, func()) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.File == "" {
		logger.SetOutput(stdout)
		return logger, func() {}
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	logger.SetOutput(rotator)
	return logger, func() { _ = rotator.Close() }
}

// NewEventRouter builds the game event router with the configured sinks.
func NewEventRouter(cfg Config, fallback logrus.FieldLogger) (*logging.Router, error) {
	logConfig := logging.DefaultConfig()
	logConfig.EnabledSinks = cfg.Events.Sinks
	logConfig.MinimumSeverity = logging.ParseSeverity(cfg.Log.Level)
	if cfg.Events.File != "" {
		logConfig.JSON.FilePath = cfg.Events.File
	}

	var sinks []logging.NamedSink
	for _, name := range logConfig.EnabledSinks {
		switch name {
		case "console":
			sinks = append(sinks, logging.NamedSink{Name: name, Sink: loggingSinks.NewConsole(os.Stdout, logConfig.Console)})
		case "json":
			sinks = append(sinks, logging.NamedSink{Name: name, Sink: loggingSinks.NewRotatingJSON(logConfig.JSON)})
		case "memory":
			sinks = append(sinks, logging.NamedSink{Name: name, Sink: loggingSinks.NewMemory(1024)})
		}
	}
	return logging.NewRouter(logging.SystemClock{}, logConfig, sinks, fallback)
}
