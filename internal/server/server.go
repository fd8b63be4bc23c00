package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/cmdgate/cmdgate/internal/api"
	"github.com/cmdgate/cmdgate/internal/config"
	"github.com/cmdgate/cmdgate/internal/events"
	"github.com/cmdgate/cmdgate/internal/executor"
	"github.com/cmdgate/cmdgate/internal/metrics"
	"github.com/cmdgate/cmdgate/internal/policy"
	storepkg "github.com/cmdgate/cmdgate/internal/store"
	"github.com/cmdgate/cmdgate/internal/store/composite"
	"github.com/cmdgate/cmdgate/internal/store/jsonl"
	"github.com/cmdgate/cmdgate/internal/store/sqlite"
	"github.com/cmdgate/cmdgate/internal/store/webhook"
	"github.com/cmdgate/cmdgate/pkg/types"
)

type Server struct {
	cfg *config.Config

	httpServer *http.Server
	httpLn     net.Listener

	engine  *policy.Engine
	watcher *policy.Watcher
	store   *composite.Store
	broker  *events.Broker
}

func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	fileStore, err := policy.NewFileStore(cfg.Policy.Path)
	if err != nil {
		return nil, err
	}
	engine := policy.NewEngine(fileStore)
	if usedDefaults := engine.Load(); usedDefaults {
		slog.Warn("policy file unusable, installed defaults", "path", cfg.Policy.Path)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
	}

	db, err := sqlite.Open(cfg.Audit.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}

	var others []storepkg.EventStore
	if cfg.Audit.Enabled && cfg.Audit.Output != "" {
		jsonlStore, err := jsonl.New(cfg.Audit.Output, cfg.Audit.Rotation.MaxSizeMB, cfg.Audit.Rotation.MaxBackups)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		others = append(others, jsonlStore)
	}
	if cfg.Audit.Webhook.URL != "" {
		flushEvery, err := time.ParseDuration(cfg.Audit.Webhook.FlushInterval)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("parse audit.webhook.flush_interval: %w", err)
		}
		timeout, err := time.ParseDuration(cfg.Audit.Webhook.Timeout)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("parse audit.webhook.timeout: %w", err)
		}
		webhookStore, err := webhook.New(cfg.Audit.Webhook.URL, cfg.Audit.Webhook.BatchSize, flushEvery, timeout, cfg.Audit.Webhook.Headers)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		others = append(others, webhookStore)
	}

	// Wrap the primary store so metrics count each event exactly once.
	primary := storepkg.EventStore(db)
	if collector != nil {
		primary = metrics.WrapEventStore(db, collector)
	}
	st := composite.New(primary, others...)

	broker := events.NewBroker()
	engine.OnEvent(func(ev types.Event) {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		if err := st.AppendEvent(context.Background(), ev); err != nil {
			slog.Error("append policy event failed", "type", ev.Type, "err", err)
		}
		broker.Publish(ev)
	})

	var watcher *policy.Watcher
	if cfg.Policy.Watch {
		debounce, err := time.ParseDuration(cfg.Policy.WatchDebounce)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("parse policy.watch_debounce: %w", err)
		}
		watcher, err = policy.NewWatcher(engine, cfg.Policy.Path, debounce)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	exec := executor.NewLocal(cfg.Exec.MaxOutputBytes)
	app := api.NewApp(cfg, engine, exec, st, broker, collector)

	readTimeout, err := time.ParseDuration(cfg.Server.ReadTimeout)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("parse server.read_timeout: %w", err)
	}
	writeTimeout, err := time.ParseDuration(cfg.Server.WriteTimeout)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("parse server.write_timeout: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Handler:      app.Router(),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		httpLn:  ln,
		engine:  engine,
		watcher: watcher,
		store:   st,
		broker:  broker,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// Run serves until ctx is canceled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = s.watcher.Stop() }()
	}

	slog.Info("server listening", "addr", s.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
}

func (s *Server) Close() error {
	if s.httpLn != nil {
		_ = s.httpLn.Close()
		s.httpLn = nil
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
