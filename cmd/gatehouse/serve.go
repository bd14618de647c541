// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/config"
	"github.com/holomush/gatehouse/internal/control"
	"github.com/holomush/gatehouse/internal/events"
	"github.com/holomush/gatehouse/internal/gate"
	"github.com/holomush/gatehouse/internal/logging"
	"github.com/holomush/gatehouse/internal/messages"
	"github.com/holomush/gatehouse/internal/observability"
	"github.com/holomush/gatehouse/internal/routing"
	"github.com/holomush/gatehouse/internal/wsgate"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication gate",
		Long: `Accept WebSocket players, show credential dialogs, verify passwords
and route authenticated players to a lobby backend.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}
	config.BindFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the gate until a signal arrives, ctx ends or a
// listener fails.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := logging.Setup("gatehouse", version, cfg.LogFormat, cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").With("field", "database_url").
			Errorf("database_url (or DATABASE_URL) is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs, err := messages.Load(cfg.Locale, cfg.MessagesFile)
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifierWithLogger(policy, cfg.Password.Algorithm, logger, cfg.Providers()...)
	if err != nil {
		return err
	}
	engine, err := routing.NewEngine(cfg.Routing, routing.WithLogger(logger))
	if err != nil {
		return err
	}

	users, closeUsers, err := deps.UsersFactory(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return oops.Code("SERVE_USERS_FAILED").Wrap(err)
	}
	defer closeUsers()
	logger.Info("connected to user store", "event", "users_connected")

	checker, runPresence, closePresence, err := deps.PresenceFactory(ctx, cfg.Presence, logger)
	if err != nil {
		return oops.Code("SERVE_PRESENCE_FAILED").Wrap(err)
	}
	defer closePresence()
	if runPresence != nil {
		go func() {
			if err := runPresence(ctx); err != nil {
				logger.Warn("presence refresher stopped", "event", "presence_run_failed", "error", err.Error())
			}
		}()
	}

	var ready atomic.Bool
	bus := events.NewBus()
	gateDeps := gate.Deps{
		Users:     users,
		Verifier:  verifier,
		Engine:    engine,
		Messages:  msgs,
		Transport: wsgate.Transport{},
		Presence:  checker,
		Bus:       bus,
	}

	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, ready.Load, logger)
		obsServer.Metrics().Subscribe(bus)
		gateDeps.Metrics = obsServer.Metrics()
	}

	g, err := gate.NewWithLogger(gateDeps, gate.Config{
		MinProtocol:      cfg.Dialog.MinProtocol,
		DialogTimeout:    cfg.Dialog.Timeout,
		MaxLoginAttempts: cfg.MaxLoginAttempts,
	}, logger)
	if err != nil {
		return err
	}

	ws, err := wsgate.NewServerWithLogger(g, msgs, wsgate.Config{}, logger)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return oops.Code("SERVE_LISTEN_FAILED").With("addr", cfg.Listen).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           ws,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	httpErrCh := make(chan error, 1)
	go func() {
		err := httpServer.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		httpErrCh <- err
	}()

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			_ = httpServer.Close()
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		defer stopWithTimeout("observability", obsServer.Stop, logger)
	}

	var controlServer *control.Server
	if cfg.ControlAddr != "" {
		controlServer, err = control.NewServerWithLogger("gatehouse", logger)
		if err != nil {
			_ = httpServer.Close()
			return err
		}
		controlErrCh, err := controlServer.Start(cfg.ControlAddr)
		if err != nil {
			_ = httpServer.Close()
			return err
		}
		go monitorServerErrors(ctx, cancel, controlErrCh, "control", logger)
		defer stopWithTimeout("control", controlServer.Stop, logger)
	}

	gateDone := make(chan struct{})
	go func() {
		defer close(gateDone)
		_ = g.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	if controlServer != nil {
		controlServer.SetServing(true)
	}
	addr := listener.Addr().String()
	cmd.Println("Gatehouse started on " + addr)
	logger.Info("gatehouse ready",
		"event", "serve_ready",
		"listen", addr,
		"lobbies", len(engine.Lobby()),
		"limbos", len(engine.Limbo()),
	)
	deps.Ready(addr)

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "event", "serve_signal", "signal", sig.String())
	case serveErr = <-httpErrCh:
		if serveErr != nil {
			serveErr = oops.Code("SERVE_FAILED").With("addr", addr).Wrap(serveErr)
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down", "event", "serve_cancelled")
	}

	ready.Store(false)
	if controlServer != nil {
		controlServer.SetServing(false)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	// Hijacked WebSocket connections are not tracked by Shutdown; cancelling
	// ctx ends their read loops.
	cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping WebSocket listener", "event", "serve_shutdown_failed", "error", err.Error())
	}
	<-gateDone

	logger.Info("shutdown complete", "event", "serve_stopped")
	return serveErr
}

// monitorServerErrors cancels the serve context when a background server
// fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string, logger *slog.Logger) {
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("server failed", "event", "server_failed", "server", name, "error", err.Error())
			cancel()
		}
	}
}

func stopWithTimeout(name string, stop func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn("error stopping server", "event", "server_stop_failed", "server", name, "error", err.Error())
	}
}
