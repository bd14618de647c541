// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package control runs the gRPC health service that orchestrators and
// load balancers use to tell whether a gate node accepts players.
package control

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server serves grpc.health.v1.Health. Both the overall status ("") and
// the component's own service name report NOT_SERVING until SetServing.
type Server struct {
	component string
	logger    *slog.Logger
	health    *health.Server

	mu         sync.Mutex
	listener   net.Listener
	grpcServer *grpc.Server
}

// NewServer creates a health server for component (e.g. "gatehouse").
func NewServer(component string) (*Server, error) {
	return NewServerWithLogger(component, slog.New(slog.DiscardHandler))
}

// NewServerWithLogger creates a health server that logs to logger.
func NewServerWithLogger(component string, logger *slog.Logger) (*Server, error) {
	if component == "" {
		return nil, oops.Errorf("component name cannot be empty")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	s := &Server{
		component: component,
		logger:    logger,
		health:    health.NewServer(),
	}
	s.SetServing(false)
	return s, nil
}

// SetServing flips the reported status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.component, status)
	s.logger.Debug("health status changed", "event", "health_status", "component", s.component, "status", status.String())
}

// Start listens on addr. The returned channel receives the serve error, or
// nil after a graceful stop, exactly once.
func (s *Server) Start(addr string) (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil, oops.Code("CONTROL_ALREADY_RUNNING").With("addr", addr).Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, oops.Code("CONTROL_LISTEN_FAILED").With("addr", addr).Wrap(err)
	}
	s.listener = listener
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	srv := s.grpcServer
	errCh := make(chan error, 1)
	go func() {
		err := srv.Serve(listener)
		if err != nil {
			s.logger.Error("control gRPC server error", "event", "control_serve_failed", "component", s.component, "error", err)
		}
		errCh <- err
	}()

	s.logger.Info("control server listening", "event", "control_started", "addr", listener.Addr().String())
	return errCh, nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop marks every service NOT_SERVING and drains open calls. If ctx ends
// first the server is stopped hard.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.grpcServer
	s.mu.Unlock()

	s.health.Shutdown()
	if srv == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		srv.Stop()
		<-done
		return oops.Code("CONTROL_STOP_TIMEOUT").Wrap(ctx.Err())
	}
}
