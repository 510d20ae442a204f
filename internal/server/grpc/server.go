// Package grpc exposes session control to a caregiver app over gRPC.
package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/emmett/companion/internal/turn"
)

// Controller is the conversation the service drives
type Controller interface {
	StartSession(ctx context.Context, profile *turn.Profile) (string, error)
	EndSession()
	Status() turn.Status
}

// Config holds server configuration
type Config struct {
	Host string
	Port int
}

// Server wraps the gRPC server and the conversation service
type Server struct {
	grpcServer *grpc.Server
	cfg        Config
	logger     zerolog.Logger
}

// NewServer creates a gRPC server serving ctrl
func NewServer(cfg Config, ctrl Controller, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "grpc").Logger()
	s := &Server{
		grpcServer: grpc.NewServer(grpc.UnaryInterceptor(logCalls(logger))),
		cfg:        cfg,
		logger:     logger,
	}
	RegisterConversationServer(s.grpcServer, NewConversationService(ctrl))
	return s
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the server
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func logCalls(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := logger.Debug()
		if err != nil {
			ev = logger.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).Dur("took", time.Since(start)).Msg("call")
		return resp, err
	}
}
