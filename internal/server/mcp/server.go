// Package mcp lets an assistant host start and stop conversations through
// Model Context Protocol tools.
package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/emmett/companion/internal/turn"
)

// Controller is the conversation the tools drive
type Controller interface {
	StartSession(ctx context.Context, profile *turn.Profile) (string, error)
	EndSession()
	Status() turn.Status
}

type Config struct {
	ServerName    string
	ServerVersion string
}

type Server struct {
	mcpServer *sdk.Server
	ctrl      Controller
	logger    zerolog.Logger
}

func NewServer(cfg Config, ctrl Controller, logger zerolog.Logger) *Server {
	s := &Server{
		ctrl:   ctrl,
		logger: logger.With().Str("component", "mcp").Logger(),
	}
	s.mcpServer = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}, nil)
	s.registerTools()
	return s
}

// Start serves over stdin/stdout until ctx ends or the client disconnects
func (s *Server) Start(ctx context.Context) error {
	return s.Run(ctx, &sdk.StdioTransport{})
}

// Run serves over an arbitrary transport
func (s *Server) Run(ctx context.Context, t sdk.Transport) error {
	return s.mcpServer.Run(ctx, t)
}

// Connect starts one session over t without blocking
func (s *Server) Connect(ctx context.Context, t sdk.Transport) (*sdk.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "start_conversation",
		Description: "Start listening for the user and answer hands-free. Fields are optional; without them the configured profile is used.",
	}, s.handleStart)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "end_conversation",
		Description: "Stop listening and silence any speech in progress",
	}, s.handleEnd)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "conversation_status",
		Description: "Report the conversation state and counters",
	}, s.handleStatus)
}
