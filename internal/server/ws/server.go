// Package ws streams conversation events to presentation clients over a
// websocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/emmett/companion/internal/events"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	clientBuffer = 128
)

// Subscriber is the event source for every connection
type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// Config holds server configuration
type Config struct {
	Host string
	Port int
}

// Server serves /events
type Server struct {
	cfg      Config
	source   Subscriber
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer creates a websocket server
func NewServer(cfg Config, source Subscriber, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		source: source,
		logger: logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// clients are local presentation surfaces
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.serveEvents)
	return mux
}

// Start listens and serves until Shutdown
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("websocket server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections. Open streams end when the event
// source closes.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	evs, unsubscribe := s.source.Subscribe(clientBuffer)
	defer unsubscribe()

	logger := s.logger.With().Str("remote", r.RemoteAddr).Logger()
	logger.Debug().Msg("client connected")
	defer logger.Debug().Msg("client disconnected")

	// the read side only handles control frames and notices the client leaving
	gone := make(chan struct{})
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Debug().Err(err).Msg("set read deadline failed")
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-evs:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Debug().Err(err).Msg("set write deadline failed")
				return
			}
			if !ok {
				err := conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				logger.Debug().Err(err).Msg("event source closed")
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ping.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Debug().Err(err).Msg("set write deadline failed")
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
