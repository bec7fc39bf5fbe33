// Package api serves the review panel: the relay websocket and the JSON
// endpoints for context, definitions, conversations and settings.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/reviewmate/internal/conversation"
	"github.com/reviewmate/internal/definition"
	"github.com/reviewmate/internal/diagram"
	"github.com/reviewmate/internal/prcontext"
	"github.com/reviewmate/internal/providers"
	"github.com/reviewmate/internal/relay"
)

// Options wires the server to its collaborators.
type Options struct {
	Addr           string
	Host           providers.CodeHost
	Store          conversation.Store
	Settings       relay.SettingsSource
	Limits         prcontext.Limits
	RepoWideCache  *prcontext.RepoWideCache
	Renderer       diagram.Renderer // nil disables diagram rendering
	AllowedOrigins []string         // browser origins; empty allows any
	Sessions       int
}

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	addr     string
	opts     Options
	relay    *relay.Relay
	sessions *sessions
	locator  *definition.Locator
	upgrader websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(opts Options, relayOpts ...relay.Option) (*Server, error) {
	if opts.Host == nil {
		return nil, errors.New("code host is required")
	}
	if opts.Store == nil {
		opts.Store = conversation.NewMemoryStore(0)
	}
	if opts.Settings == nil {
		return nil, errors.New("model settings are required")
	}

	sess, err := newSessions(opts)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	corsConfig := middleware.DefaultCORSConfig
	if len(opts.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = opts.AllowedOrigins
	}
	e.Use(middleware.CORSWithConfig(corsConfig))

	server := &Server{
		echo:     e,
		addr:     opts.Addr,
		opts:     opts,
		relay:    relay.New(opts.Settings, relayOpts...),
		sessions: sess,
		locator:  definition.NewLocator(opts.Host),
	}
	server.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     server.checkOrigin,
	}

	// Setup routes
	server.setupRoutes()

	return server, nil
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	s.echo.GET("/ws", s.serveRelay)

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	v1.POST("/context", s.buildContext)
	v1.POST("/definition", s.findDefinition)
	v1.GET("/conversations", s.getConversation)
	v1.DELETE("/conversations", s.clearConversation)
	v1.POST("/settings/test", s.testSettings)
	v1.POST("/diagrams", s.renderDiagrams)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is done or an interrupt arrives, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("ReviewMate server listening")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return true
		}
	}
	return false
}

// serveRelay upgrades the connection and runs the relay until the client
// disconnects. Chat turns sent on it are recorded in the conversation store.
func (s *Server) serveRelay(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return nil
	}
	log.Debug().Str("remote", c.RealIP()).Msg("Relay client connected")
	if err := relay.ServeConnWith(c.Request().Context(), conn, s.handleConn); err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Msg("Relay connection ended")
	}
	return nil
}
