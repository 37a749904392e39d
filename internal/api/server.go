// Package api implements the REST API of a battlewire node: status,
// registry and journal inspection, local player control, and the
// websocket endpoint peers connect through.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/config"
	"github.com/critterbox/battlewire/internal/health"
	"github.com/critterbox/battlewire/internal/host"
	"github.com/critterbox/battlewire/internal/journal"
	intnet "github.com/critterbox/battlewire/internal/network"
	"github.com/critterbox/battlewire/internal/node"
	"github.com/critterbox/battlewire/internal/util"
)

// Server is the REST API server.
type Server struct {
	cfg     *config.Config
	node    *node.Node
	journal *journal.Journal
	health  *health.Manager
	version string
	started time.Time

	httpServer *http.Server
}

// NewServer creates a new API server. j may be nil when the journal is
// disabled.
func NewServer(cfg *config.Config, n *node.Node, j *journal.Journal, version string) *Server {
	if cfg.Logging.Level == "debug" || cfg.Logging.Level == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:     cfg,
		node:    n,
		journal: j,
		version: version,
		started: time.Now(),
	}
}

// SetHealth enables the health endpoint.
func (s *Server) SetHealth(h *health.Manager) {
	s.health = h
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(ctx),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Create listener with SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	useTLS := s.cfg.API.TLS
	if useTLS {
		generated, err := util.EnsureCertificate(s.cfg.API.CertFile, s.cfg.API.KeyFile, "localhost", "127.0.0.1")
		if err != nil {
			ln.Close()
			return fmt.Errorf("API TLS setup failed: %w", err)
		}
		if generated {
			log.Warn().Msg("REST API is using a self-signed certificate")
		}
	}

	log.Info().Str("addr", addr).Bool("tls", useTLS).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if useTLS {
		err = s.httpServer.ServeTLS(ln, s.cfg.API.CertFile, s.cfg.API.KeyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Handler builds the API router. Websocket peers are served for as long
// as ctx lives.
func (s *Server) Handler(ctx context.Context) http.Handler {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	// Websocket peers bypass the request rate limit.
	if ws, ok := s.node.WebsocketHandler(ctx); ok {
		path := s.cfg.GetNetwork().WebsocketPath
		router.GET(path, gin.WrapF(ws))
		log.Info().Str("path", path).Msg("websocket endpoint enabled")
	}

	rateLimiter := NewRateLimiter(s.cfg.API.RateLimitRPS)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
		public.GET("/health", s.handleHealth)
	}

	monitor := router.Group("/api")
	monitor.Use(rateLimiter.Middleware())
	{
		monitor.GET("/status", s.handleStatus)
		monitor.GET("/registry", s.handleRegistry)
		monitor.GET("/providers", s.handleProviders)
		monitor.GET("/peers", s.handlePeers)
		monitor.GET("/battles", s.handleBattles)
		monitor.GET("/battles/:id", s.handleBattle)
		monitor.GET("/view", s.handleView)
		monitor.GET("/journal", s.handleJournal)
		monitor.GET("/journal/battles", s.handleJournalBattles)
		monitor.GET("/journal/stats", s.handleJournalStats)
		monitor.GET("/config", s.handleGetConfig)
		monitor.POST("/config/log_level", s.handleSetLogLevel)
	}

	control := router.Group("/api/control")
	control.Use(rateLimiter.Middleware())
	{
		control.POST("/challenge", s.handleChallenge)
		control.POST("/answer", s.handleAnswer)
		control.POST("/act", s.handleAct)
		control.POST("/forfeit", s.handleForfeit)
		control.POST("/ping", s.handleProviderPing)
		control.POST("/pair", s.handlePair)
		control.POST("/kick/:peer", s.handleKick)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "battlewire API is running"})
	})

	return router
}

// respondError maps node errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch {
	case isConflict(err):
		status = http.StatusConflict
	case errors.Is(err, host.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// isConflict reports whether err means the node's role cannot serve the
// request.
func isConflict(err error) bool {
	return errors.Is(err, node.ErrNoArena) ||
		errors.Is(err, node.ErrNoLocalPlayer) ||
		errors.Is(err, node.ErrNotServer)
}
