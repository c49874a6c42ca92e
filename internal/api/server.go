package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zily-project/zily/internal/config"
	"github.com/zily-project/zily/internal/db"
	"github.com/zily-project/zily/internal/events"
	intnet "github.com/zily-project/zily/internal/network"
	"github.com/zily-project/zily/internal/util"
)

// requestTimeout bounds how long an API call waits for the peer to answer.
const requestTimeout = 30 * time.Second

// Server is the admin REST API of a zily daemon.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	registry *intnet.SessionRegistry
	journal  *db.Journal // nil when the journal is disabled

	startedAt  time.Time
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, registry *intnet.SessionRegistry, journal *db.Journal) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:       cfg,
		eventBus:  eventBus,
		registry:  registry,
		journal:   journal,
		startedAt: time.Now(),
	}
}

// Handler returns the HTTP handler, building the router on first use.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Start binds the API address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	appData := s.cfg.GetApplicationData()
	addr := appData.API.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Create listener with SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	sec := appData.Security
	if sec.TLSEnabled {
		tlsListener, err := s.tlsListener(ln, sec)
		if err != nil {
			ln.Close()
			return err
		}
		ln = tlsListener
	}

	log.Info().Str("addr", addr).Bool("tls", sec.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	err = s.httpServer.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// tlsListener wraps ln with the configured certificate, generating a
// self-signed pair when the files do not exist yet.
func (s *Server) tlsListener(ln net.Listener, sec config.SecurityConfig) (net.Listener, error) {
	host := s.cfg.GetApplicationData().API.Host
	hosts := []string{"localhost", "127.0.0.1"}
	if host != "" && host != "0.0.0.0" && host != "::" {
		hosts = append(hosts, host)
	}
	if err := util.EnsureSelfSignedCert(sec.TLSCertFile, sec.TLSKeyFile, hosts); err != nil {
		return nil, fmt.Errorf("API TLS certificate: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(sec.TLSCertFile, sec.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load API TLS certificate: %w", err)
	}

	s.httpServer.TLSConfig = &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}
	return tls.NewListener(ln, s.httpServer.TLSConfig), nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	sec := s.cfg.GetApplicationData().Security
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := sec.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(sec.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleGetVersion)
		public.GET("/host", s.handleGetHost)
	}

	protected := router.Group("/api")
	protected.Use(TokenAuth(s.cfg))
	{
		protected.GET("/sessions", s.handleListSessions)
		protected.GET("/sessions/:id", s.handleGetSession)
		protected.POST("/sessions/:id/write", s.handleWriteSession)
		protected.POST("/sessions/:id/version", s.handleQueryVersion)
		protected.DELETE("/sessions/:id", s.handleCloseSession)

		protected.GET("/journal/sessions", s.handleJournalSessions)
		protected.GET("/journal/sessions/:id/messages", s.handleJournalMessages)

		protected.GET("/config", s.handleGetConfig)
		protected.POST("/config/app_data", s.handleSetAppData)
		protected.POST("/config/app_data/:field", s.handleSetAppField)
		protected.GET("/logs", s.handleGetLogEntries)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "zily admin API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
