package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/dashboard"
	"github.com/energizer-project/fragline/internal/config"
	"github.com/energizer-project/fragline/internal/db"
	"github.com/energizer-project/fragline/internal/download"
	"github.com/energizer-project/fragline/internal/events"
	"github.com/energizer-project/fragline/internal/filter"
	"github.com/energizer-project/fragline/internal/health"
	intnet "github.com/energizer-project/fragline/internal/network"
	"github.com/energizer-project/fragline/internal/session"
	"github.com/energizer-project/fragline/internal/snapshot"
	"github.com/energizer-project/fragline/internal/util"
)

// Game is the part of the session server the API drives.
type Game interface {
	Status(ctx context.Context) (session.Status, error)
	Sessions(ctx context.Context) ([]session.Info, error)
	SessionInfo(ctx context.Context, slot int) (session.Info, error)
	Kick(ctx context.Context, slot int, reason string) error
	StuffText(ctx context.Context, slot int, text string) error
	SetPolicy(ctx context.Context, p download.Policy) error
	ConfigStrings() *snapshot.ConfigStrings
	Filters() *filter.List
}

// AuditStore is the read side of the audit log.
type AuditStore interface {
	Recent(limit int, q db.AuditQuery) ([]db.AuditEntry, error)
	GetUnacknowledgedAlerts() ([]db.Alert, error)
	AcknowledgeAlert(id int64) error
}

// HealthReporter exposes the latest health check results.
type HealthReporter interface {
	Results() []health.Result
}

// Options carry the optional API collaborators.
type Options struct {
	Audit   AuditStore
	Health  HealthReporter
	Metrics http.Handler
	Version string
}

// Server is the admin REST API server.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	game     Game
	audit    AuditStore
	health   HealthReporter
	metrics  http.Handler
	feed     *EventFeed
	version  string

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server and builds its router.
func NewServer(cfg *config.Config, eventBus *events.EventBus, game Game, opts Options) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		game:     game,
		audit:    opts.Audit,
		health:   opts.Health,
		metrics:  opts.Metrics,
		feed:     NewEventFeed(originChecker(cfg.GetApplicationData().Security.AllowedOrigins)),
		version:  opts.Version,
	}
	if eventBus != nil {
		s.feed.Subscribe(eventBus)
	}
	s.router = s.buildRouter()

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ad := s.cfg.GetApplicationData()
	addr := fmt.Sprintf("%s:%d", ad.API.BindAddress, ad.API.Port)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: the event feed holds its connection open
		IdleTimeout: 120 * time.Second,
	}

	if ad.Security.TLSEnabled {
		created, err := util.EnsureCertificate(ad.Security.TLSCertFile, ad.Security.TLSKeyFile, ad.API.BindAddress)
		if err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		if created {
			log.Warn().Str("cert", ad.Security.TLSCertFile).Msg("using a generated self-signed certificate")
		}
		cert, err := tls.LoadX509KeyPair(ad.Security.TLSCertFile, ad.Security.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := intnet.ReuseAddrListenConfig(0)
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", ad.Security.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		s.feed.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if s.httpServer.TLSConfig != nil {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}

	return nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	ad := s.cfg.GetApplicationData()
	allowedOrigins := ad.Security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(ad.Security.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleGetServerInfo)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(s.cfg))

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/status", s.handleGetStatus)
		monitor.GET("/sessions", s.handleGetSessions)
		monitor.GET("/sessions/:slot", s.handleGetSession)
		monitor.GET("/configstrings", s.handleGetConfigStrings)
		monitor.GET("/audit", s.handleGetAudit)
		monitor.GET("/alerts", s.handleGetAlerts)
		monitor.GET("/host", s.handleGetHostUsage)
		monitor.GET("/health", s.handleGetHealth)
		monitor.GET("/log_entries", s.handleGetLogEntries)
		monitor.GET("/events", s.feed.handleEvents)
	}

	control := protected.Group("/control")
	{
		control.POST("/kick/:slot", s.handleKick)
		control.POST("/stuff/:slot", s.handleStuff)
		control.POST("/alerts/:id/ack", s.handleAckAlert)
	}

	configure := protected.Group("/configure")
	{
		configure.GET("/config", s.handleGetConfig)
		configure.POST("/server_field", s.handleSetServerField)
		configure.GET("/filters", s.handleGetFilters)
		configure.PUT("/filters", s.handlePutFilters)
		configure.POST("/policy", s.handleSetPolicy)
	}

	if s.metrics != nil && ad.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	router.StaticFS("/dashboard", http.FS(dashboard.FS()))
	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/dashboard/")
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.feed.Close()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
