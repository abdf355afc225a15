package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/api/middleware"
	"github.com/meridianhq/meridian-sync/internal/domain/identity"
	"github.com/meridianhq/meridian-sync/internal/domain/mapping"
	"github.com/meridianhq/meridian-sync/internal/domain/workspace"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/monitoring"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/tracing"
	"github.com/meridianhq/meridian-sync/internal/mirror"
	"github.com/meridianhq/meridian-sync/internal/providers/deviceauth"
	"github.com/meridianhq/meridian-sync/internal/shared/events"
	"github.com/meridianhq/meridian-sync/internal/store"
)

// Config contains everything the local API serves. Identity and Prompts
// are nil when the daemon runs against a fixture session; the affected
// endpoints then report the capability as unavailable.
type Config struct {
	Host        string
	Port        int
	Environment string
	Version     string
	Dev         bool

	Session  workspace.Session
	Identity *identity.Controller
	Prompts  *events.Feed[deviceauth.DevicePrompt]
	Mapping  *mapping.Store
	Mirror   *mirror.Mirror
	Settings *store.Store
	Metrics  *monitoring.Metrics
	Tracer   *tracing.Tracer
	Logger   *logging.Logger

	RateLimit middleware.RateLimitConfig
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg      Config
	router   *gin.Engine
	http     *http.Server
	hub      *hub
	handlers *Handlers
	logger   *logging.Logger

	// base outlives individual requests; asynchronous work like the
	// device sign-in flow runs under it and dies with the server.
	base   context.Context
	cancel context.CancelFunc
}

// New assembles the router and handler set.
func New(cfg Config) (*Server, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("server: session is required")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("server: settings store is required")
	}
	if cfg.Mapping == nil {
		return nil, fmt.Errorf("server: mapping store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	if cfg.Dev {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	base, cancel := context.WithCancel(context.Background())

	h := &Handlers{
		session:     cfg.Session,
		identity:    cfg.Identity,
		mapping:     cfg.Mapping,
		mirror:      cfg.Mirror,
		settings:    cfg.Settings,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.Named("api"),
		environment: cfg.Environment,
		version:     cfg.Version,
		base:        base,
	}

	streamHub := newHub(cfg.Logger.Named("stream"), cfg.Metrics)
	streamHub.watch(cfg.Session, cfg.Identity, cfg.Prompts)

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Tracer != nil {
		router.Use(tracing.HTTPMiddleware(cfg.Tracer))
	}
	if cfg.Metrics != nil {
		router.Use(monitoring.Middleware(cfg.Metrics))
	}
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.RequestsPerSecond > 0 {
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/stream", streamHub.handleConnection)

	api := router.Group("/api")
	{
		api.GET("/status", h.Status)

		api.GET("/session", h.GetSession)
		api.POST("/session/signin", h.SignIn)
		api.POST("/session/signout", h.SignOut)
		api.GET("/tenants", h.ListTenants)

		api.GET("/workspaces", h.ListWorkspaces)
		api.POST("/workspaces", h.CreateWorkspace)
		api.GET("/workspaces/current", h.GetCurrentWorkspace)
		api.PUT("/workspaces/current", h.SetCurrentWorkspace)
		api.GET("/workspaces/:id", h.GetWorkspace)
		api.DELETE("/workspaces/:id", h.DeleteWorkspace)
		api.GET("/workspaces/:id/folder", h.GetWorkspaceFolder)
		api.PUT("/workspaces/:id/folder", h.SetWorkspaceFolder)

		api.GET("/workspaces/:id/items", h.ListItems)
		api.POST("/workspaces/:id/items", h.CreateItem)
		api.DELETE("/workspaces/:id/items/:itemId", h.DeleteItem)
		api.GET("/workspaces/:id/items/:itemId/definition", h.GetDefinition)
		api.PUT("/workspaces/:id/items/:itemId/definition", h.UpdateDefinition)
		api.GET("/workspaces/:id/items/:itemId/folder", h.GetItemFolder)
		api.PUT("/workspaces/:id/items/:itemId/folder", h.SetItemFolder)
		api.POST("/workspaces/:id/items/:itemId/export", h.ExportItem)
		api.POST("/workspaces/:id/items/:itemId/import", h.ImportItem)

		api.GET("/filters", h.GetFilters)
		api.PUT("/filters", h.SetFilters)
		api.DELETE("/filters", h.ClearFilters)
		api.POST("/filters/workspaces", h.AddFilterWorkspace)

		api.GET("/mappings/resolve", h.ResolveFolder)
		api.GET("/viewstate", h.GetViewState)
		api.PUT("/viewstate", h.SetViewState)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		cfg:      cfg,
		router:   router,
		hub:      streamHub,
		handlers: h,
		logger:   cfg.Logger,
		base:     base,
		cancel:   cancel,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts serving and blocks until the listener closes.
func (s *Server) Run() error {
	s.logger.Info("daemon listening",
		zap.String("addr", s.http.Addr),
		zap.String("environment", s.cfg.Environment),
		zap.String("version", s.cfg.Version))

	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the stream hub, cancels in-flight background work, and
// drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.hub.close()
	return s.http.Shutdown(ctx)
}
