// Package api exposes the HTTP surface: the webhook receiver Trello calls,
// the admin mapping API, and the health and metrics endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/boardcast/internal/cache"
	"github.com/boardcast/internal/config"
	"github.com/boardcast/internal/mapping"
	"github.com/boardcast/internal/metrics"
	"github.com/boardcast/internal/registry"
	"github.com/boardcast/internal/router"
	"github.com/boardcast/internal/store"
)

// Server is the HTTP front of the service.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	store    store.Store
	cache    cache.Cache
	mappings *mapping.Service
	registry *registry.Registry
	router   *router.Router
}

// NewServer wires routes and middleware. The webhook receiver is
// deliberately outside the admin group: Trello authenticates with a
// signature, admins with a token.
func NewServer(cfg *config.Config, st store.Store, ca cache.Cache, mappings *mapping.Service, reg *registry.Registry, rt *router.Router) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	s := &Server{
		echo:     e,
		cfg:      cfg,
		store:    st,
		cache:    ca,
		mappings: mappings,
		registry: reg,
		router:   rt,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Trello probes the callback URL with HEAD before creating a webhook
	// and expects a 2xx without a signature.
	s.echo.HEAD("/webhooks/trello", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	s.echo.POST("/webhooks/trello", s.handleWebhook)

	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	v1 := s.echo.Group("/api/v1", s.adminAuth)
	v1.GET("/mappings", s.listMappings)
	v1.GET("/mappings/:guildID/:channelID", s.getMapping)
	v1.PUT("/mappings/:guildID/:channelID", s.setMapping)
	v1.DELETE("/mappings/:guildID/:channelID", s.removeMapping)
	v1.GET("/default-mapping", s.getDefaultMapping)
	v1.PUT("/default-mapping", s.setDefaultMapping)
	v1.DELETE("/default-mapping", s.clearDefaultMapping)
	v1.GET("/registrations", s.listRegistrations)
	v1.POST("/reconcile", s.triggerReconcile)
}

// Echo exposes the underlying router for handler tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start begins serving on the configured port. Blocks until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleHealthz reports liveness. The store is load-bearing: losing it makes
// resolution impossible, so it drives the status code. The cache is reported
// but never degrades health; a dead cache only costs store round-trips.
func (s *Server) handleHealthz(c echo.Context) error {
	ctx := c.Request().Context()

	cacheStatus := "ok"
	if err := s.cache.Ping(ctx); err != nil {
		cacheStatus = err.Error()
	}

	if err := s.store.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"store":  err.Error(),
			"cache":  cacheStatus,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"store":  "ok",
		"cache":  cacheStatus,
	})
}
