package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/itinera/backend/internal/api/middleware"
	"github.com/itinera/backend/internal/api/respond"
	"github.com/itinera/backend/internal/api/routes"
	"github.com/itinera/backend/internal/config"
	"github.com/itinera/backend/internal/ids"
	"github.com/itinera/backend/internal/services"
)

// Server wraps the HTTP engine and shared dependencies for easier testing.
type Server struct {
	Engine *gin.Engine
	cfg    config.Config
}

// NewRouter returns an engine with the global middleware chain and JSON 404/405 handlers.
func NewRouter(cfg config.Config) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	// only configured proxies may set the client address used for rate limiting
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.HandleMethodNotAllowed = true

	headers := middleware.DefaultSecurityHeadersConfig()
	headers.IsDevelopment = cfg.IsDevelopment()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.Recovery(cfg.Debug),
		middleware.SecurityHeaders(headers),
	)

	router.NoRoute(func(c *gin.Context) {
		respond.Abort(c, respond.Problem{Status: http.StatusNotFound, Kind: respond.KindNotFound, Message: "route not found"})
	})
	router.NoMethod(func(c *gin.Context) {
		respond.Abort(c, respond.Problem{Status: http.StatusMethodNotAllowed, Kind: respond.KindValidation, Message: "method not allowed"})
	})
	return router, nil
}

// New wires up the HTTP router and registers the API routes.
func New(reg *services.Registry, cfg config.Config) (*Server, error) {
	router, err := NewRouter(cfg)
	if err != nil {
		return nil, err
	}
	routes.Register(router, reg, ids.NewObfuscator(cfg.IDSalt))
	return &Server{Engine: router, cfg: cfg}, nil
}

// Run starts the HTTP server with proper shutdown semantics.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.HTTPPort),
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
