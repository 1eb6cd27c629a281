package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server hosts the introspection API over HTTP.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the router and wraps it in a lifecycle-managed listener.
func NewServer(address string, handlers *Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", handlers.Health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/loop/status", handlers.Status)
		v1.GET("/loop/results", handlers.Results)
		v1.GET("/loop/weights", handlers.Weights)
		v1.GET("/loop/summary", handlers.Summary)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("api server listening", slog.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
