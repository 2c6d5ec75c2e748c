package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter mounts the health check and the webhook endpoint
func NewRouter(h *Handler, path string) *gin.Engine {
	if path == "" {
		path = "/webhook"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.Health)
	router.POST(path, h.HandleEvent)
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Server is the inbound HTTP surface
type Server struct {
	handler *Handler
	http    *http.Server
	logger  *slog.Logger
}

// NewServer builds an HTTP server for h on addr
func NewServer(addr, path string, h *Handler) *Server {
	return &Server{
		handler: h,
		logger:  h.logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(h, path),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests. It
// returns only after every admitted delivery finished.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	s.handler.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Error("http server shutdown error", "error", err)
	}

	// Shutdown gives up after its timeout; deliveries still running must
	// finish before the caller may close the announcement channel
	s.handler.Wait()
	return err
}
