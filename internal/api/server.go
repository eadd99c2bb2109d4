package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server wraps the gin engine exposing the public command surface plus the
// raw streaming endpoint, with the teacher's graceful-shutdown lifecycle
// (internal/radio/server.go Start): ListenAndServe in a goroutine, a
// bounded Shutdown once the caller's context is cancelled.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the gin engine and registers every route in the command
// table (§6), then wraps it in an *http.Server bound to addr.
func NewServer(addr string, svc *Service) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), securityHeaders())

	h := NewHandlers(svc)

	router.GET("/health", h.Health)
	router.GET("/stream", h.Stream)

	grp := router.Group("/api")
	{
		grp.POST("/stream/start", h.StartStream)
		grp.POST("/stream/stop", h.StopStream)
		grp.GET("/stream/status", h.Status)
		grp.GET("/stream/capture-ready/:identifier", h.CaptureReady)

		grp.POST("/queue", h.EnqueueItem)
		grp.GET("/queue", h.ListQueue)
		grp.DELETE("/queue/:id", h.RemoveEntry)
		grp.POST("/queue/reorder", h.ReorderQueue)
		grp.POST("/queue/next", h.Next)
		grp.POST("/queue/clear", h.ClearQueue)

		grp.GET("/history", h.ListHistory)
		grp.DELETE("/history", h.ClearHistory)

		grp.GET("/jobs/:identifier", h.JobStatus)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:           addr,
			Handler:        router,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   0, // streaming responses are unbounded
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// within a bounded grace period (§5).
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
