package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mesh-intelligence/memorykit/internal/app"
	"github.com/mesh-intelligence/memorykit/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP API bound to an opened App.
type Server struct {
	Engine *gin.Engine
	logger *logging.Logger
}

// NewServer builds the router over a's services.
func NewServer(a *app.App) *Server {
	h := NewHandler(a.Retrieval, a.Settings, a.Schema, a.Review)
	return &Server{Engine: NewRouter(h, a.Logger), logger: logging.OrNop(a.Logger)}
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http api stopped")
	return nil
}
