package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"artnet2ha/internal/logger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// HealthFunc reports nil when the bridge is healthy.
type HealthFunc func() error

// Server exposes /metrics and /healthz.
type Server struct {
	log    logger.Logger
	addr   string
	echo   *echo.Echo
	health HealthFunc
}

// NewServer конструктор.
func NewServer(log logger.Logger, addr string, reg *prometheus.Registry, health HealthFunc) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{log: log, addr: addr, echo: e, health: health}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	e.GET("/healthz", s.handleHealth)
	return s
}

// Handler is the underlying router.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.health != nil {
		if err := s.health(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.With(logger.Fields{"module": "http"}).Infof("metrics listening on %s", s.addr)
		errCh <- s.echo.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}
