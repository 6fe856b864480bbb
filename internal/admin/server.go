// Package admin exposes the operational HTTP surface: health and metrics.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /healthz and /metrics on a separate listener so the
// operational surface stays up while the bot reconnects.
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer builds the admin server for the given listen address.
func NewServer(addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{echo: e, addr: addr}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Admin server listening", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routes for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
