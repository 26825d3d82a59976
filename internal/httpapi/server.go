// Package httpapi exposes a read-only HTTP view of the hub: a health check,
// a JSON snapshot of the connected users, and Prometheus metrics. It runs on
// its own TCP port, away from the NMDC listeners.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const snapshotTimeout = 2 * time.Second

// UserInfo is a brief snapshot of one connected user.
type UserInfo struct {
	Nick      string `json:"nick"`
	IP        string `json:"ip,omitempty"`
	Op        bool   `json:"op,omitempty"`
	Bot       bool   `json:"bot,omitempty"`
	ShareSize int64  `json:"sharesize"`
}

// Snapshot is a point-in-time view of the hub directories.
type Snapshot struct {
	Name        string     `json:"name"`
	Connections int        `json:"connections"`
	Ops         int        `json:"ops"`
	Bots        int        `json:"bots"`
	Users       []UserInfo `json:"users"`
}

// Source produces hub snapshots. The hub loop answers these over a channel,
// so the API never touches hub state directly.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Server is the Echo application.
type Server struct {
	echo   *echo.Echo
	source Source
}

// New constructs the Echo app and registers all routes.
func New(source Source) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, source: source}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/hub", s.handleHub)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), snapshotTimeout)
	defer cancel()
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		slog.Warn("hub snapshot unavailable", "err", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "hub is not responding")
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Clients: len(snap.Users),
	})
}

func (s *Server) handleHub(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), snapshotTimeout)
	defer cancel()
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "hub is not responding")
	}
	if snap.Users == nil {
		snap.Users = []UserInfo{}
	}
	return c.JSON(http.StatusOK, snap)
}
