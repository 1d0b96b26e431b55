package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/roomcast/internal/adapter/metrics"
	"github.com/pscheid92/roomcast/internal/adapter/redis"
	"github.com/pscheid92/roomcast/internal/adapter/websocket"
	"github.com/pscheid92/roomcast/internal/app"
	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/notify"
	"github.com/pscheid92/roomcast/internal/platform/config"
)

type chatService interface {
	Serve(ctx context.Context, conn domain.Conn, roomID domain.RoomID, userID domain.UserID, displayName string) error
	Members(roomID domain.RoomID) []domain.Member
}

type notificationService interface {
	Subscribe(user domain.UserID, keepalive time.Duration) *notify.Stream
	Unsubscribe(user domain.UserID)
	Notify(ctx context.Context, user domain.UserID, req domain.NotificationRequest) (app.NotifyResult, error)
	Broadcast(ctx context.Context, req domain.NotificationRequest) (app.NotifyResult, error)
}

type instanceLister interface {
	Active(ctx context.Context) ([]redis.InstanceInfo, error)
}

// Option customizes a Server.
type Option func(*Server)

// WithInstances enables GET /instances backed by the shared instance registry.
func WithInstances(l instanceLister) Option {
	return func(s *Server) { s.instances = l }
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	chat          chatService
	notifications notificationService
	instances     instanceLister

	upgrader  *ws.Upgrader
	admission *admission

	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	wsMetrics    *metrics.WebSocketMetrics
	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires the HTTP surface. HTTP and websocket metrics are
// registered on reg, which is also what /metrics serves.
func NewServer(cfg *config.Config, chat chatService, notifications notificationService, clock clockwork.Clock, reg *prometheus.Registry, healthChecks []HealthCheck, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:          e,
		config:        cfg,
		clock:         clock,
		chat:          chat,
		notifications: notifications,
		upgrader:      websocket.NewUpgrader(websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment())),
		admission:     newAdmission(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectRatePerSecond, cfg.ConnectBurst, clock),
		registry:      reg,
		httpMetrics:   metrics.NewHTTPMetrics(reg),
		wsMetrics:     metrics.NewWebSocketMetrics(reg),
		healthChecks:  healthChecks,
		startTime:     clock.Now(),
	}

	for _, opt := range opts {
		opt(srv)
	}
	srv.registerRoutes()

	return srv
}

// Start listens on the configured port and blocks until the server stops.
// A graceful Shutdown is not reported as an error.
func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops admitting new streams and drains in-flight requests.
// Open websocket and sse streams are ended by stopping the registries.
func (s *Server) Shutdown(ctx context.Context) error {
	s.admission.close()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router, mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
