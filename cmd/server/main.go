package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomcast/internal/adapter/httpserver"
	"github.com/pscheid92/roomcast/internal/adapter/metrics"
	"github.com/pscheid92/roomcast/internal/adapter/redis"
	"github.com/pscheid92/roomcast/internal/app"
	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/notify"
	"github.com/pscheid92/roomcast/internal/platform/config"
	"github.com/pscheid92/roomcast/internal/platform/logging"
	"github.com/pscheid92/roomcast/internal/platform/version"
	"github.com/pscheid92/roomcast/internal/rooms"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	redisConnectTimeout = 15 * time.Second
	instanceHeartbeat   = 15 * time.Second
	shutdownReason      = "server shutting down"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config, m *metrics.RelayMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// relayHooks holds the Redis-backed parts, which exist only when REDIS_URL is set.
// sync keeps relay subscriptions in step with local room membership. The relay
// is attached after the manager exists, before any connection is accepted.
type relayHooks struct {
	relay     *redis.Relay
	instances *redis.InstanceRegistry
}

func (h *relayHooks) sync(room domain.RoomID) {
	if h.relay == nil {
		return
	}
	go h.relay.SyncRoom(context.Background(), room)
}

// instanceID names this process in the shared instance registry and marks
// the messages it publishes on the relay.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "roomcast"
	}
	return host + "-" + uuid.NewString()[:8]
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	closeLogs := logging.InitLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	defer func() { _ = closeLogs() }()
	slog.Info("Application starting", "version", version.Get().String(), "env", cfg.AppEnv, "port", cfg.Port, "relay", cfg.RedisURL != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	hooks := &relayHooks{}

	manager := rooms.NewManager(hooks.sync, hooks.sync, clock, cfg.MaxClientsPerRoom, metrics.NewRoomMetrics(reg))
	notifier := notify.NewNotifier(clock, cfg.SubscriberBuffer, metrics.NewNotifyMetrics(reg))

	// Pass nil explicitly to avoid typed-nil interfaces when Redis is off.
	var (
		roomRelay         domain.RoomRelay
		notificationRelay domain.NotificationRelay
		healthChecks      []httpserver.HealthCheck
		serverOpts        []httpserver.Option
	)
	if cfg.RedisURL != "" {
		relayMetrics := metrics.NewRelayMetrics(reg)
		redisClient := setupRedis(ctx, cfg, relayMetrics)
		defer func() { _ = redisClient.Close() }()

		id := instanceID()
		relay, err := redis.NewRelay(ctx, redisClient, id, manager, notifier, relayMetrics)
		if err != nil {
			slog.Error("Failed to start Redis relay", "error", err)
			os.Exit(1)
		}
		hooks.relay = relay
		roomRelay, notificationRelay = relay, relay
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})

		hooks.instances = redis.NewInstanceRegistry(redisClient, id, version.Get().Version, instanceHeartbeat, clock, func() redis.InstanceLoad {
			stats := manager.Stats()
			return redis.InstanceLoad{Rooms: stats.Rooms, Connections: stats.Connections, Subscriptions: notifier.SubscriberCount()}
		})
		serverOpts = append(serverOpts, httpserver.WithInstances(hooks.instances))
	}

	chatSvc := app.NewChatService(manager, roomRelay, clock)
	notificationSvc := app.NewNotificationService(notifier, notificationRelay, clock)
	srv := httpserver.NewServer(cfg, chatSvc, notificationSvc, clock, reg, healthChecks, serverOpts...)

	if err := run(ctx, cfg, srv, manager, notifier, hooks); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

// run serves until ctx is cancelled or the server fails, then tears down
// registries before the HTTP server so long-lived streams end promptly.
func run(ctx context.Context, cfg *config.Config, srv *httpserver.Server, manager *rooms.Manager, notifier *notify.Notifier, hooks *relayHooks) error {
	g, gctx := errgroup.WithContext(ctx)
	relay := hooks.relay

	g.Go(srv.Start)

	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	if hooks.instances != nil {
		g.Go(func() error { return hooks.instances.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		manager.Stop(shutdownReason)
		notifier.Stop()

		err := srv.Shutdown(shutdownCtx)
		if relay != nil {
			if err := relay.Close(); err != nil {
				slog.Warn("Failed to close Redis relay", "error", err)
			}
		}
		return err
	})

	return g.Wait()
}
