package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/joshp123/robofleet/internal/backend"
	"github.com/joshp123/robofleet/internal/config"
	"github.com/joshp123/robofleet/internal/core"
	"github.com/joshp123/robofleet/internal/fleet"
	"github.com/joshp123/robofleet/internal/kv"
	"github.com/joshp123/robofleet/internal/notify"
	"github.com/joshp123/robofleet/internal/realtime"
	"github.com/joshp123/robofleet/internal/rpc"
	"github.com/joshp123/robofleet/internal/server"
)

const demoPushDelay = 300 * time.Millisecond

// backendAPI is what the daemon needs from either the REST client or the
// in-process demo backend.
type backendAPI interface {
	fleet.API
	notify.API
	rpc.RobotDirectory
	Me(ctx context.Context) (fleet.Identity, error)
}

func main() {
	configPath := pflag.String("config", envOrDefault("ROBOFLEET_CONFIG", config.DefaultPath), "path to config.yaml")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openRealtime(cfg, logger)
	if err != nil {
		log.Fatalf("realtime: %v", err)
	}
	defer closeStore()

	cache, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer closeCache()

	api, err := openBackend(ctx, cfg, store, cache, logger)
	if err != nil {
		log.Fatalf("backend: %v", err)
	}

	user, err := resolveIdentity(ctx, cfg, api)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	logger.Info("signed in", "user_id", user.ID, "user_name", user.Name)

	var svc *rpc.Service
	session := fleet.NewSession(user, api, store, fleet.Options{
		Logger: logger.With("component", "session"),
		OnFault: func(f fleet.Fault) {
			if svc != nil {
				svc.OnFault(f)
			}
		},
	})
	defer session.Close()

	notes := notify.NewAggregator(api, cache, notify.Options{
		Logger:           logger.With("component", "notifications"),
		BatteryThreshold: cfg.Notifications.BatteryThreshold,
	})
	notes.Load(ctx)

	svc = rpc.NewService(rpc.Deps{
		Session:       session,
		Notifications: notes,
		Robots:        api,
		Logger:        logger.With("component", "rpc"),
	})
	defer svc.Close()

	stream := server.NewSnapshotStream(session, logger.With("component", "stream"))
	registry, err := core.NewRegistry(
		svc,
		realtime.NewComponent(store, cfg.Realtime.Driver),
		stream,
	)
	if err != nil {
		log.Fatalf("registry: %v", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logger.With("component", "grpc"))
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	registry.RegisterGRPC(grpcServer.Server)
	rpc.RegisterRegistryServer(grpcServer.Server, rpc.NewRegistryService(registry))
	grpcServer.SetServing(true)

	metricsRegistry := registry.MetricsRegistry()
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "robofleet_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	httpMux := http.NewServeMux()
	httpMux.Handle("/health", server.HealthHandler(registry))
	httpMux.Handle("/metrics", server.MetricsHandler(metricsRegistry))
	registry.RegisterHTTP(httpMux)

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, httpMux)

	go svc.RunSync(ctx, cfg.SyncInterval())

	go func() {
		logger.Info("http listening", "addr", cfg.Core.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil {
			log.Fatalf("http serve: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		grpcServer.SetServing(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		grpcServer.Stop()
	}()

	logger.Info("grpc listening", "addr", cfg.Core.GRPCAddr)
	if err := grpcServer.Serve(); err != nil {
		log.Fatalf("grpc serve: %v", err)
	}
}

func openRealtime(cfg *config.Config, logger *slog.Logger) (realtime.Store, func(), error) {
	switch cfg.Realtime.Driver {
	case config.DriverMemory:
		return realtime.NewMemory(), func() {}, nil
	case config.DriverMQTT:
		mqttCfg, err := cfg.MQTTConfig()
		if err != nil {
			return nil, nil, err
		}
		store, err := realtime.NewMQTT(mqttCfg, logger.With("component", "mqtt"))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown realtime driver %q", cfg.Realtime.Driver)
	}
}

// openBackend returns the demo backend when the realtime store is in-process.
func openBackend(ctx context.Context, cfg *config.Config, store realtime.Store, cache kv.Store, logger *slog.Logger) (backendAPI, error) {
	if memory, ok := store.(*realtime.Memory); ok {
		user := fleet.Identity{ID: cfg.Identity.ID, Name: cfg.Identity.Name}
		logger.Info("demo backend enabled")
		return backend.NewDemo(memory, user, demoPushDelay, logger.With("component", "demo")), nil
	}
	clientCfg, err := cfg.BackendClientConfig()
	if err != nil {
		return nil, err
	}
	clientCfg.TokenCache = cache
	return backend.NewClient(ctx, clientCfg, logger.With("component", "backend"))
}

func resolveIdentity(ctx context.Context, cfg *config.Config, api backendAPI) (fleet.Identity, error) {
	if cfg.Identity != nil && cfg.Identity.ID != "" {
		return fleet.Identity{ID: cfg.Identity.ID, Name: cfg.Identity.Name}, nil
	}
	meCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	user, err := api.Me(meCtx)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			return fleet.Identity{}, fmt.Errorf("backend rejected credentials: %w", err)
		}
		return fleet.Identity{}, err
	}
	return user, nil
}

func openCache(ctx context.Context, cfg *config.Config) (kv.Store, func(), error) {
	switch cfg.Cache.Driver {
	case config.DriverMemory:
		return kv.NewMemory(), func() {}, nil
	case config.DriverFile:
		store, err := kv.NewFile(cfg.Cache.Dir)
		return store, func() {}, err
	case config.DriverS3:
		store, err := kv.NewS3(cfg.S3CacheConfig())
		return store, func() {}, err
	case config.DriverPostgres:
		store, err := kv.NewPostgres(ctx, cfg.Cache.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
