package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"shopfront.io/internal/audit"
	"shopfront.io/internal/auth"
	"shopfront.io/internal/config"
	"shopfront.io/internal/httpapi"
	"shopfront.io/internal/keys"
	"shopfront.io/internal/lock"
	"shopfront.io/internal/obs"
	"shopfront.io/internal/store/memory"
	"shopfront.io/internal/store/pg"
	"shopfront.io/internal/token"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(!cfg.Production(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("shopfront-auth stopped", zap.Error(err))
	}
}

type closer func()

func run(cfg *config.Config, logger *zap.Logger) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, obs.TracingConfig{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	registry := keys.NewRegistry()
	if err := seedKeys(registry, cfg, logger); err != nil {
		return fmt.Errorf("seed keys: %w", err)
	}

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	var (
		store auth.Store
		ready httpapi.ReadyProbe
		sinks = []audit.Sink{audit.LogSink{Logger: logger}}
	)
	if cfg.Postgres.DSN != "" {
		pgStore, err := pg.Open(cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		closers = append(closers, func() { _ = pgStore.Close() })
		store = pgStore
		ready = httpapi.ReadyFunc(pgStore.Ping)
		sinks = append(sinks, pgStore.AuditSink())
	} else {
		logger.Warn("SHOPFRONT_POSTGRES_DSN not set; using in-memory store")
		mem := memory.New()
		store = mem
		ready = httpapi.ReadyFunc(mem.Ping)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		client, err := audit.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			return fmt.Errorf("kafka client: %w", err)
		}
		closers = append(closers, client.Close)
		sink, err := audit.NewKafkaSink(client, cfg.Kafka.AuditTopic)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}
	recorder := audit.NewRecorder(sinks, audit.WithLogger(logger))

	var locker lock.Locker = lock.NewLocal()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = rdb.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		locker, err = lock.NewRedis(rdb)
		if err != nil {
			return err
		}
	}

	tokens, err := token.NewService(registry,
		token.WithIssuer(cfg.Token.Issuer),
		token.WithAccessTTL(cfg.Token.AccessTTL),
		token.WithRefreshTTL(cfg.Token.RefreshTTL),
		token.WithAllowMissingKeyID(cfg.Token.AllowMissingKeyID),
	)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, tokens,
		auth.WithLocker(locker),
		auth.WithAuditor(recorder),
		auth.WithLogger(logger),
		auth.WithBcryptCost(cfg.Security.BcryptCost),
		auth.WithMaxSessions(cfg.Security.MaxSessions),
		auth.WithDefaultRole(cfg.Security.DefaultRole),
		auth.WithStoreTimeout(cfg.Security.StoreTimeout),
	)
	if err != nil {
		return err
	}
	catalog, err := auth.NewCatalog(store, registry,
		auth.WithCatalogAuditor(recorder),
		auth.WithCatalogLogger(logger),
	)
	if err != nil {
		return err
	}

	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := catalog.EnsureBuiltins(setupCtx); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if cfg.Bootstrap.AdminEmail != "" {
		u, created, err := catalog.BootstrapAdmin(setupCtx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword, cfg.Security.BcryptCost)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		logger.Info("bootstrap admin ready", zap.String("user_id", u.ID), zap.Bool("created", created))
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.Security.TrustedProxies)
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Deps{
		Auth:     svc,
		Catalog:  catalog,
		Registry: registry,
		Ready:    ready,
	}, httpapi.Options{
		Version:           version,
		Production:        cfg.Production(),
		RefreshCookieName: cfg.Cookies.RefreshName,
		RefreshCookiePath: cfg.Cookies.RefreshPath,
		AccessCookieName:  cfg.Cookies.AccessName,
		LoginRatePerSec:   cfg.Security.LoginRatePerSec,
		LoginBurst:        cfg.Security.LoginBurst,
		TrustedProxies:    proxies,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = grpc.NewServer()
		health := httpapi.NewHealthServer(ready)
		health.Register(grpcServer)
		go health.Run(ctx, 10*time.Second)
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}

// seedKeys loads the configured PEM pairs. Outside production, missing paths
// fall back to ephemeral keys generated at startup.
func seedKeys(registry *keys.Registry, cfg *config.Config, logger *zap.Logger) error {
	pairs := []struct {
		purpose   keys.Purpose
		priv, pub string
	}{
		{keys.PurposeAccess, cfg.Keys.AccessPrivate, cfg.Keys.AccessPublic},
		{keys.PurposeRefresh, cfg.Keys.RefreshPrivate, cfg.Keys.RefreshPublic},
	}
	for _, p := range pairs {
		if !cfg.Keys.Complete() {
			priv, err := keys.GenerateRSA(2048)
			if err != nil {
				return err
			}
			entry, err := registry.Seed(p.purpose, priv, nil)
			if err != nil {
				return err
			}
			logger.Warn("using ephemeral signing key", zap.String("purpose", string(p.purpose)), zap.String("kid", entry.ID))
			continue
		}
		priv, pub, err := keys.LoadPEMFiles(p.priv, p.pub)
		if err != nil {
			return fmt.Errorf("%s key: %w", p.purpose, err)
		}
		entry, err := registry.Seed(p.purpose, priv, pub)
		if err != nil {
			return fmt.Errorf("%s key: %w", p.purpose, err)
		}
		logger.Info("signing key loaded", zap.String("purpose", string(p.purpose)), zap.String("kid", entry.ID))
	}
	return nil
}
