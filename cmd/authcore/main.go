// Command authcore serves the login, refresh and logout endpoints over
// PostgreSQL and Redis.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/labcore/authcore"
	"github.com/labcore/authcore/httpapi"
	"github.com/labcore/authcore/internal/logging"
	"github.com/labcore/authcore/metrics/export/prometheus"
)

// serverConfig is the process wiring that sits outside the engine.
type serverConfig struct {
	DatabaseURL string   `env:"DATABASE_URL,required,unset"`
	RedisAddr   string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int      `env:"REDIS_DB" envDefault:"0"`
	ListenAddr  string   `env:"LISTEN_ADDR" envDefault:":8080"`
	Permissions []string `env:"PERMISSIONS,required" envSeparator:","`
	TrustProxy  bool     `env:"TRUST_PROXY"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authcore: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var srvCfg serverConfig
	if err := env.ParseWithOptions(&srvCfg, env.Options{Prefix: authcore.EnvPrefix}); err != nil {
		return fmt.Errorf("parse server config: %w", err)
	}
	cfg, err := authcore.ConfigFromEnv()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Log.Environment,
		Service:     cfg.Log.Service,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := sql.Open("pgx", srvCfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	rdb := redis.NewClient(&redis.Options{
		Addr: srvCfg.RedisAddr,
		DB:   srvCfg.RedisDB,
	})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
	if err := db.PingContext(pingCtx); err != nil {
		logger.Warn("database not reachable at startup", zap.Error(err))
	}
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable at startup; rate limiting will run degraded", zap.Error(err))
	}
	cancel()

	engine, err := authcore.New().
		WithConfig(cfg).
		WithDB(db).
		WithRedis(rdb).
		WithPermissions(srvCfg.Permissions).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	go engine.RunReaper(ctx)

	opts := httpapi.Options{TrustProxy: srvCfg.TrustProxy}
	if cfg.Metrics.Enabled {
		opts.Metrics = prometheus.Handler(engine)
	}
	api := httpapi.New(engine, logger.Named("http"), opts)

	srv := &http.Server{
		Addr:              srvCfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}
