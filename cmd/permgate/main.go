package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/permgate/pkg/async"
	"github.com/platinummonkey/permgate/pkg/audit"
	"github.com/platinummonkey/permgate/pkg/auth"
	"github.com/platinummonkey/permgate/pkg/config"
	"github.com/platinummonkey/permgate/pkg/httputil"
	"github.com/platinummonkey/permgate/pkg/middleware"
	"github.com/platinummonkey/permgate/pkg/observability"
	"github.com/platinummonkey/permgate/pkg/rbac"
)

const maxRequestBytes = 1 << 20

var (
	configFile  = flag.String("config", os.Getenv(config.ConfigFileEnv), "Path to a YAML configuration file")
	migrateOnly = flag.Bool("migrate-only", false, "Apply the schema and exit")
	issueToken  = flag.Int64("issue-token", 0, "Issue an API token for this user id, print it and exit")
	tokenName   = flag.String("token-name", "cli", "Name recorded for a token issued with -issue-token")
	tokenTTL    = flag.Duration("token-ttl", 0, "Lifetime of a token issued with -issue-token; 0 never expires")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewLogger(observability.ParseLevel(cfg.Observability.LogLevel), os.Stdout)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("permgate exited with error")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}

	store := rbac.NewSQLStore(db, rbac.WithDialect(rbac.Dialect(cfg.Database.Driver)))
	if *migrateOnly {
		defer db.Close()
		return store.Migrate(ctx, log)
	}

	tokens := auth.NewTokenStore(db)
	if *issueToken > 0 {
		defer db.Close()
		return issueAPIToken(ctx, tokens, *issueToken)
	}

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "permgate"),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var redisClient *redis.Client
	if cfg.Cache.Type == "redis" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
	}

	auditLogger, err := newAuditLogger(db, cfg.Audit.Sink, log)
	if err != nil {
		return err
	}

	managerOpts := []rbac.ManagerOption{rbac.WithLogger(log), rbac.WithMetrics(metrics)}
	if auditLogger != nil {
		managerOpts = append(managerOpts, rbac.WithAuditLogger(auditLogger))
	}
	if redisClient != nil {
		managerOpts = append(managerOpts, rbac.WithCache(rbac.NewRedisCache(redisClient,
			rbac.WithRedisTTL(cfg.Cache.TTL),
			rbac.WithRedisKeyPrefix(cfg.Cache.RedisKeyPrefix),
			rbac.WithRedisLogger(log),
			rbac.WithRedisMetrics(metrics),
		)))
	}
	manager := rbac.NewManager(store, rbac.Config{CacheTTL: cfg.Cache.TTL, CacheSize: cfg.Cache.Size}, managerOpts...)
	if cfg.Database.AutoMigrate {
		if err := manager.Initialize(ctx); err != nil {
			return err
		}
	}

	router := mux.NewRouter()
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics, routeTemplate))
	}
	router.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, cfg.Observability.OTelServiceVersion))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.NewAuthMiddleware(tokens, cfg.Server.AuthOptional, log).Handler)
	if cfg.RateLimit.Enabled {
		api.Use(newRateLimiter(ctx, redisClient, log).Handler)
	}
	rbac.NewHandlers(manager).RegisterRoutes(api)

	handler := httputil.Chain(
		httputil.RecoveryMiddleware(log),
		httputil.RequestIDMiddleware(log),
		httputil.LoggingMiddleware(log),
		observability.TracingMiddleware("permgate"),
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)(router)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	scheduler := cron.New()
	if cfg.Maintenance.TokenPurgeSchedule != "" {
		janitor := auth.NewTokenJanitor(tokens, cfg.Maintenance.TokenRetention, log)
		if _, err := scheduler.AddJob(cfg.Maintenance.TokenPurgeSchedule, janitor); err != nil {
			return fmt.Errorf("failed to schedule token purge: %w", err)
		}
	}
	if dbAudit, ok := auditLogger.(*audit.DBLogger); ok && cfg.Audit.PurgeSchedule != "" {
		janitor := audit.NewJanitor(dbAudit, cfg.Audit.Retention, log)
		if _, err := scheduler.AddJob(cfg.Audit.PurgeSchedule, janitor); err != nil {
			return fmt.Errorf("failed to schedule audit purge: %w", err)
		}
	}
	scheduler.Start()

	if *configFile != "" {
		async.SafeGo(ctx, log, 0, "config watcher", func(ctx context.Context) error {
			return config.Watch(ctx, *configFile, log, func(updated *config.Config) {
				log.SetLevel(observability.ParseLevel(updated.Observability.LogLevel))
			})
		})
	}

	shutdown := observability.NewShutdownManager(log, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, log)
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return redisClient.Close()
		})
	}
	if auditLogger != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return auditLogger.Close()
		})
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return db.Close()
	})

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("permgate listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			cancel()
		}
	}()

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		return err
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	default:
		return nil
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// newAuditLogger returns nil for the none sink
func newAuditLogger(db *sql.DB, sink string, log *logrus.Logger) (audit.Logger, error) {
	switch sink {
	case "db":
		return audit.NewDBLogger(db)
	case "log":
		return audit.NewLogrusLogger(log), nil
	default:
		return nil, nil
	}
}

// newRateLimiter shares buckets through Redis when it is configured
func newRateLimiter(ctx context.Context, client *redis.Client, log *logrus.Logger) *middleware.RateLimitMiddleware {
	if client != nil {
		return middleware.NewRateLimitMiddleware(
			middleware.NewDistributedRateLimiter(client, middleware.PerUserRateLimitConfig(), ""),
			middleware.NewDistributedRateLimiter(client, middleware.DefaultRateLimitConfig(), ""),
			log,
		)
	}

	user := middleware.NewRateLimiter(middleware.PerUserRateLimitConfig())
	anonymous := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	user.StartCleanup(ctx)
	anonymous.StartCleanup(ctx)
	return middleware.NewRateLimitMiddleware(user, anonymous, log)
}

func issueAPIToken(ctx context.Context, tokens *auth.TokenStore, userID int64) error {
	var expiresAt *time.Time
	if *tokenTTL > 0 {
		t := time.Now().Add(*tokenTTL)
		expiresAt = &t
	}

	token, plaintext, err := tokens.CreateToken(ctx, userID, *tokenName, expiresAt)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "issued token %d (%s) for user %d\n", token.ID, token.TokenPrefix, userID)
	fmt.Println(plaintext)
	return nil
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tmpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tmpl
}
