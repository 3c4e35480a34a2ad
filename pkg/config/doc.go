// Package config loads permgate configuration.
//
// Values come from three layers, later layers winning: built-in defaults,
// an optional YAML file named by PERMGATE_CONFIG_FILE, and PERMGATE_*
// environment variables.
//
// # Environment
//
//	PERMGATE_HOST, PERMGATE_PORT                     listen address (0.0.0.0:8080)
//	PERMGATE_AUTH_OPTIONAL                           let anonymous requests reach the gates
//	PERMGATE_DB_DRIVER                               postgres or sqlite3
//	PERMGATE_DB_DSN                                  connection string (required)
//	PERMGATE_DB_AUTO_MIGRATE                         run migrations at startup (true)
//	PERMGATE_CACHE_TYPE                              memory or redis
//	PERMGATE_CACHE_TTL                               permission cache TTL (5m)
//	PERMGATE_CACHE_SIZE                              in-memory cache entries (10000)
//	PERMGATE_REDIS_URL                               required for the redis cache
//	PERMGATE_RATE_LIMIT_ENABLED                      per-user and per-IP limits (true)
//	PERMGATE_TOKEN_PURGE_SCHEDULE                    cron spec for purging dead tokens (0 3 * * *)
//	PERMGATE_TOKEN_RETENTION                         keep dead tokens this long (720h)
//	PERMGATE_LOG_LEVEL                               logrus level (info)
//	PERMGATE_METRICS_ENABLED                         serve /metrics (true)
//	PERMGATE_OTEL_ENABLED, PERMGATE_OTEL_ENDPOINT    OTLP gRPC tracing
//
// # File
//
//	database:
//	  driver: sqlite3
//	  dsn: file:permgate.db?_foreign_keys=on
//	cache:
//	  type: redis
//	  redis_url: redis://localhost:6379/0
//	  ttl: 5m
//
// Validate reports every problem at once. Watch reloads the file when it
// changes so the log level can be adjusted without a restart.
package config
