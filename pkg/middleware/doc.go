// Package middleware provides HTTP middleware for authentication and rate
// limiting in front of the rbac gates.
//
// # Authentication
//
// AuthMiddleware reads "Authorization: Bearer <token>", resolves it through
// an Authenticator (usually *auth.TokenStore) and places the resulting
// rbac.Principal on the request context. Requests without a valid token get
// a 401; in optional mode requests without a header pass through
// unauthenticated and the gates answer 401 themselves.
//
//	authn := middleware.NewAuthMiddleware(tokenStore, false, log)
//	router.Use(authn.Handler)
//
// # Rate Limiting
//
// RateLimitMiddleware keys authenticated callers by user id and everyone
// else by client IP. RateLimiter keeps token buckets in process;
// DistributedRateLimiter shares fixed windows through Redis.
//
//	Anonymous: 100 req/min, 10 burst
//	Per-User:  1000 req/min, 50 burst
//
// Limiter errors admit the request by default (SetFailOpen).
package middleware
