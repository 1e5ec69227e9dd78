// Package middleware provides HTTP middleware for caller identity and rate limiting.
//
// # Identity
//
// Identity resolves the caller for every authenticated route. A Bearer token
// is verified through a TokenVerifier (OIDCVerifier in production) and its
// groups claim becomes the caller's team ids. Without a token the user id is
// read from a trusted gateway header, X-User-ID by default.
//
//	verifier, err := middleware.NewOIDCVerifier(ctx, middleware.OIDCConfig{IssuerURL: issuer})
//	router.Use(middleware.Identity("X-User-ID", verifier))
//
// # Rate Limiting
//
// Public share-link routes are limited per token with RateLimitByVar. The
// in-process RateLimiter is a token bucket; DistributedRateLimiter keeps a
// fixed window counter in Redis so replicas share one budget. Both accept
// SetConfig so limits can be reloaded without a restart.
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultShareLinkRateLimitConfig(), nil)
//	public.Use(middleware.RateLimitByVar(limiter, "token"))
//
// Limiter errors fail open.
package middleware
