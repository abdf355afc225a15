// Package middleware provides HTTP middleware for the daemon's local API.
//
// Middleware stack includes:
//   - CORS: admits IDE webviews and localhost dev servers, rejects
//     everything else so stray web pages cannot script the daemon
//   - RateLimit: a single token bucket shared by all loopback clients
//   - Recovery and logging (via Gin)
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
