// Package config provides 12-factor configuration management for syncd.
//
// Configuration is loaded from MERIDIAN_* environment variables with
// sensible defaults. An optional YAML or TOML file layers on top for
// setups that prefer files over environment.
//
// Configuration Sections:
//   - Server: Local HTTP surface (loopback host, port)
//   - API: Remote platform endpoint, environment, timeouts, retries
//   - Identity: Device-flow client id, endpoints, scopes, token cache
//   - Storage: State file, base folder for mapped workspaces, backups
//   - Mirror: Export/import exclude patterns and snapshot retention
//   - Logging: Log level and output format
//   - RateLimit: Local API throttling
//
// Precedence: file > environment > defaults.
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("daemon on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - MERIDIAN_PORT, MERIDIAN_HOST
//   - MERIDIAN_API_BASE_URL, MERIDIAN_ENVIRONMENT
//   - MERIDIAN_CLIENT_ID, MERIDIAN_SCOPES, MERIDIAN_TOKEN_CACHE
//   - MERIDIAN_STATE_FILE, MERIDIAN_BASE_FOLDER
//   - MERIDIAN_LOG_LEVEL, MERIDIAN_LOG_DEV
//   - MERIDIAN_RATE_LIMIT_RPS, MERIDIAN_RATE_LIMIT_BURST
package config
