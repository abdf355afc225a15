// Package main is the entry point for the meridian-sync daemon.
//
// syncd runs next to the IDE and keeps the editor's view of the Meridian
// analytics platform in one place: the sign-in session, the workspace the
// user has open, cached workspace and artifact listings, and the mapping
// between platform artifacts and local folders.
//
// Architecture:
//
//	IDE extension → syncd (localhost) → Meridian platform API
//	                    ↘ local folders (export/import mirror)
//
// The daemon provides:
//   - REST API for session, workspace, artifact, and mapping operations
//   - WebSocket stream for state-change and device sign-in events
//   - Definition export to local folders with pre-write snapshots
//   - Folder import back to the platform as artifact definitions
//   - Prometheus metrics on /metrics
//
// Configuration:
//   - MERIDIAN_* environment variables
//   - Optional config file (-config, .yaml or .toml) layered on top
//   - CLI flags for the common overrides
//
// Usage:
//
//	# Against the platform
//	./syncd -port 7171
//
//	# Development mode (colored logs, debug level)
//	./syncd -dev
//
//	# Offline, serving canned workspaces
//	./syncd -fixture ./fixtures/demo.json
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
