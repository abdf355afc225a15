// Package server exposes the daemon's local HTTP surface for IDE clients.
//
// This package assembles the routes over the domain managers:
//   - HTTP routing with Gin framework
//   - Middleware stack (recovery, tracing, metrics, CORS, rate limiting)
//   - Session, workspace, filter, mapping, and view-state endpoints
//   - Definition export/import through the mirror
//   - WebSocket event stream (/stream)
//
// The event stream pushes signInChanged, tenantChanged, propertyChanged,
// and devicePrompt events. Payloads carry at most a property name;
// clients re-query the REST surface for state. The device prompt is the
// exception and carries the user code and verification URI.
//
// Mutating endpoints probe the session for the mutation capability; a
// fixture-backed daemon answers 501 for them.
//
// Example Usage:
//
//	srv, err := server.New(server.Config{ ... })
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Run()
//	...
//	srv.Shutdown(ctx)
package server
