/*
Package tracing provides lightweight request tracing for debugging.

# Overview

This package tracks a request from the IDE client through the daemon's
handlers and down into sync operations. It follows OpenTelemetry concepts
but with a minimal implementation: spans land in the structured log, and
there is no external collector.

# Features

- Trace context propagation via HTTP headers
- Span creation and management with parent-child relationships
- Automatic trace ID generation
- HTTP middleware for automatic instrumentation
- Low overhead with buffered span collection

# Usage

	// Create tracer
	tracer := tracing.New("syncd", logger)

	// HTTP middleware
	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "mirror.export")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

	span.SetTag("workspace", workspaceID)

# Trace Format

Traces use standard HTTP headers for propagation:
- X-Trace-ID: Unique identifier for the entire request flow
- X-Span-ID: Identifier for the current operation

IDE clients that send these headers see their own ids echoed back, so
daemon spans correlate with editor-side logs.
*/
package tracing
