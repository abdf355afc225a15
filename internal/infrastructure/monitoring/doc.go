/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the sync
daemon, tracking the local HTTP surface, platform API round trips,
deferred operations, workspace cache behavior, and the event stream.

# Features

- Local HTTP request metrics (latency, throughput, size)
- Platform API round trip metrics (duration, status)
- Deferred operation metrics (outcomes, polls per operation)
- Workspace cache and restoration metrics
- Session transition metrics
- State persistence and event stream metrics
- System metrics (uptime)

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Feed the domain observers
	client.New(baseURL, client.WithRequestHook(metrics.RecordRemoteRequest))
	lro.New(sender, lro.WithObserver(metrics.RecordOperation))

	// Time operations
	timer := monitoring.NewTimer(metrics, "mirror", "export")
	// ... perform operation ...
	timer.Stop("success")

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
