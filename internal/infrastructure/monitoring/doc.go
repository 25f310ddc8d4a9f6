/*
Package monitoring provides Prometheus metrics for the error pipeline.

# Overview

Tracks the full life of an error through the pipeline: handled errors by
kind/severity, cooldown suppressions, rule executions, recovery attempts,
and notification throttling/batching, plus the HTTP surface itself.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	metrics.RecordError("network", "error")

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
