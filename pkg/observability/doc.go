// Package observability provides Prometheus metrics for the authorization tools.
//
// # Overview
//
// This package centralizes the metrics published by the role, group and user
// tools: mutation counters, identity cache hit rates and session
// invalidation passes.
//
// # Prometheus Metrics
//
// Initialize metrics on a registry and hand them to the tools:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	roleTool.SetMetrics(metrics)
//
// Recording is nil-safe, so tools hold a *Metrics unconditionally and work
// without one installed:
//
//	metrics.RecordMutation("role", "add", true)
//	metrics.RecordCacheLookup("users", false)
//	metrics.RecordInvalidation()
//
// # Related Packages
//
//   - pkg/config: Observability configuration
package observability
