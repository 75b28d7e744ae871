// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables
// with sensible defaults for all settings.
//
// # Configuration Structure
//
// Database settings:
//
//	AUTHGRAPH_POSTGRES_URL="postgres://localhost/authgraph"
//	AUTHGRAPH_POSTGRES_MAX_OPEN_CONNS="20"
//	AUTHGRAPH_POSTGRES_MAX_IDLE_CONNS="5"
//	AUTHGRAPH_POSTGRES_CONN_LIFETIME="30m"
//
// Login throttling settings:
//
//	AUTHGRAPH_THROTTLE_ENABLED="true"
//	AUTHGRAPH_THROTTLE_MAX_TRIALS="5"
//	AUTHGRAPH_THROTTLE_WINDOW="15m"
//	AUTHGRAPH_THROTTLE_INCLUDE_ADDR="true"
//	AUTHGRAPH_THROTTLE_INCLUDE_RESOURCE="false"
//	AUTHGRAPH_REDIS_URL="redis://localhost:6379/0"  # empty = process-local store
//
// Credential settings:
//
//	AUTHGRAPH_BCRYPT_COST="10"  # 0 = bcrypt default
//
// Observability settings:
//
//	AUTHGRAPH_LOG_LEVEL="info"  # debug, info, warn, error
//	AUTHGRAPH_LOG_JSON="false"
//	AUTHGRAPH_METRICS_ENABLED="true"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger := cfg.NewLogger()
//
// # Related Packages
//
//   - pkg/store: Uses database configuration
//   - pkg/throttle: Uses throttle configuration
package config
