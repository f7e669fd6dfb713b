// Package config handles configuration loading for coven-context.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Values not present in the file keep the value from Default().
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_CONTEXT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/context.yaml
//  3. ~/.config/coven/context.yaml
//
// A missing file is not an error for LoadOrDefault.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_CONTEXT_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  token_ttl: "720h"
//
// The soft-delete retention window is not configurable; it is fixed at seven
// days by the store.
//
// # Example
//
//	database:
//	  path: "~/.local/share/coven/context.db"
//	  driver: "sqlite"
//
//	server:
//	  transport: "http"
//	  http_addr: "127.0.0.1:8420"
//
//	auth:
//	  jwt_secret: "${COVEN_CONTEXT_JWT_SECRET}"
//
//	logging:
//	  level: "info"
//	  format: "text"
//	  file: "/var/log/coven/context.log"
//	  max_size_mb: 10
//	  max_backups: 3
//
//	sweep:
//	  dry_run: true
package config
