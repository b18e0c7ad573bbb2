// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration structure
// including server settings, circuit breaker defaults and per-service overrides,
// store backend selection, proxied routes, and the event collector sizes.
package config
