// Package logger constructs the application's slog.Logger from the configured
// level and environment.
package logger
