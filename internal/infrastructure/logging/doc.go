// Package logging provides structured logging built on log/slog.
//
// Every homectl process creates one root Logger and derives component
// loggers from it with With("component", ...). Output format, level and
// destination come from the logging section of config.yaml.
package logging
