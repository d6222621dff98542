// Package config loads and validates homectl configuration.
//
// Configuration comes from a YAML file with environment variable overrides
// (HOMECTL_* pattern). Defaults are suitable for local development against
// a broker and controller on localhost.
//
// The controller, entity processes and the client all share the same file;
// each reads only the sections relevant to it.
package config
