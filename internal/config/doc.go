// Package config loads indexer configuration from TOML files and GOCONTEXT_KB_* environment variables.
package config
