// Package config handles configuration loading for hearth-admin.
//
// Configuration is loaded from YAML files with ${VAR_NAME} environment
// variable expansion. Duration values (tokens.default_ttl) use Go's
// time.ParseDuration syntax. Load validates that server.http_addr,
// database.path, and export.dir are set.
package config
