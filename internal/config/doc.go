// Package config handles configuration loading for mercury-mcp.
//
// # Overview
//
// Configuration comes from, in increasing precedence:
//
//  1. built-in defaults
//  2. an optional YAML or TOML file (TOML when the name ends in .toml)
//  3. the MERCURY_API_KEY environment variable
//
// A .env file in the working directory is loaded into the environment first
// (LoadDotEnv); variables that are already set are not overwritten.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MERCURY_MCP_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/mercury-mcp/config.yaml
//  3. ~/.config/mercury-mcp/config.yaml
//
// No file at all is fine as long as MERCURY_API_KEY is set.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	mercury:
//	  api_key: "${MERCURY_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	mercury:
//	  api_key: "${MERCURY_API_KEY}"
//	  base_url: "https://api.mercury.com/api/v1"
//	  timeout: "30s"
//
//	transport:
//	  mode: "stdio"            # stdio, http
//	  http_addr: "localhost:8080"
//	  jwt_secret: ""           # at least 32 bytes; enables bearer auth on /mcp
//
//	logging:
//	  level: "info"            # debug, info, warn, error
//	  format: "text"           # text, json
//	  file: ""                 # also append logs to this file
//
// # Validation
//
// Load fails when the API key is missing, so the server never starts without
// the credentials every Mercury call needs.
package config
