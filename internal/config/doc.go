// Package config handles configuration loading for alumni-dm.
//
// # Overview
//
// Configuration is loaded from YAML files, or TOML files when the path ends
// in .toml, with environment variable expansion. Fields missing from the
// file keep the values from Default.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ALUMNI_DM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/alumni-dm/config.yaml
//  3. ~/.config/alumni-dm/config.yaml
//
// # Environment Variable Expansion
//
//	backend:
//	  token: "${ALUMNI_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	backend:
//	  url: "http://localhost:8080"
//	  timeout: "15s"
//	  requests_per_second: 20     # 0 disables client-side throttling
//	cache:
//	  driver: "sqlite"            # sqlite, sqlite3, memory, none
//	  path: "~/.local/share/alumni-dm/cache.db"
//	  ttl: "24h"
//	  max_entries: 500            # memory driver only
//	messaging:
//	  poll_interval: "2s"
//	  history_limit: 50
//	  delete_window: "24h"
//	  delete_policy: "optimistic" # optimistic, confirmed
//	  recovered_provisional: "drop"
//	  refresh_conversations: true
//	moderation:
//	  blocked_terms: []           # replaces the built-in list when set
//	  extra_terms: []
//	logging:
//	  level: "info"
//	  format: "text"              # text, json
//	server:                       # fake-backend only
//	  http_addr: ":8080"
//	  jwt_secret: "${ALUMNI_JWT_SECRET}"
//	  cors_origins: ["http://localhost:5173"]
//
// # Validation
//
// Load runs Validate. The binaries add ValidateClient or ValidateServer for
// the sections only they read.
package config
