// Package config handles configuration loading for coven-relay.
//
// # Overview
//
// Configuration is optional. Without a file the relay runs on defaults plus
// two required environment variables:
//
//	AIPROJECT_CONNECTION_STRING  agent service project endpoint
//	AGENT_ID                     agent to run on every thread
//
// Both override the file when set. A missing value is a startup error wrapping
// ErrMissingRequired. An endpoint without a scheme gets https:// prepended;
// plain http is rejected.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_RELAY_CONFIG environment variable
//  2. ./relay.yaml or ./relay.toml
//  3. ~/.config/coven/relay.yaml or relay.toml
//
// Files ending in .toml are decoded as TOML, anything else as YAML. Values may
// reference environment variables with ${VAR_NAME}; unset variables expand to
// the empty string.
//
// # Configuration Sections
//
//	agent_service:
//	  endpoint: "${AIPROJECT_CONNECTION_STRING}"
//	  agent_id: "asst_abc123"
//	  api_version: "v1"
//	  request_timeout: "30s"
//
//	bootstrap:
//	  policy: "empty"        # empty, greeting
//	  greeting: "Hi! Tell me your favorite programming joke."
//
//	run:
//	  strategy: "polling"    # polling, blocking
//	  poll_interval: "1s"
//	  max_wait: "5m"         # "0" waits forever
//
//	server:
//	  http_addr: "localhost:8080"
//
//	tailscale:
//	  enabled: false
//	  hostname: "coven-relay"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
//	frontends:
//	  web:
//	    enabled: true
//	  matrix:
//	    enabled: false
//	    homeserver: "https://matrix.org"
//	    user_id: "@relay:matrix.org"
//	    access_token: "${MATRIX_TOKEN}"
//	    allowed_rooms: []
//	    command_prefix: ""
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.LoadDefault()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
