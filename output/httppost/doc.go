// Package httppost provides the "http" command driver, which posts command
// executions to HTTP endpoints.
//
// Each execution sends a JSON Payload with the command name, its argument
// and a UTC timestamp. The command target is the URL: absolute targets are
// used as is, relative ones are joined to the configured base URL.
//
// # Retries
//
// Network errors, 5xx and 429 responses are transient and retried with
// pkg/retry up to RetryCount times. Other non-2xx responses fail at once.
//
// # Configuration
//
//	http_commands:
//	  base_url: https://hooks.example.com/assetflow
//	  headers:
//	    Authorization: Bearer ...
//	  timeout: 10s
//	  retry_count: 3
//
//	commands:
//	  - name: open_valve
//	    driver: http
//	    target: valves/open
//
// Platform client TLS settings (security.tls.client) apply to https targets.
package httppost
