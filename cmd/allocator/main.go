/*
main.go - Application entry point

PURPOSE:
  The allocator binary: HTTP server plus operator commands for seeding,
  generating, merging and validating allocation plans.

COMMANDS:
  serve      Run the HTTP API (see api/server.go)
  seed       Load an account configuration bundle or a demo scenario
  generate   Compute a plan, print its summary and optionally store it
  merge      Apply a stored draft to the production event store
  validate   Report configuration issues of an account

CONFIGURATION:
  --config points at a YAML or JSON file. Every key can be overridden from
  the environment with the ALLOC_ prefix, "__" separating sections:
    ALLOC_DATABASE__PATH=/var/lib/alloc.db allocator serve

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
*/
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
