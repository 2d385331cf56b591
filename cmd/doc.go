// Package cmd implements the command-line interface of dht. It provides
// the command to run a node and commands to talk to a running cluster.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations (put, get, del) and a benchmark (perf)
//   - serve: Command for starting and configuring a node
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as environment variable DHT_<FLAG> (dashes become
// underscores), .env and .env.local in the working directory are loaded first.
//
// See dht -help for a list of all commands.
package cmd
