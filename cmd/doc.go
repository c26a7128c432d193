// Package cmd implements the command-line interface of dBroker. It provides a
// hierarchical command structure for running the server and the dispatcher and
// for talking to the broker as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the RPC server hosting queue and lock table shards, optionally with an in-process dispatcher
//   - dispatch: Runs a dispatcher against the queue shard of a remote server
//   - sql: Client commands that run statements through the broker (query, exec, escape, perf)
//   - lock: Runs commands under a named lock (run, free)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through the environment as DBROKER_<FLAG>, with
// dashes replaced by underscores. .env and .env.local are loaded on start.
//
// See dbroker -help for a list of all commands.
package cmd
