// Package cmd implements the command-line interface for the limitd rate
// limiting client. It provides a hierarchical command structure for
// interacting with limitd servers from the shell.
//
// The package is organized into several subpackages:
//
//   - bucket: Commands for bucket operations (reserve, wait, inspect, replenish, status)
//   - ping: Command for checking server connectivity and round-trip time
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See limitd-cli -help for a list of all commands.
package cmd
