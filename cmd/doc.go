// Package cmd implements the command-line interface for driverelay.
//
// This package provides the following commands:
//   - serve: Start the HTTP relay (default when no subcommand is given)
//   - version: Display version information
//
// Every serve flag can also be set through an environment variable; an
// explicitly passed flag always wins.
package cmd
