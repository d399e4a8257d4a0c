// Package cli provides shared helpers for the command-line surface: typed
// connection and authentication errors that map to semantic exit codes, and
// hub endpoint detection from the configuration directory.
package cli
