// Package logging provides the structured logging system for mcphub.
//
// It is a thin wrapper over Go's standard slog package that gives every log
// line a subsystem attribute and printf-style message formatting:
//
//	logging.Initialize(logging.LevelInfo, false, os.Stderr)
//	logging.Info("Registry", "Connected to %s", name)
//	logging.Error("Cluster", err, "Heartbeat failed for node %s", nodeID)
//
// Levels follow slog semantics (Debug, Info, Warn, Error). Initialize selects
// text or JSON output; InitForCLI is a shorthand for interactive commands.
//
// Session identifiers must never be logged verbatim; use TruncateSessionID.
package logging
