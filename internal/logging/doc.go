// Package logging provides file-based structured logging with rotation for repoqa.
// Logs are JSON lines written under the data directory's logs/ subtree with
// size-based rotation, optionally teed to stderr for interactive runs.
//
// MCP mode disables stderr entirely: stdio transports own stdout/stderr and any
// stray write corrupts the protocol stream.
package logging
