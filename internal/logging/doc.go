// Package logging provides opt-in file-based logging with rotation for
// ragtune. When the --debug flag is set, comprehensive logs are written to
// ~/.ragtune/logs/ for debugging and troubleshooting.
//
// By default (without --debug), logging is minimal and goes to stderr only,
// and the MCP serve mode redirects everything to the log file to keep stdout
// clean for the protocol stream.
package logging
