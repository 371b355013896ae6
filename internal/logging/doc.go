// Package logging builds the process-wide slog.Logger.
//
// Output always goes to stderr because stdout carries the stdio transport.
// The text format colorizes levels when stderr is a terminal; the json
// format uses slog's JSON handler. A log file, when configured, receives a
// copy of every record.
package logging
