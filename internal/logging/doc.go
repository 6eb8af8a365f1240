// Package logging assembles structured slog loggers and formatting helpers used
// across the scraper.
//
// It owns the console and JSON handlers, tees a JSON copy of every record into
// the log directory, and exposes context-aware helpers so crawler code can tag
// log lines with the source, item ID, stage and run correlation ID. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
