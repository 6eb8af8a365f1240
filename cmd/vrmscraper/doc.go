// Package main hosts the vrmscraper CLI entrypoint and command graph.
//
// The Cobra command tree turns terminal invocations into calls against the
// internal packages: crawl batches and continuous runs, catalog and attempt
// maintenance, the conversion pipeline, Markdown reports, and preflight
// checks. Configuration resolution and logger setup happen once in the
// command context so subcommands only wire collaborators together.
//
// Keep this package lean: new behaviour belongs in the internal packages
// first and is surfaced here through a command or flag.
package main
