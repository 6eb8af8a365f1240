// Package services defines shared utilities consumed by the crawl pipeline
// stages and the platform integrations.
//
// Key responsibilities:
//   - Context helpers that stamp source names, item identifiers, stage names,
//     and crawl run identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified with errors.Is regardless of which layer produced them.
//
// Use these helpers when wiring new pipeline code so error handling and
// observability stay uniform across sources.
package services
