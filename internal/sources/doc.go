// Package sources implements the platform adapters that discover and download
// avatar models.
//
// Every adapter satisfies Source: Search returns a lazy, single-use sequence of
// Candidates that pages through the platform API on demand and never yields the
// same item twice, and Download fetches one candidate into a directory. Each
// adapter owns a private httpclient.Client so request spacing for one platform
// never delays another.
//
// Build wires the enabled adapters from configuration. An adapter missing
// credentials fails with a services.ErrConfiguration error and is left out
// while the remaining adapters proceed.
package sources
