// Package triage classifies downloaded payloads into catalog-ready results.
//
// Process inspects one file by extension (sniffing content when the
// extension is missing or unknown), extracts archives into a directory
// namespaced by source and item id, walks the extracted tree with a bounded
// breadth-first queue, parses JSON, YAML, and text sidecars into notes, and
// picks the lexicographically first non-skipped VRM as the primary artifact.
// Extraction failures never escape Process; they surface as an error note so
// the caller can mark the attempt failed.
//
// SkipChain implements the accessory filter: a hard extension denylist, then
// the optional classifier, then keyword matching over the lowercased path.
// The first stage to produce a skip verdict wins.
package triage
