// Package textutil provides text processing utilities for filename sanitizing,
// tokenization, and fuzzy string similarity.
//
// The primary use cases are:
//   - Turning platform display names into safe file and directory names
//   - Splitting paths into lowercase word tokens for keyword classification
//   - Scoring two tokens with a normalized indel similarity ratio (0..100)
//
// The tokenization process lowercases text, splits on non-alphanumeric characters,
// and filters tokens shorter than 3 characters.
package textutil
