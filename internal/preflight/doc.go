// Package preflight provides readiness checks for the directories, external
// tools, and platform credentials the scraper depends on.
//
// The CLI "vrmscraper status" command renders these results. Checks only
// read state; nothing here creates directories or refreshes tokens.
package preflight
