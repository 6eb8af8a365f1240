// Package convert turns alternate 3D formats into the canonical avatar format
// by shelling out to external tools.
//
// Conversion is never part of a crawl. Triage only records that a file needs
// conversion; Pipeline.ProcessPending later picks up attempts left in the
// downloaded or extracted state, runs the configured converter chain over
// their files, and catalogs what comes out. Converters write their output
// next to the input file as <stem>.<format>.
package convert
