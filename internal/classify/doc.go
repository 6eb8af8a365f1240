// Package classify scores files for the triage skip chain.
//
// A Classifier answers whether a downloaded or extracted file looks like a
// non-avatar asset (weapon, prop, clothing) that should stay out of the
// catalog. Fuzzy matches path tokens against fixed term lists; Cached wraps
// any classifier with a persistent result cache keyed by path, modification
// time, and size. Triage receives a nil Classifier when the feature is off.
package classify
