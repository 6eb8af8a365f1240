// Package httpclient provides the per-source HTTP client used by every
// platform adapter.
//
// A Client spaces its own requests by a configured delay using a token
// bucket with a burst of one, retries throttled (429), server (5xx), and
// transport failures with exponential backoff, and streams downloads into a
// temp file that is renamed into place only after the body is fully written.
// Each source owns its own Client so sources never throttle each other.
package httpclient
