// Package crawler coordinates acquisition runs across every configured source.
//
// A crawl enumerates each source's candidates, skips items already present in
// the catalog or attempt tracker, downloads the rest, triages the payload, and
// persists zero or more catalog entries per item. Failures are isolated per
// item and per source so a batch always completes with a summary rather than
// aborting. RunContinuous repeats crawls on a fixed interval or cron schedule
// until cancelled or until a download ceiling is reached.
//
// Only one crawl may run against a data directory at a time; the exclusive
// lock lives at <data_dir>/crawl.lock.
package crawler
