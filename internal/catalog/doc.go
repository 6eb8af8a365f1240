// Package catalog persists acquired avatar artifacts and acquisition attempts
// in SQLite.
//
// The Store owns schema initialization, the catalog entries table keyed by
// (source, source_item_id), the attempt tracker that makes re-crawls cheap
// after a crash, the classification cache, stats queries, and JSON
// export/import. Uniqueness is enforced by the database itself; Add reports
// duplicates through AddResult instead of an error.
//
// Schema changes bump schemaVersion in schema.go; older databases are rejected
// with ErrSchemaMismatch.
package catalog
