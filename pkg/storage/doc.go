// Package storage holds the cumulative query statistics dataset.
//
// Two backends implement MergeStore:
//   - CSVStore: one UTF-8 file with a byte order mark, rewritten atomically on each merge
//   - SQLiteStore: a query_stats table with a composite primary key and upserts
//
// Both dedupe on (date, key column, query) where the key column is host_id or url,
// and the most recently merged record wins.
//
// WriteRunFile produces the per-run output file containing only the records
// collected by that run.
package storage
