// Package warehouse is the PostgreSQL implementation of detloader.Sink.
//
// Rows are keyed by fingerprint and inserted with ON CONFLICT DO NOTHING, so
// re-delivering a batch after a crash is absorbed without duplicates. Each row
// runs under its own savepoint: a row the server refuses with a data or
// integrity error is rolled back alone, recorded in the rejects table, and the
// rest of the batch commits.
package warehouse
