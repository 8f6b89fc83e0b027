// Package loader commits frozen batches to a detloader.Sink.
//
// Every sink call goes through a retry.Executor: transient failures
// (connectivity, resource exhaustion, serialization conflicts) are retried with
// bounded exponential backoff, anything else fails the batch immediately.
// Rows the sink refuses inside an otherwise healthy batch are reported in
// LoadResult.RejectedRows and do not fail the batch.
package loader
