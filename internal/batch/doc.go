// Package batch groups deduplicated records into per-source-type batches and
// tracks when staged files are fully committed.
//
// Each source type has a Track moving through
//
//	Collecting -> ReadyToFlush -> Flushing -> Idle -> Collecting
//
// A window is frozen into a Batch when its count threshold is reached, when
// the interval since the last flush has elapsed, or on a manual flush. A new
// window opens as soon as one is frozen; frozen batches queue FIFO and only
// one per track is in flight.
//
// The Manager routes records to tracks, owns the dedupe window and counts
// outstanding records per staged file. Settle is called once a batch has been
// loaded (or has failed); it reports which files became complete so that the
// caller can commit them together with the batch.
package batch
