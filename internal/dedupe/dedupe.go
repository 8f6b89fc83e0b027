// Package dedupe drops detections that were already committed or are already
// waiting in an uncommitted batch.
//
// The first occurrence of a fingerprint wins. Later occurrences are dropped,
// and when the first occurrence has not been committed yet the drop is
// reported as a dependency: the file that carried the duplicate must not be
// marked processed before the original commits.
//
// A Deduper is not safe for concurrent use; the batch manager serialises access.
package dedupe

import "github.com/vvka-141/detloader/pkg/detloader"

// LedgerView answers whether a fingerprint has been committed in an earlier batch.
type LedgerView interface {
	Contains(fingerprint string) bool
}

// Outcome classifies a record.
type Outcome int

const (
	// Keep means the record is the first occurrence and enters the window.
	Keep Outcome = iota
	// DuplicateCommitted means the fingerprint is in the ledger.
	DuplicateCommitted
	// DuplicatePending means an uncommitted record with the same fingerprint is in the window.
	DuplicatePending
)

// String returns a human-readable representation of the Outcome.
func (o Outcome) String() string {
	switch o {
	case Keep:
		return "keep"
	case DuplicateCommitted:
		return "duplicate-committed"
	case DuplicatePending:
		return "duplicate-pending"
	default:
		return "unknown"
	}
}

// Dependency ties a dropped record's file to the uncommitted record it duplicated.
type Dependency struct {
	File        string
	Fingerprint string
}

// Deduper tracks fingerprints that are pending or in flight.
type Deduper struct {
	window map[string]string // fingerprint -> staged file of the first occurrence
}

// New creates an empty Deduper.
func New() *Deduper {
	return &Deduper{window: make(map[string]string)}
}

// Check classifies rec and, when it is kept, adds it to the window.
func (d *Deduper) Check(rec detloader.DetectionRecord, ledger LedgerView) Outcome {
	if _, ok := d.window[rec.Fingerprint]; ok {
		return DuplicatePending
	}
	if ledger != nil && ledger.Contains(rec.Fingerprint) {
		return DuplicateCommitted
	}
	d.window[rec.Fingerprint] = rec.StagedFile
	return Keep
}

// Dedupe filters records in order. It returns the kept records, the number of
// dropped ones, and a dependency for every drop caused by an uncommitted record.
func (d *Deduper) Dedupe(records []detloader.DetectionRecord, ledger LedgerView) ([]detloader.DetectionRecord, int, []Dependency) {
	kept := make([]detloader.DetectionRecord, 0, len(records))
	var deps []Dependency
	dropped := 0
	for _, rec := range records {
		switch d.Check(rec, ledger) {
		case Keep:
			kept = append(kept, rec)
		case DuplicatePending:
			dropped++
			deps = append(deps, Dependency{File: rec.StagedFile, Fingerprint: rec.Fingerprint})
		default:
			dropped++
		}
	}
	return kept, dropped, deps
}

// Resolve removes fingerprints from the window once their batch has either
// committed (they are now in the ledger) or failed (they may be retried).
func (d *Deduper) Resolve(fingerprints []string) {
	for _, fp := range fingerprints {
		delete(d.window, fp)
	}
}

// Reset empties the window. Used when pending windows are discarded.
func (d *Deduper) Reset() {
	clear(d.window)
}

// Len returns the number of uncommitted fingerprints held.
func (d *Deduper) Len() int { return len(d.window) }
