// Package state persists the loader's run state between runs.
//
// The state file is a single JSON document holding the processed-file set,
// per-track flush bookkeeping, the fingerprint ledger, quarantine entries and
// cumulative statistics. It is replaced atomically: the new document is
// written to a temporary file in the same directory, fsynced, renamed over
// the old one, and the directory is fsynced. A crash at any point leaves
// either the old or the new document on disk, never a torn one.
//
// A file that cannot be decoded is never discarded silently. Load returns a
// *detloader.StateCorruptionError and the operator has to call Reset, which
// keeps the damaged file next to the new one for inspection.
package state
