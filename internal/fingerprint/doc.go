// Package fingerprint derives the identity of a detection record.
//
// A fingerprint is the hex SHA-256 of a canonical encoding of the fields that
// identify a detection:
//
//   - source type and source file
//   - frame position (frame index, or the timestamp in milliseconds when the
//     index is absent)
//   - object class, lowercased with whitespace collapsed
//   - bounding box corners rounded to two decimals
//
// Confidence and the staged file name are deliberately left out so that the
// same detection re-scored or re-staged maps to the same fingerprint.
//
// # Example Usage
//
//	fp := fingerprint.New()
//	rec.Fingerprint = fp.Of(rec)
//
// # Thread Safety
//
// SHA256 is safe for concurrent use by multiple goroutines.
package fingerprint
