// Package staging provides access to the directory the analysis stage drops
// detection CSV files into.
//
// Key interfaces:
//   - Provider: lists, stats and opens staged files
//   - FileInfo: file metadata (alias of fs.FileInfo)
//
// Implementations:
//   - OSProvider: production implementation using the OS filesystem
//   - MemoryProvider: in-memory implementation for tests
//
// Summarize builds the per-type staging summary shown by `detloader stats`.
package staging
