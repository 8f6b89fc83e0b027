// Package logging provides concrete implementations of the detloader.Logger interface.
//
// Available implementations:
//   - ConsoleLogger: writes levelled lines to stderr, coloured when stderr is a terminal
//   - NullLogger: discards all messages (useful for testing)
//   - CaptureLogger: keeps messages in memory so tests can assert on them
//
// All logger implementations are safe for concurrent use by multiple goroutines.
package logging
