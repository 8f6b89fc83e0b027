package logging

import (
	"fmt"
	"strings"
	"sync"
)

// Entry is one captured log line.
type Entry struct {
	Level   string
	Message string
}

// CaptureLogger records every message in memory.
type CaptureLogger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewCaptureLogger creates an empty CaptureLogger.
func NewCaptureLogger() *CaptureLogger {
	return &CaptureLogger{}
}

func (l *CaptureLogger) Verbose(format string, args ...interface{}) {
	l.add("verbose", format, args)
}
func (l *CaptureLogger) Info(format string, args ...interface{}) { l.add("info", format, args) }
func (l *CaptureLogger) Warn(format string, args ...interface{}) { l.add("warn", format, args) }
func (l *CaptureLogger) Error(format string, args ...interface{}) {
	l.add("error", format, args)
}

func (l *CaptureLogger) add(level, format string, args []interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Message: msg})
}

// Entries returns a copy of everything logged so far.
func (l *CaptureLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Contains reports whether any message at level contains substr.
func (l *CaptureLogger) Contains(level, substr string) bool {
	for _, e := range l.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
