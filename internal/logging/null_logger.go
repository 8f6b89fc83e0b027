package logging

import "github.com/vvka-141/detloader/pkg/detloader"

var (
	_ detloader.Logger = (*NullLogger)(nil)
	_ detloader.Logger = (*ConsoleLogger)(nil)
	_ detloader.Logger = (*CaptureLogger)(nil)
)

// NullLogger discards everything. Components default to it when no logger is wired.
type NullLogger struct{}

// NewNullLogger returns a NullLogger.
func NewNullLogger() *NullLogger { return &NullLogger{} }

func (*NullLogger) Verbose(string, ...interface{}) {}
func (*NullLogger) Info(string, ...interface{})    {}
func (*NullLogger) Warn(string, ...interface{})    {}
func (*NullLogger) Error(string, ...interface{})   {}
