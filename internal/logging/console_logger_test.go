package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
)

func TestConsoleLogger_Verbose_WhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLoggerTo(&buf, true, false)
	logger.Verbose("test message: %s", "value")

	expected := "[VERBOSE] test message: value\n"
	if buf.String() != expected {
		t.Errorf("Expected %q, got %q", expected, buf.String())
	}
}

func TestConsoleLogger_Verbose_WhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLoggerTo(&buf, false, false)
	logger.Verbose("test message: %s", "value")

	if buf.String() != "" {
		t.Errorf("Expected no output, got %q", buf.String())
	}
}

func TestConsoleLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		log      func(l *ConsoleLogger)
		expected string
	}{
		{"info", func(l *ConsoleLogger) { l.Info("loaded %d rows", 3) }, "loaded 3 rows\n"},
		{"warn", func(l *ConsoleLogger) { l.Warn("quarantined %s", "a.csv") }, "[WARN] quarantined a.csv\n"},
		{"error", func(l *ConsoleLogger) { l.Error("sink down") }, "[ERROR] sink down\n"},
		{"percent without args", func(l *ConsoleLogger) { l.Info("100%") }, "100%\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewConsoleLoggerTo(&buf, false, false))
			if buf.String() != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, buf.String())
			}
		})
	}
}

func TestConsoleLogger_Colored(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLoggerTo(&buf, false, true)
	logger.Warn("careful")

	out := buf.String()
	if !strings.Contains(out, "\x1b[") {
		t.Errorf("Expected ANSI escape in colored output, got %q", out)
	}
	if !strings.HasSuffix(out, "careful\n") {
		t.Errorf("Expected message suffix, got %q", out)
	}
}

func TestConsoleLogger_DefaultsToStderr(t *testing.T) {
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	logger := NewConsoleLogger(false)
	logger.Error("error message: %s", "value")

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	io.Copy(&buf, r)

	expected := "[ERROR] error message: value\n"
	if buf.String() != expected {
		t.Errorf("Expected %q, got %q", expected, buf.String())
	}
}

func TestConsoleLogger_ConcurrentSafety(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLoggerTo(&buf, true, false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger.Info("message %d", id)
			logger.Verbose("verbose %d", id)
			logger.Warn("warn %d", id)
			logger.Error("error %d", id)
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 40 {
		t.Errorf("Expected 40 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if !strings.Contains(line, "message") && !strings.Contains(line, "verbose") &&
			!strings.Contains(line, "warn") && !strings.Contains(line, "error") {
			t.Errorf("Line %d appears corrupted: %q", i, line)
		}
	}
}

func TestNullLogger_ConcurrentSafety(t *testing.T) {
	logger := NewNullLogger()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger.Info("message %d", id)
			logger.Verbose("verbose %d", id)
			logger.Warn("warn %d", id)
			logger.Error("error %d", id)
		}(i)
	}

	wg.Wait()
}

func TestCaptureLogger(t *testing.T) {
	logger := NewCaptureLogger()
	logger.Info("run started")
	logger.Warn("quarantined %s: %s", "video_x.csv", "bad header")

	if !logger.Contains("warn", "video_x.csv") {
		t.Error("expected warn entry mentioning video_x.csv")
	}
	if logger.Contains("error", "video_x.csv") {
		t.Error("did not expect an error entry")
	}
	if n := len(logger.Entries()); n != 2 {
		t.Errorf("Expected 2 entries, got %d", n)
	}
}

func BenchmarkConsoleLogger_VerboseDisabled(b *testing.B) {
	logger := NewConsoleLoggerTo(io.Discard, false, false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Verbose("benchmark message %d", i)
	}
}

// Example demonstrates NullLogger usage
func ExampleNullLogger() {
	logger := NewNullLogger()
	logger.Info("This message is discarded")
	logger.Warn("This too")
	logger.Error("And this")
	fmt.Println("Done")
	// Output:
	// Done
}

func ExampleConsoleLogger() {
	logger := NewConsoleLoggerTo(os.Stdout, true, false)
	logger.Info("Starting run")
	logger.Verbose("Discovered %d files", 2)
	logger.Warn("Quarantined %s", "video_bad.csv")
	// Output:
	// Starting run
	// [VERBOSE] Discovered 2 files
	// [WARN] Quarantined video_bad.csv
}
