package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// ConsoleLogger writes log messages to stderr.
// Safe for concurrent use by multiple goroutines.
type ConsoleLogger struct {
	verbose bool
	out     io.Writer
	mu      sync.Mutex

	verbosePrefix string
	warnPrefix    string
	errorPrefix   string
}

// NewConsoleLogger creates a ConsoleLogger writing to stderr.
// If verbose is false, Verbose() calls are no-ops. Level prefixes are
// coloured only when stderr is a terminal and NO_COLOR is unset.
func NewConsoleLogger(verbose bool) *ConsoleLogger {
	colored := term.IsTerminal(int(os.Stderr.Fd())) && !color.NoColor
	return NewConsoleLoggerTo(os.Stderr, verbose, colored)
}

// NewConsoleLoggerTo creates a ConsoleLogger writing to out.
func NewConsoleLoggerTo(out io.Writer, verbose, colored bool) *ConsoleLogger {
	l := &ConsoleLogger{
		verbose:       verbose,
		out:           out,
		verbosePrefix: "[VERBOSE] ",
		warnPrefix:    "[WARN] ",
		errorPrefix:   "[ERROR] ",
	}
	if colored {
		l.verbosePrefix = paint(color.FgHiBlack, "[VERBOSE]") + " "
		l.warnPrefix = paint(color.FgYellow, "[WARN]") + " "
		l.errorPrefix = paint(color.FgRed, "[ERROR]") + " "
	}
	return l
}

func paint(attr color.Attribute, s string) string {
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}

// Verbose logs detailed diagnostic information if verbose mode is enabled.
func (l *ConsoleLogger) Verbose(format string, args ...interface{}) {
	if !l.verbose {
		return
	}
	l.write(l.verbosePrefix, format, args)
}

// Info logs informational messages about normal operations.
func (l *ConsoleLogger) Info(format string, args ...interface{}) {
	l.write("", format, args)
}

// Warn logs recoverable problems.
func (l *ConsoleLogger) Warn(format string, args ...interface{}) {
	l.write(l.warnPrefix, format, args)
}

// Error logs error messages.
func (l *ConsoleLogger) Error(format string, args ...interface{}) {
	l.write(l.errorPrefix, format, args)
}

func (l *ConsoleLogger) write(prefix, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(args) > 0 {
		fmt.Fprintf(l.out, prefix+format+"\n", args...)
	} else {
		fmt.Fprint(l.out, prefix+format+"\n")
	}
}
