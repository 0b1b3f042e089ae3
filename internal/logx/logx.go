// Package logx provides the structured, filepath-keyed logger shared by
// every scan-side package: a single value passed by reference instead
// of per-parser log callbacks.
package logx

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	debugStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	fatalStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
)

// Logger writes leveled, filepath-keyed lines to an output stream.
// A nil *Logger is valid and discards everything except Fatal, which
// still terminates the process.
type Logger struct {
	mu        sync.Mutex
	out       io.Writer
	verbose   bool
	veryVerb  bool
	onFatal   func(code int) // overridable for tests; defaults to os.Exit
}

// New creates a Logger writing to w.
func New(w io.Writer, verbose, veryVerbose bool) *Logger {
	return &Logger{out: w, verbose: verbose, veryVerb: veryVerbose, onFatal: os.Exit}
}

func (l *Logger) write(style lipgloss.Style, level, path, msg string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s [%s] %s", style.Render(level), path, msg)
	_, _ = fmt.Fprintln(l.out, line)
}

// Fatal logs and terminates the process with exit code 1. No pool
// drain is attempted.
func (l *Logger) Fatal(path, msg string) {
	l.write(fatalStyle, "FATAL", path, msg)
	exit := os.Exit
	if l != nil && l.onFatal != nil {
		exit = l.onFatal
	}
	exit(1)
}

// Fatalf formats and calls Fatal.
func (l *Logger) Fatalf(path, format string, args ...any) {
	l.Fatal(path, fmt.Sprintf(format, args...))
}

// Error logs a per-file error (read failure, parser failure).
func (l *Logger) Error(path, msg string) { l.write(errorStyle, "ERROR", path, msg) }

// Errorf formats and calls Error.
func (l *Logger) Errorf(path, format string, args ...any) {
	l.Error(path, fmt.Sprintf(format, args...))
}

// Warning logs a recoverable condition (unresolved MIME, unmapped sniff result).
func (l *Logger) Warning(path, msg string) { l.write(warningStyle, "WARN", path, msg) }

// Warningf formats and calls Warning.
func (l *Logger) Warningf(path, format string, args ...any) {
	l.Warning(path, fmt.Sprintf(format, args...))
}

// Debug logs verbose-only diagnostics (the per-job start line). It is
// enabled by either verbose or very-verbose.
func (l *Logger) Debug(path, msg string) {
	if l == nil || !(l.verbose || l.veryVerb) {
		return
	}
	l.write(debugStyle, "DEBUG", path, msg)
}

// Debugf formats and calls Debug.
func (l *Logger) Debugf(path, format string, args ...any) {
	l.Debug(path, fmt.Sprintf(format, args...))
}

// VeryVerbose reports whether --very-verbose was requested. The
// dispatcher gates its per-job start line on its own
// Options.VeryVerbose, which scanrun sets from the same flag.
func (l *Logger) VeryVerbose() bool {
	return l != nil && l.veryVerb
}
