// Package logging provides the leveled, bracketed-prefix logger used
// by the server and client orchestrators, generalizing the teacher's
// fmt.Printf("[%s] ...", identity) convention.
package logging

import (
	"log"
	"os"
)

// Logger writes leveled lines prefixed with an optional identity tag,
// e.g. "[user_1a2b3c4d] authenticated".
type Logger struct {
	tag   string
	inner *log.Logger
}

// New creates a root logger writing to stderr.
func New() *Logger {
	return &Logger{inner: log.New(os.Stderr, "", log.LstdFlags)}
}

// With returns a child logger that prefixes every line with tag,
// without mutating the receiver.
func (l *Logger) With(tag string) *Logger {
	return &Logger{tag: tag, inner: l.inner}
}

func (l *Logger) prefix() string {
	if l.tag == "" {
		return ""
	}
	return "[" + l.tag + "] "
}

// Info logs an informational line.
func (l *Logger) Info(format string, args ...any) {
	l.inner.Printf("INFO  "+l.prefix()+format, args...)
}

// Warn logs a warning line.
func (l *Logger) Warn(format string, args ...any) {
	l.inner.Printf("WARN  "+l.prefix()+format, args...)
}

// Error logs an error line.
func (l *Logger) Error(format string, args ...any) {
	l.inner.Printf("ERROR "+l.prefix()+format, args...)
}
