// Package monitoring holds the process-wide diagnostic logger used by
// packages that have no injected *log.Logger.
package monitoring

import (
	"io"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be replaced with SetLogger, for example to silence noisy tests.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. A nil f installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetOutput routes Logf through a new *log.Logger writing to w with the
// standard flags and the given prefix.
func SetOutput(w io.Writer, prefix string) {
	l := log.New(w, prefix, log.LstdFlags)
	Logf = l.Printf
}

// OrDefault returns l, or a logger that forwards to Logf when l is nil.
// Long-running components accept an optional *log.Logger and use this to
// fall back to the package logger.
func OrDefault(l *log.Logger) *log.Logger {
	if l != nil {
		return l
	}
	return log.New(logfWriter{}, "", 0)
}

type logfWriter struct{}

func (logfWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > 0 && p[n-1] == '\n' {
		p = p[:n-1]
	}
	Logf("%s", p)
	return n, nil
}
