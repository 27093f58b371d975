// Package rendezvouslog provides the bracketed, prefixed loggers this
// system's components use, plus a Security-tagged line that also bumps a
// Prometheus counter so a signature failure or replay attempt is never
// just text nobody greps for.
package rendezvouslog

import (
	"log"
	"os"

	"github.com/dayandersen/brongnal/internal/metrics"
)

// Logger wraps a standard *log.Logger with a Security method that is
// additionally counted in metrics.
type Logger struct {
	*log.Logger
}

// New returns a Logger with the given bracketed prefix, e.g. "[x3dh] ".
func New(prefix string) *Logger {
	return &Logger{Logger: log.New(os.Stdout, prefix, log.Ldate|log.Ltime|log.LUTC)}
}

// Security logs a SECURITY-tagged line and increments the security event
// counter. Used for signature failures, OTK replay, and other conditions
// an operator should be alerted to, not just informed of.
func (l *Logger) Security(format string, args ...any) {
	l.Printf("SECURITY: "+format, args...)
	metrics.SecurityEventsTotal.Inc()
}
