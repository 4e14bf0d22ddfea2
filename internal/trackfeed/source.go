// Package trackfeed adapts the output of an external detector and tracker
// into counting frames.
//
// A Source yields one counting.Frame per call to Next. io.EOF ends the run
// gracefully, ErrSkipFrame marks a frame that could not be read and must be
// ignored, and a context error means the operator asked to quit.
package trackfeed

import (
	"context"
	"errors"
	"log"

	"github.com/banshee-data/footfall.report/internal/counting"
)

// ErrSkipFrame wraps transient read failures. The frame is dropped without
// touching any counting state.
var ErrSkipFrame = errors.New("skip frame")

// Source produces frames in capture order.
type Source interface {
	Next(ctx context.Context) (counting.Frame, error)
	Close() error
}

// Options are shared by the source constructors.
type Options struct {
	// MinScore drops tracks whose detector confidence is below it.
	MinScore float64

	// Logger receives diagnostics. Nil uses the monitoring package logger.
	Logger *log.Logger
}
