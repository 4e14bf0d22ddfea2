package trackfeed

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/fsutil"
	"github.com/banshee-data/footfall.report/internal/monitoring"
)

// maxLineSize bounds one JSON frame. Crowded scenes with long string ids
// stay well below it.
const maxLineSize = 4 << 20

// StdinPath selects standard input in OpenJSONL.
const StdinPath = "-"

// JSONLSource reads newline-delimited wire frames, typically a recording
// replayed from a file or a tracker piped into standard input.
//
// Lines are read on a background goroutine so that Next returns as soon as
// its context is cancelled, even while the reader is blocked. A goroutine
// blocked on standard input is released only when the input ends.
type JSONLSource struct {
	rc       io.Closer
	sc       *bufio.Scanner
	minScore float64
	logger   *log.Logger
	line     int

	start sync.Once
	lines chan scanResult
	done  chan struct{}
	stop  sync.Once
}

// scanResult is one line, or the error that ended the input.
type scanResult struct {
	data []byte
	err  error
}

// OpenJSONL opens path through fs, or standard input when path is "-".
func OpenJSONL(fs fsutil.FileSystem, path string, opts Options) (*JSONLSource, error) {
	if path == StdinPath {
		return NewJSONLSource(io.NopCloser(os.Stdin), opts), nil
	}
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open track feed: %w", err)
	}
	return NewJSONLSource(f, opts), nil
}

// NewJSONLSource reads frames from r. Close closes r.
func NewJSONLSource(r io.ReadCloser, opts Options) *JSONLSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	return &JSONLSource{
		rc:       r,
		sc:       sc,
		minScore: opts.MinScore,
		logger:   monitoring.OrDefault(opts.Logger),
		lines:    make(chan scanResult),
		done:     make(chan struct{}),
	}
}

// scan feeds lines to Next until the input ends or the source is closed.
func (s *JSONLSource) scan() {
	defer close(s.lines)
	for s.sc.Scan() {
		select {
		case s.lines <- scanResult{data: bytes.Clone(s.sc.Bytes())}:
		case <-s.done:
			return
		}
	}
	if err := s.sc.Err(); err != nil {
		select {
		case s.lines <- scanResult{err: err}:
		case <-s.done:
		}
	}
}

// Next returns the next frame. Blank lines are ignored; a malformed line is
// reported as ErrSkipFrame.
func (s *JSONLSource) Next(ctx context.Context) (counting.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return counting.Frame{}, err
		}
		s.start.Do(func() { go s.scan() })
		var (
			r  scanResult
			ok bool
		)
		select {
		case <-ctx.Done():
			return counting.Frame{}, ctx.Err()
		case r, ok = <-s.lines:
		}
		if !ok {
			return counting.Frame{}, io.EOF
		}
		if r.err != nil {
			return counting.Frame{}, fmt.Errorf("read track feed line %d: %w", s.line+1, r.err)
		}
		s.line++
		data := bytes.TrimSpace(r.data)
		if len(data) == 0 {
			continue
		}
		f, err := Decode(data, s.minScore)
		if err != nil {
			s.logger.Printf("trackfeed: line %d: %v", s.line, err)
			return counting.Frame{}, fmt.Errorf("%w: line %d: %v", ErrSkipFrame, s.line, err)
		}
		return f, nil
	}
}

// Close stops the reader goroutine and releases the underlying reader.
func (s *JSONLSource) Close() error {
	s.stop.Do(func() { close(s.done) })
	return s.rc.Close()
}
