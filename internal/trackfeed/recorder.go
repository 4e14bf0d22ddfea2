package trackfeed

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"go.uber.org/multierr"

	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/fsutil"
)

// Recorder tees every frame a Source yields into a JSONL file that a later
// run can replay with OpenJSONL. Skipped frames are not recorded.
type Recorder struct {
	src Source
	w   io.WriteCloser
	bw  *bufio.Writer
	n   int
}

// NewRecorder wraps src and records to path through fs.
func NewRecorder(src Source, fs fsutil.FileSystem, path string) (*Recorder, error) {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	w, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &Recorder{src: src, w: w, bw: bufio.NewWriter(w)}, nil
}

// Next forwards to the wrapped source and records successful frames.
func (r *Recorder) Next(ctx context.Context) (counting.Frame, error) {
	f, err := r.src.Next(ctx)
	if err != nil {
		return f, err
	}
	line, err := Encode(f)
	if err != nil {
		return f, fmt.Errorf("encode recorded frame: %w", err)
	}
	line = append(line, '\n')
	if _, err := r.bw.Write(line); err != nil {
		return f, fmt.Errorf("write recording: %w", err)
	}
	r.n++
	return f, nil
}

// Frames returns the number of frames recorded so far.
func (r *Recorder) Frames() int { return r.n }

// Close flushes the recording and closes both it and the wrapped source.
func (r *Recorder) Close() error {
	return multierr.Combine(
		r.bw.Flush(),
		r.w.Close(),
		r.src.Close(),
	)
}
