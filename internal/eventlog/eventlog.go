// Package eventlog exports the counting ledger as the CSV consumed by the
// dashboard, and reads it back.
//
// Every flush rewrites the complete file from the ledger, so the file on disk
// is always a full, consistent snapshot of the run so far.
package eventlog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/fsutil"
)

// Header is the fixed first row of every log.
var Header = []string{"Move In", "In Time", "Move Out", "Out Time", "Stay Duration"}

// TimeLayout renders event timestamps at minute resolution.
const TimeLayout = "2006-01-02 15:04"

// ErrBadHeader is returned by Read when the first row is not Header.
var ErrBadHeader = errors.New("eventlog: unexpected header")

// Row is one exported line. Empty strings are padding.
type Row struct {
	MoveIn       string
	InTime       string
	MoveOut      string
	OutTime      string
	StayDuration string
}

func (r Row) fields() []string {
	return []string{r.MoveIn, r.InTime, r.MoveOut, r.OutTime, r.StayDuration}
}

// Rows lays l out as positional rows. The shorter column is padded with
// empty values so the result has l.Rows() entries.
func Rows(l counting.Ledger, loc *time.Location) []Row {
	if loc == nil {
		loc = time.Local
	}
	rows := make([]Row, l.Rows())
	for i, e := range l.Enters {
		rows[i].MoveIn = strconv.Itoa(e.Seq)
		rows[i].InTime = e.Time.In(loc).Format(TimeLayout)
	}
	for i, x := range l.Exits {
		rows[i].MoveOut = strconv.Itoa(x.Seq)
		rows[i].OutTime = x.Time.In(loc).Format(TimeLayout)
		rows[i].StayDuration = strconv.FormatFloat(x.Dwell, 'f', 2, 64)
	}
	return rows
}

// Encode writes the header and every row of l to w. All fields are quoted
// and lines end with CRLF.
func Encode(w io.Writer, l counting.Ledger, loc *time.Location) error {
	var buf bytes.Buffer
	writeRecord(&buf, Header)
	for _, r := range Rows(l, loc) {
		writeRecord(&buf, r.fields())
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func writeRecord(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteString("\r\n")
}

// Read parses a log produced by Encode.
func Read(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty log", ErrBadHeader)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range Header {
		if head[i] != Header[i] {
			return nil, fmt.Errorf("%w: column %d is %q", ErrBadHeader, i, head[i])
		}
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, Row{rec[0], rec[1], rec[2], rec[3], rec[4]})
	}
}

// Writer replaces a log file with a fresh snapshot on every Flush. Data is
// written to a sibling temporary file and renamed over the target, so
// readers never observe a partially written log.
type Writer struct {
	fs   fsutil.FileSystem
	path string
	loc  *time.Location

	flushes int
}

// NewWriter returns a Writer for path. A nil fs uses the OS filesystem and a
// nil loc renders timestamps in local time.
func NewWriter(fs fsutil.FileSystem, path string, loc *time.Location) *Writer {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Writer{fs: fs, path: path, loc: loc}
}

// Path returns the log location.
func (w *Writer) Path() string { return w.path }

// Flushes returns the number of completed flushes.
func (w *Writer) Flushes() int { return w.flushes }

// Flush writes the complete log for l.
func (w *Writer) Flush(l counting.Ledger) error {
	if dir := filepath.Dir(w.path); dir != "." {
		if err := w.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}

	tmp := w.path + ".tmp"
	f, err := w.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := Encode(f, l, w.loc); err != nil {
		f.Close()
		w.fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		w.fs.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := w.fs.Rename(tmp, w.path); err != nil {
		w.fs.Remove(tmp)
		return fmt.Errorf("replace %s: %w", w.path, err)
	}
	w.flushes++
	return nil
}
