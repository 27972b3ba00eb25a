// Package stpd writes and reads schedule artifacts: every missile paired with
// the millisecond offset it must be fired at.
package stpd

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"loadtank/internal/ammo"
)

// DiskLimitError is returned when an artifact would grow past its size limit.
type DiskLimitError struct {
	Limit    int64
	Required int64
}

func (e *DiskLimitError) Error() string {
	return fmt.Sprintf("stpd: artifact needs %d bytes, limit is %d", e.Required, e.Limit)
}

// Shot is one record of an artifact.
type Shot struct {
	TS      int64
	Payload []byte
	Tag     string
}

// Writer writes artifact records. Close writes the terminating "0" record.
type Writer struct {
	bw *bufio.Writer
	lw *limitWriter
}

// NewWriter wraps w. A positive limit caps the artifact size in bytes.
func NewWriter(w io.Writer, limit int64) *Writer {
	lw := &limitWriter{w: w, limit: limit}
	return &Writer{bw: bufio.NewWriterSize(lw, 256*1024), lw: lw}
}

// Write appends one shot.
func (w *Writer) Write(ts int64, m ammo.Missile) error {
	if _, err := w.bw.WriteString(header(ts, m)); err != nil {
		return err
	}
	if _, err := w.bw.Write(m.Payload); err != nil {
		return err
	}
	return w.bw.WriteByte('\n')
}

// Close terminates the artifact and flushes it. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	if _, err := w.bw.WriteString("0\n"); err != nil {
		return err
	}
	return w.bw.Flush()
}

// Written is the number of bytes that reached the underlying writer.
func (w *Writer) Written() int64 { return w.lw.n }

func header(ts int64, m ammo.Missile) string {
	h := strconv.Itoa(len(m.Payload)) + " " + strconv.FormatInt(ts, 10)
	if m.Tag != "" {
		h += " " + m.Tag
	}
	return h + "\n"
}

// RecordSize is the number of bytes Write uses for the shot.
func RecordSize(ts int64, m ammo.Missile) int64 {
	return int64(len(header(ts, m)) + len(m.Payload) + 1)
}

type limitWriter struct {
	w     io.Writer
	limit int64
	n     int64
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.limit > 0 && l.n+int64(len(p)) > l.limit {
		return 0, &DiskLimitError{Limit: l.limit, Required: l.n + int64(len(p))}
	}
	n, err := l.w.Write(p)
	l.n += int64(n)
	return n, err
}

// Reader reads artifact records back.
type Reader struct {
	r   *bufio.Reader
	off int64
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 256*1024)}
}

// Next returns the next shot, or io.EOF at the terminator or end of input.
func (r *Reader) Next() (Shot, error) {
	for {
		start := r.off
		line, err := r.r.ReadString('\n')
		r.off += int64(len(line))
		if err != nil && line == "" {
			return Shot{}, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			if err != nil {
				return Shot{}, err
			}
			continue
		}
		size, err := strconv.Atoi(fields[0])
		if err != nil || size < 0 {
			return Shot{}, &ammo.FormatError{Offset: start, Reason: fmt.Sprintf("bad stpd header %q", strings.TrimSpace(line))}
		}
		if size == 0 {
			return Shot{}, io.EOF
		}
		if len(fields) < 2 {
			return Shot{}, &ammo.FormatError{Offset: start, Reason: "stpd header without timestamp"}
		}
		ts, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return Shot{}, &ammo.FormatError{Offset: start, Reason: fmt.Sprintf("bad timestamp %q", fields[1])}
		}
		var payload bytes.Buffer
		n, err := io.CopyN(&payload, r.r, int64(size))
		r.off += n
		if err != nil {
			return Shot{}, &ammo.FormatError{
				Offset: start,
				Reason: fmt.Sprintf("missile of %d bytes truncated to %d", size, n),
			}
		}
		shot := Shot{TS: ts, Payload: payload.Bytes()}
		if len(fields) > 2 {
			shot.Tag = fields[2]
		}
		return shot, nil
	}
}
