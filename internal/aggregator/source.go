package aggregator

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Source yields raw result records as a generator produces them.
type Source interface {
	// Read returns the records that became available since the previous call.
	// It never waits for new data.
	Read() ([]Record, error)
	Close() error
}

// Flusher is a Source that buffers incomplete input. Flush hands out what is
// left once the producer is known to be done.
type Flusher interface {
	Flush() ([]Record, error)
}

// DefaultTailChunk bounds how much of a result file one Read consumes.
const DefaultTailChunk = 8 << 20

// FileTail follows a growing result file by offset. The file does not have to
// exist before the first Read.
type FileTail struct {
	Path string
	// Chunk is the maximum number of bytes read per call.
	Chunk int
	Log   *zap.Logger

	f       *os.File
	partial []byte
	buf     []byte
	skipped int64
}

// NewFileTail returns a tail over path.
func NewFileTail(path string, log *zap.Logger) *FileTail {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileTail{Path: path, Chunk: DefaultTailChunk, Log: log.With(zap.String("component", "phout"))}
}

func (t *FileTail) Read() ([]Record, error) {
	if t.f == nil {
		f, err := os.Open(t.Path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		t.f = f
	}
	if t.buf == nil {
		chunk := t.Chunk
		if chunk <= 0 {
			chunk = DefaultTailChunk
		}
		t.buf = make([]byte, chunk)
	}

	n, err := io.ReadFull(t.f, t.buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	data := append(t.partial, t.buf[:n]...)
	last := bytes.LastIndexByte(data, '\n')
	if last < 0 {
		t.partial = data
		return nil, nil
	}
	t.partial = append([]byte(nil), data[last+1:]...)
	return t.parse(data[:last]), nil
}

func (t *FileTail) parse(data []byte) []Record {
	var out []Record
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		rec, err := ParseRecord(string(line))
		if err != nil {
			t.skipped++
			t.Log.Warn("skipping result line", zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Flush parses a trailing line that never got its newline.
func (t *FileTail) Flush() ([]Record, error) {
	if len(t.partial) == 0 {
		return nil, nil
	}
	data := t.partial
	t.partial = nil
	return t.parse(data), nil
}

// Skipped is the number of malformed lines seen so far.
func (t *FileTail) Skipped() int64 { return t.skipped }

func (t *FileTail) Close() error {
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}

// Queue is an in-process record channel. Producers never wait on the
// consumer; the backlog grows until the next Read.
type Queue struct {
	mu      sync.Mutex
	pending []Record
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a record. Safe for concurrent use.
func (q *Queue) Push(r Record) {
	q.mu.Lock()
	q.pending = append(q.pending, r)
	q.mu.Unlock()
}

func (q *Queue) Read() ([]Record, error) {
	q.mu.Lock()
	out := q.pending
	q.pending = nil
	q.mu.Unlock()
	return out, nil
}

// Len is the number of records waiting to be read.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Close() error { return nil }
