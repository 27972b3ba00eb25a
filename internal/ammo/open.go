package ammo

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Opener reopens the ammo from its start. Looping over a file is done by
// opening it again rather than seeking, so compressed ammo loops too.
type Opener func() (io.ReadCloser, error)

// FileOpener opens path, transparently decompressing gzip files.
func FileOpener(path string) Opener {
	return func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		br := bufio.NewReader(f)
		magic, _ := br.Peek(2)
		if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
			zr, err := gzip.NewReader(br)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("ammo: open %s: %w", path, err)
			}
			return &stackedCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
		}
		return &stackedCloser{Reader: br, closers: []io.Closer{f}}, nil
	}
}

// StringOpener serves an in-memory document.
func StringOpener(doc string) Opener {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(doc)), nil
	}
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Identity describes an ammo file for cache keys: any edit to the file
// changes its size or modification time.
type Identity struct {
	Path    string
	Size    int64
	ModTime int64
}

// String renders the identity as a stable key fragment.
func (id Identity) String() string {
	return fmt.Sprintf("%s|%d|%d", id.Path, id.Size, id.ModTime)
}

// FileIdentity resolves path (following symlinks) and stats it.
func FileIdentity(path string) (Identity, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Identity{}, err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	st, err := os.Stat(abs)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Path: abs, Size: st.Size(), ModTime: st.ModTime().UnixNano()}, nil
}

// offsetReader tracks the byte offset of everything read through it.
type offsetReader struct {
	r   *bufio.Reader
	off int64
}

func newOffsetReader(r io.Reader) *offsetReader {
	return &offsetReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// readLine returns the next line without its line ending. A last line without
// a trailing newline is returned with a nil error; io.EOF comes after it.
func (o *offsetReader) readLine() (string, error) {
	line, err := o.r.ReadString('\n')
	o.off += int64(len(line))
	if err == io.EOF && line != "" {
		err = nil
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, err
}

// readN reads exactly n bytes. The buffer grows with the data actually read,
// so a bogus size fails at end of input instead of allocating up front.
func (o *offsetReader) readN(n int) ([]byte, error) {
	var buf bytes.Buffer
	k, err := io.CopyN(&buf, o.r, int64(n))
	o.off += k
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return buf.Bytes(), err
}
