package ammo

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// phantomDecoder reads size-prefixed chunks: "<size> [tag]\n<payload>". A
// zero-size chunk ends the pass just like end of file.
type phantomDecoder struct{}

func (phantomDecoder) reset() {}

func (phantomDecoder) next(r *offsetReader) (Missile, error) {
	for {
		start := r.off
		line, err := r.readLine()
		if err != nil {
			return Missile{}, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		size, err := strconv.Atoi(fields[0])
		if err != nil || size < 0 {
			return Missile{}, &FormatError{Offset: start, Reason: fmt.Sprintf("bad chunk header %q", line)}
		}
		if size == 0 {
			return Missile{}, io.EOF
		}
		payload, err := r.readN(size)
		if err != nil {
			return Missile{}, &FormatError{
				Offset: start,
				Reason: fmt.Sprintf("chunk size %d, but only %d bytes left", size, len(payload)),
			}
		}
		var tag string
		if len(fields) > 1 {
			tag = fields[1]
		}
		return Missile{Payload: payload, Tag: tag}, nil
	}
}

// lineDecoder turns every non-empty line into a payload.
type lineDecoder struct{}

func (lineDecoder) reset() {}

func (lineDecoder) next(r *offsetReader) (Missile, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return Missile{}, err
		}
		if line == "" {
			continue
		}
		return Missile{Payload: []byte(line)}, nil
	}
}

// caseLineDecoder reads "tag<TAB>payload" lines.
type caseLineDecoder struct{}

func (caseLineDecoder) reset() {}

func (caseLineDecoder) next(r *offsetReader) (Missile, error) {
	for {
		start := r.off
		line, err := r.readLine()
		if err != nil {
			return Missile{}, err
		}
		if line == "" {
			continue
		}
		tag, payload, ok := strings.Cut(line, "\t")
		if !ok {
			return Missile{}, &FormatError{Offset: start, Reason: "case line without a tab"}
		}
		return Missile{Payload: []byte(payload), Tag: tag}, nil
	}
}

// accessLogDecoder replays GET requests from a common log format file. Other
// lines are skipped; the first skip is a warning, the rest are debug logs.
type accessLogDecoder struct {
	headers  []string
	log      *zap.Logger
	skipped  int
	reported bool
}

func (d *accessLogDecoder) reset() {}

func (d *accessLogDecoder) next(r *offsetReader) (Missile, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			if err == io.EOF && d.skipped > 0 && !d.reported {
				d.reported = true
				d.log.Info("access log lines skipped", zap.Int("skipped", d.skipped))
			}
			return Missile{}, err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		req, reason := parseAccessLine(line)
		if reason != "" {
			d.skip(line, reason)
			continue
		}
		req.Headers = d.headers
		return Missile{Payload: req.Bytes()}, nil
	}
}

func (d *accessLogDecoder) skip(line, reason string) {
	d.skipped++
	if d.skipped == 1 {
		d.log.Warn("skipped access log line", zap.String("line", line), zap.String("reason", reason))
		return
	}
	d.log.Debug("skipped access log line", zap.String("line", line), zap.String("reason", reason))
}

func parseAccessLine(line string) (Request, string) {
	parts := strings.Split(line, `"`)
	if len(parts) < 2 {
		return Request{}, "no quoted request"
	}
	fields := strings.Fields(parts[1])
	if len(fields) != 3 {
		return Request{}, "malformed request"
	}
	method, uri, proto := fields[0], fields[1], fields[2]
	_, ver, ok := strings.Cut(proto, "/")
	if !ok {
		return Request{}, "malformed protocol"
	}
	if method != "GET" {
		return Request{}, "unsupported method " + method
	}
	return Request{Method: method, URI: uri, Version: ver}, ""
}

// uriDecoder reads "uri [tag]" lines. "[Name: value]" lines set a header for
// every following request.
type uriDecoder struct {
	defaults []string
	version  string
	headers  headerSet
}

func (d *uriDecoder) reset() {
	d.headers = newHeaderSet(d.defaults)
}

func (d *uriDecoder) next(r *offsetReader) (Missile, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return Missile{}, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if h, ok := bracketHeader(line); ok {
			d.headers.set(h)
			continue
		}
		fields := strings.Fields(line)
		req := Request{Method: "GET", URI: fields[0], Version: d.version, Headers: d.headers.list()}
		var tag string
		if len(fields) > 1 {
			tag = fields[1]
		}
		return Missile{Payload: req.Bytes(), Tag: tag}, nil
	}
}

// uriPostDecoder reads "size uri [tag]" headers each followed by a body of
// size bytes, producing POST requests.
type uriPostDecoder struct {
	defaults []string
	version  string
	headers  headerSet
}

func (d *uriPostDecoder) reset() {
	d.headers = newHeaderSet(d.defaults)
}

func (d *uriPostDecoder) next(r *offsetReader) (Missile, error) {
	for {
		start := r.off
		line, err := r.readLine()
		if err != nil {
			return Missile{}, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if h, ok := bracketHeader(line); ok {
			d.headers.set(h)
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return Missile{}, &FormatError{Offset: start, Reason: fmt.Sprintf("bad uripost header %q", line)}
		}
		size, err := strconv.Atoi(fields[0])
		if err != nil || size < 0 {
			return Missile{}, &FormatError{Offset: start, Reason: fmt.Sprintf("bad body size in %q", line)}
		}
		body, err := r.readN(size)
		if err != nil {
			return Missile{}, &FormatError{
				Offset: start,
				Reason: fmt.Sprintf("body size %d, but only %d bytes left", size, len(body)),
			}
		}
		req := Request{Method: "POST", URI: fields[1], Version: d.version, Headers: d.headers.list(), Body: body}
		var tag string
		if len(fields) > 2 {
			tag = fields[2]
		}
		return Missile{Payload: req.Bytes(), Tag: tag}, nil
	}
}

func bracketHeader(line string) (string, bool) {
	if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
		return "", false
	}
	return strings.TrimSpace(line[1 : len(line)-1]), true
}
