package ammo

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
)

// Request is a plain HTTP/1.x request rendered into a missile payload.
type Request struct {
	Method  string
	URI     string
	Version string
	Headers []string
	Body    []byte
}

// Bytes renders the request as it goes on the wire. Headers are emitted in
// name order so identical inputs always give identical payloads.
func (r Request) Bytes() []byte {
	version := r.Version
	if version == "" {
		version = "1.1"
	}
	hs := newHeaderSet(r.Headers)
	if len(r.Body) > 0 {
		hs.set("Content-Length: " + strconv.Itoa(len(r.Body)))
	}

	var b bytes.Buffer
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.URI)
	b.WriteString(" HTTP/")
	b.WriteString(version)
	b.WriteString("\r\n")
	for _, h := range hs.list() {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(r.Body)
	return b.Bytes()
}

// headerSet keeps one "Name: value" line per case-insensitive name.
type headerSet map[string]string

func newHeaderSet(lines []string) headerSet {
	hs := headerSet{}
	for _, l := range lines {
		hs.set(l)
	}
	return hs
}

func (hs headerSet) set(line string) {
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	hs[strings.ToLower(name)] = name + ": " + strings.TrimSpace(value)
}

func (hs headerSet) list() []string {
	keys := make([]string, 0, len(hs))
	for k := range hs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, hs[k])
	}
	return out
}

// RequestURI extracts the request target from the first line of an HTTP
// payload, or "" if the payload does not look like a request.
func RequestURI(payload []byte) string {
	first := payload
	if i := bytes.IndexByte(payload, '\n'); i >= 0 {
		first = payload[:i]
	}
	parts := strings.SplitN(strings.TrimRight(string(first), "\r"), " ", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
