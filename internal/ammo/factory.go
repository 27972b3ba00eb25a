package ammo

import (
	"bufio"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Ammo types understood by New.
const (
	TypePhantom   = "phantom"
	TypeLine      = "line"
	TypeCaseLine  = "caseline"
	TypeAccessLog = "access"
	TypeURI       = "uri"
	TypeURIPost   = "uripost"
)

// Options describes where ammo comes from and how it is tagged and limited.
type Options struct {
	// File is the ammo path. Ignored when URIs is not empty.
	File string
	Type string
	// URIs is an in-memory list of request targets.
	URIs        []string
	Headers     []string
	HTTPVersion string

	Limits      Limits
	Marker      string
	Enumerate   bool
	ChosenCases []string
}

// New builds the source described by opts.
func New(opts Options, progress Progress, log *zap.Logger) (Source, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if progress == nil {
		progress = nopProgress{}
	}
	mark, err := NewMarker(opts.Marker, opts.Enumerate)
	if err != nil {
		return nil, err
	}

	l := &looper{
		limits:   opts.Limits,
		mark:     mark,
		accept:   caseFilter(opts.ChosenCases),
		progress: progress,
		log:      log.With(zap.String("component", "ammo")),
	}

	if len(opts.URIs) > 0 {
		l.open = StringOpener(strings.Join(opts.URIs, "\n"))
		l.dec = &uriDecoder{defaults: opts.Headers, version: opts.HTTPVersion}
		return l, nil
	}
	if opts.File == "" {
		return nil, fmt.Errorf("ammo: neither an ammo file nor uris configured")
	}

	l.open = FileOpener(opts.File)
	kind := opts.Type
	if kind == "" || kind == TypePhantom {
		if kind, err = DetectType(l.open); err != nil {
			return nil, err
		}
		if kind != TypePhantom {
			l.log.Info("ammo does not start with a chunk size, reading it as uri-style", zap.String("file", opts.File))
		}
	}

	switch kind {
	case TypePhantom:
		l.dec = phantomDecoder{}
	case TypeLine:
		l.dec = lineDecoder{}
	case TypeCaseLine:
		l.dec = caseLineDecoder{}
	case TypeAccessLog:
		l.dec = &accessLogDecoder{headers: opts.Headers, log: l.log}
	case TypeURI:
		l.dec = &uriDecoder{defaults: opts.Headers, version: opts.HTTPVersion}
	case TypeURIPost:
		l.dec = &uriPostDecoder{defaults: opts.Headers, version: opts.HTTPVersion}
	default:
		return nil, fmt.Errorf("ammo: unknown ammo type %q", kind)
	}
	return l, nil
}

// DetectType peeks at the first non-blank byte: chunked phantom ammo always
// starts with a digit, anything else is taken for a uri list.
func DetectType(open Opener) (string, error) {
	rc, err := open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	br := bufio.NewReader(rc)
	for {
		b, err := br.ReadByte()
		if err != nil {
			// Empty ammo; let the phantom reader report it.
			return TypePhantom, nil
		}
		switch {
		case b == ' ' || b == '\t' || b == '\r' || b == '\n':
			continue
		case b >= '0' && b <= '9':
			return TypePhantom, nil
		default:
			return TypeURI, nil
		}
	}
}

func caseFilter(cases []string) func(string) bool {
	if len(cases) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(cases))
	for _, c := range cases {
		set[c] = struct{}{}
	}
	return func(tag string) bool {
		_, ok := set[tag]
		return ok
	}
}
