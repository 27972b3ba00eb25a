package ammo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Marker derives a case tag from a payload that carries none.
type Marker func(payload []byte) string

// NewMarker returns the marker for kind:
//
//	"uniq"   a fresh random id per missile
//	"uri"    the request path with "/" replaced by "_"
//	"<n>"    like "uri" but only the first n path segments
//	"0", ""  no tag
//
// With enumerate set, "#<seq>" is appended to every tag.
func NewMarker(kind string, enumerate bool) (Marker, error) {
	var m Marker
	switch kind {
	case "", "0":
		m = func([]byte) string { return "" }
	case "uniq":
		m = func([]byte) string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	case "uri":
		m = uriMarker(-1)
	default:
		n, err := strconv.Atoi(kind)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("ammo: no such marker %q", kind)
		}
		m = uriMarker(n)
	}
	if !enumerate {
		return m, nil
	}
	seq := 0
	base := m
	return func(p []byte) string {
		tag := fmt.Sprintf("%s#%d", base(p), seq)
		seq++
		return tag
	}, nil
}

func uriMarker(limit int) Marker {
	return func(payload []byte) string {
		uri := RequestURI(payload)
		path, _, _ := strings.Cut(uri, "?")
		parts := strings.Split(path, "/")
		if limit >= 0 && limit+1 < len(parts) {
			parts = parts[:limit+1]
		}
		return strings.Join(parts, "_")
	}
}
