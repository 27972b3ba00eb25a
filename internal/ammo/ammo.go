// Package ammo reads request payloads ("missiles") from files or in-memory
// lists, loops over them under loop and count limits, and tags each one with
// a case marker.
package ammo

import (
	"errors"
	"fmt"
)

// ErrLimitReached is returned by Source.Next once a loop or count limit has
// been reached. Like io.EOF it marks the normal end of the stream.
var ErrLimitReached = errors.New("ammo: limit reached")

// Missile is one request payload with its optional case tag.
type Missile struct {
	Payload []byte
	Tag     string
}

// Source produces missiles until it returns ErrLimitReached or a real error.
type Source interface {
	Next() (Missile, error)
	// Loops is the number of completed passes over the underlying ammo.
	Loops() int
	// Count is the number of missiles returned so far.
	Count() int
	Close() error
}

// FormatError reports malformed ammo at a byte offset of the source file.
type FormatError struct {
	Offset int64
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("ammo: %s at byte %d", e.Reason, e.Offset)
}

// Progress receives ammo counters as they change.
type Progress interface {
	AmmoProgress(count, loops int)
}

type nopProgress struct{}

func (nopProgress) AmmoProgress(int, int) {}
