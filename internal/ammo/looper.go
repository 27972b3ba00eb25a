package ammo

import (
	"errors"
	"io"

	"go.uber.org/zap"
)

// decoder reads one record at a time from a pass over the ammo. It returns
// io.EOF when the pass is over.
type decoder interface {
	reset()
	next(r *offsetReader) (Missile, error)
}

// Limits bounds how much ammo a source produces. Zero means unlimited.
type Limits struct {
	Loops int
	Count int
}

// looper drives a decoder over repeated passes of the ammo, applying the
// marker, the case filter and the limits.
type looper struct {
	open   Opener
	dec    decoder
	limits Limits
	mark   Marker
	accept func(tag string) bool

	progress Progress
	log      *zap.Logger

	rc        io.ReadCloser
	br        *offsetReader
	loops     int
	count     int
	passCount int
}

func (l *looper) Next() (Missile, error) {
	if l.limits.Count > 0 && l.count >= l.limits.Count {
		return Missile{}, ErrLimitReached
	}
	for {
		if l.br == nil {
			if l.limits.Loops > 0 && l.loops >= l.limits.Loops {
				return Missile{}, ErrLimitReached
			}
			if err := l.startPass(); err != nil {
				return Missile{}, err
			}
		}

		m, err := l.dec.next(l.br)
		if errors.Is(err, io.EOF) {
			l.endPass()
			if l.passCount == 0 {
				return Missile{}, &FormatError{Offset: 0, Reason: "no ammo found"}
			}
			l.loops++
			l.log.Debug("ammo pass done", zap.Int("loops", l.loops), zap.Int("count", l.count))
			l.progress.AmmoProgress(l.count, l.loops)
			continue
		}
		if err != nil {
			return Missile{}, err
		}

		if m.Tag == "" && l.mark != nil {
			m.Tag = l.mark(m.Payload)
		}
		if l.accept != nil && !l.accept(m.Tag) {
			continue
		}
		l.count++
		l.passCount++
		l.progress.AmmoProgress(l.count, l.loops)
		return m, nil
	}
}

func (l *looper) startPass() error {
	rc, err := l.open()
	if err != nil {
		return err
	}
	l.rc = rc
	l.br = newOffsetReader(rc)
	l.passCount = 0
	l.dec.reset()
	return nil
}

func (l *looper) endPass() {
	if l.rc != nil {
		l.rc.Close()
	}
	l.rc, l.br = nil, nil
}

func (l *looper) Loops() int { return l.loops }

func (l *looper) Count() int { return l.count }

func (l *looper) Close() error {
	if l.rc == nil {
		return nil
	}
	err := l.rc.Close()
	l.rc, l.br = nil, nil
	return err
}
