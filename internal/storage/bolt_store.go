// Package storage keeps a journal of past runs and their windows in a bbolt
// database.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"loadtank/internal/aggregator"
)

const (
	BucketRuns    = "runs"
	BucketWindows = "windows"

	// MaxRuns is how many runs the journal keeps.
	MaxRuns = 100
)

var ErrNotFound = errors.New("storage: run not found")

type Store struct {
	db  *bbolt.DB
	log *zap.Logger
}

// Open opens or creates the journal at path.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	// Initialize Buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketRuns, BucketWindows} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, log: log.With(zap.String("component", "journal"))}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// NewID returns a time-ordered run id, so that key order is start order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Save writes run and drops the oldest runs beyond MaxRuns.
func (s *Store) Save(run Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(BucketRuns))
		if err := runs.Put([]byte(run.ID), data); err != nil {
			return err
		}
		return prune(tx, MaxRuns)
	})
}

func prune(tx *bbolt.Tx, keep int) error {
	runs := tx.Bucket([]byte(BucketRuns))
	windows := tx.Bucket([]byte(BucketWindows))
	extra := runs.Stats().KeyN - keep
	if extra <= 0 {
		return nil
	}
	var stale [][]byte
	c := runs.Cursor()
	for k, _ := c.First(); k != nil && len(stale) < extra; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := runs.Delete(k); err != nil {
			return err
		}
		if windows.Bucket(k) != nil {
			if err := windows.DeleteBucket(k); err != nil {
				return err
			}
		}
	}
	return nil
}

// List returns runs, newest first.
func (s *Store) List() ([]Run, error) {
	var items []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var item Run
			if err := json.Unmarshal(v, &item); err != nil {
				s.log.Warn("skipping unreadable run", zap.ByteString("id", k), zap.Error(err))
				continue
			}
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

func (s *Store) Get(id string) (*Run, error) {
	var item Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(BucketRuns)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func windowKey(ts int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(ts))
	return k
}

// SaveWindow appends one window to a run.
func (s *Store) SaveWindow(id string, w aggregator.WindowSnapshot) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket([]byte(BucketWindows)).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return err
		}
		return b.Put(windowKey(w.Timestamp), data)
	})
}

// Windows returns a run's windows in time order.
func (s *Store) Windows(id string) ([]aggregator.WindowSnapshot, error) {
	var out []aggregator.WindowSnapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(BucketRuns)).Get([]byte(id)) == nil {
			return ErrNotFound
		}
		b := tx.Bucket([]byte(BucketWindows)).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var w aggregator.WindowSnapshot
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			out = append(out, w)
			return nil
		})
	})
	return out, err
}

// Recorder returns a listener that journals every window of run id.
// Write errors are logged, not returned.
func (s *Store) Recorder(id string) aggregator.Listener {
	return aggregator.ListenerFunc(func(w aggregator.WindowSnapshot) {
		if err := s.SaveWindow(id, w); err != nil {
			s.log.Warn("journaling window", zap.String("run", id), zap.Int64("second", w.Timestamp), zap.Error(err))
		}
	})
}
