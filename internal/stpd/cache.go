package stpd

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// cacheVersion is mixed into every key; bump it when the artifact layout changes.
const cacheVersion = "loadtank-stpd-1"

// Key identifies an artifact by everything that shapes its content.
type Key struct {
	hex string
}

// KeyBuilder accumulates named key fields in order.
type KeyBuilder struct {
	buf []byte
}

// NewKeyBuilder starts a key with the cache version.
func NewKeyBuilder() *KeyBuilder {
	b := &KeyBuilder{}
	b.Add("version", cacheVersion)
	return b
}

// Add appends a field. Names and values are length-prefixed so that no two
// different field lists hash the same input.
func (b *KeyBuilder) Add(name, value string) *KeyBuilder {
	for _, s := range []string{name, value} {
		b.buf = strconv.AppendInt(b.buf, int64(len(s)), 10)
		b.buf = append(b.buf, ':')
		b.buf = append(b.buf, s...)
	}
	return b
}

// AddList appends a list field.
func (b *KeyBuilder) AddList(name string, values []string) *KeyBuilder {
	b.Add(name, strconv.Itoa(len(values)))
	for _, v := range values {
		b.Add("", v)
	}
	return b
}

// Key hashes the fields added so far.
func (b *KeyBuilder) Key() Key {
	sum := sha256.Sum256(b.buf)
	return Key{hex: hex.EncodeToString(sum[:])}
}

func (k Key) String() string { return k.hex }

// Entry is a ready artifact.
type Entry struct {
	Path     string
	InfoPath string
	Info     Info
	Hit      bool
}

// Builder writes a fresh artifact and returns its metadata.
type Builder func(w io.Writer) (Info, error)

// Cache stores artifacts under Dir, named <name>_<key>.stpd with a
// <artifact>_si.json sidecar.
type Cache struct {
	Dir string
	Log *zap.Logger
}

// Paths returns the artifact and sidecar locations for name and key.
func (c *Cache) Paths(name string, key Key) (string, string) {
	path := filepath.Join(c.Dir, fmt.Sprintf("%s_%s.stpd", name, key))
	return path, path + "_si.json"
}

// GetOrBuild returns the cached artifact for key, or builds it. force skips
// the lookup and always rebuilds.
func (c *Cache) GetOrBuild(name string, key Key, force bool, build Builder) (Entry, error) {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	path, infoPath := c.Paths(name, key)
	entry := Entry{Path: path, InfoPath: infoPath}

	if force {
		if err := os.Remove(infoPath); err != nil && !os.IsNotExist(err) {
			return Entry{}, err
		}
	} else if info, ok := readInfo(path, infoPath); ok {
		log.Info("using cached schedule", zap.String("path", path))
		entry.Info = info
		entry.Hit = true
		return entry, nil
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return Entry{}, err
	}
	log.Info("building schedule", zap.String("path", path))
	info, err := buildAtomically(path, build)
	if err != nil {
		return Entry{}, err
	}
	if err := writeInfo(infoPath, info); err != nil {
		return Entry{}, err
	}
	entry.Info = info
	return entry, nil
}

func readInfo(path, infoPath string) (Info, bool) {
	if _, err := os.Stat(path); err != nil {
		return Info{}, false
	}
	data, err := os.ReadFile(infoPath)
	if err != nil {
		return Info{}, false
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, false
	}
	return info, true
}

// buildAtomically builds into a temp file and renames it into place. Nothing
// appears under path unless build succeeds.
func buildAtomically(path string, build Builder) (Info, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return Info{}, err
	}
	defer os.Remove(tmp.Name())

	info, err := build(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Info{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Info{}, err
	}
	return info, nil
}

func writeInfo(path string, info Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
