package stpd

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadtank/internal/ammo"
	"loadtank/internal/schedule"
)

func readAll(t *testing.T, r io.Reader) []Shot {
	t.Helper()
	rd := NewReader(r)
	var out []Shot
	for {
		s, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, s)
	}
}

func TestRoundTrip(t *testing.T) {
	shots := []Shot{
		{TS: 0, Payload: []byte("GET / HTTP/1.1\r\n\r\n"), Tag: "root"},
		{TS: 10, Payload: []byte("line with\nnewline"), Tag: ""},
		{TS: 10, Payload: []byte("x"), Tag: "case#1"},
		{TS: 3600000, Payload: bytes.Repeat([]byte("z"), 70000), Tag: "big"},
	}
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	for _, s := range shots {
		require.NoError(t, w.Write(s.TS, ammo.Missile{Payload: s.Payload, Tag: s.Tag}))
	}
	require.NoError(t, w.Close())
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n0\n")))
	assert.Equal(t, shots, readAll(t, &buf))
}

func TestWriterFormat(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	require.NoError(t, w.Write(125, ammo.Missile{Payload: []byte("hello"), Tag: "t"}))
	require.NoError(t, w.Write(250, ammo.Missile{Payload: []byte("bye")}))
	require.NoError(t, w.Close())
	assert.Equal(t, "5 125 t\nhello\n3 250\nbye\n0\n", buf.String())
}

func TestReaderTruncated(t *testing.T) {
	_, err := NewReader(bytes.NewBufferString("5 100\nhello\n9 200\nabc")).Next()
	require.NoError(t, err)

	rd := NewReader(bytes.NewBufferString("5 100\nhello\n9 200\nabc"))
	_, err = rd.Next()
	require.NoError(t, err)
	_, err = rd.Next()
	var fe *ammo.FormatError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.EqualValues(t, 12, fe.Offset)
}

func TestReaderHugeMissileSize(t *testing.T) {
	rd := NewReader(bytes.NewBufferString("99999999999999999 100 tag\nhello\n0\n"))
	_, err := rd.Next()
	var fe *ammo.FormatError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.EqualValues(t, 0, fe.Offset)
}

func TestWriterDiskLimit(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 64)
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = w.Write(int64(i), ammo.Missile{Payload: []byte("0123456789")})
	}
	if err == nil {
		err = w.Close()
	}
	var dl *DiskLimitError
	require.True(t, errors.As(err, &dl), "got %v", err)
	assert.EqualValues(t, 64, dl.Limit)
}

func TestStepperFailsFastOnHugePlan(t *testing.T) {
	plan, err := schedule.NewRatePlan([]schedule.LoadStep{schedule.Const{Level: 100000, Duration: 3600 * 1000}})
	require.NoError(t, err)
	src, err := ammo.New(ammo.Options{URIs: []string{"/"}}, nil, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	st := &Stepper{Plan: plan, Ammo: src, MaxSize: 1 << 20}
	_, err = st.Write(&buf)
	var dl *DiskLimitError
	require.True(t, errors.As(err, &dl))
	assert.Zero(t, buf.Len())
}

func TestStepperRate(t *testing.T) {
	plan, err := schedule.NewRatePlan([]schedule.LoadStep{schedule.Const{Level: 4, Duration: 1000}})
	require.NoError(t, err)
	src, err := ammo.New(ammo.Options{URIs: []string{"/a", "/b"}, Marker: "uri"}, nil, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	st := &Stepper{Plan: plan, Ammo: src, Instances: 7}
	info, err := st.Write(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, info.AmmoCount)
	assert.Equal(t, 7, info.Instances)
	assert.EqualValues(t, 1000, info.Duration)

	shots := readAll(t, &buf)
	require.Len(t, shots, 4)
	assert.Equal(t, []int64{0, 250, 500, 750}, []int64{shots[0].TS, shots[1].TS, shots[2].TS, shots[3].TS})
	assert.Equal(t, "_a", shots[2].Tag)
}

func TestCacheIdempotence(t *testing.T) {
	c := &Cache{Dir: t.TempDir()}
	builds := 0
	build := func(w io.Writer) (Info, error) {
		builds++
		sw := NewWriter(w, 0)
		require.NoError(t, sw.Write(0, ammo.Missile{Payload: []byte("a")}))
		return Info{AmmoCount: 1}, sw.Close()
	}

	key := NewKeyBuilder().Add("rps_schedule", "const(1,1s)").Key()
	first, err := c.GetOrBuild("ammo", key, false, build)
	require.NoError(t, err)
	assert.False(t, first.Hit)

	second, err := c.GetOrBuild("ammo", key, false, build)
	require.NoError(t, err)
	assert.True(t, second.Hit)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, 1, second.Info.AmmoCount)
	assert.Equal(t, 1, builds)

	other := NewKeyBuilder().Add("rps_schedule", "const(2,1s)").Key()
	third, err := c.GetOrBuild("ammo", other, false, build)
	require.NoError(t, err)
	assert.False(t, third.Hit)
	assert.NotEqual(t, first.Path, third.Path)
	assert.Equal(t, 2, builds)

	_, err = c.GetOrBuild("ammo", key, true, build)
	require.NoError(t, err)
	assert.Equal(t, 3, builds)
}

func TestCacheMissWithoutSidecar(t *testing.T) {
	c := &Cache{Dir: t.TempDir()}
	key := NewKeyBuilder().Key()
	path, infoPath := c.Paths("x", key)
	require.NoError(t, os.WriteFile(path, []byte("0\n"), 0o644))
	require.NoError(t, os.WriteFile(infoPath, []byte("{not json"), 0o644))

	built := false
	entry, err := c.GetOrBuild("x", key, false, func(w io.Writer) (Info, error) {
		built = true
		return Info{}, NewWriter(w, 0).Close()
	})
	require.NoError(t, err)
	assert.True(t, built)
	assert.False(t, entry.Hit)
}

func TestFailedBuildLeavesNoArtifact(t *testing.T) {
	dir := t.TempDir()
	c := &Cache{Dir: dir}
	key := NewKeyBuilder().Key()
	_, err := c.GetOrBuild("x", key, false, func(w io.Writer) (Info, error) {
		return Info{}, errors.New("boom")
	})
	require.Error(t, err)
	left, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestKeyFieldsAreUnambiguous(t *testing.T) {
	a := NewKeyBuilder().Add("a", "bc").Key()
	b := NewKeyBuilder().Add("ab", "c").Key()
	assert.NotEqual(t, a.String(), b.String())
}

func TestPrepareCachesAndKeysOnOptions(t *testing.T) {
	dir := t.TempDir()
	ammoPath := filepath.Join(dir, "ammo.txt")
	require.NoError(t, os.WriteFile(ammoPath, []byte("/one\n/two\n"), 0o644))

	cfg := Config{
		RPSSchedule: []string{"const(10, 1s)"},
		Instances:   5,
		Ammo:        ammo.Options{File: ammoPath, Headers: []string{"Host: a"}},
		CacheDir:    filepath.Join(dir, "cache"),
		UseCache:    true,
	}
	first, err := Prepare(cfg, nil)
	require.NoError(t, err)
	assert.False(t, first.Hit)
	assert.Equal(t, 10, first.Info.AmmoCount)
	assert.Equal(t, 5, first.Info.Instances)
	assert.Equal(t, "ammo.txt", filepath.Base(first.Path)[:8])

	again, err := Prepare(cfg, nil)
	require.NoError(t, err)
	assert.True(t, again.Hit)
	assert.Equal(t, first.Path, again.Path)

	cfg.Instances = 9
	fresh, err := Prepare(cfg, nil)
	require.NoError(t, err)
	assert.False(t, fresh.Hit)
	assert.Equal(t, 9, fresh.Info.Instances)

	cfg.Ammo.Headers = []string{"Host: b"}
	changed, err := Prepare(cfg, nil)
	require.NoError(t, err)
	assert.False(t, changed.Hit)
	assert.NotEqual(t, fresh.Path, changed.Path)
}

func TestPrepareInstancesDefaultsToOneLoop(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		InstancesSchedule: []string{"line(1, 4, 3s)"},
		Ammo:              ammo.Options{URIs: []string{"/a", "/b", "/c"}},
		CacheDir:          dir,
	}
	entry, err := Prepare(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, entry.Info.AmmoCount)
	assert.Equal(t, 4, entry.Info.Instances)
	assert.Equal(t, 1, entry.Info.LoopCount)

	f, err := os.Open(entry.Path)
	require.NoError(t, err)
	defer f.Close()
	shots := readAll(t, f)
	require.Len(t, shots, 3)
	assert.Equal(t, []int64{0, 1000, 2000}, []int64{shots[0].TS, shots[1].TS, shots[2].TS})
}

func TestPrepareConflictingSchedules(t *testing.T) {
	_, err := Prepare(Config{
		RPSSchedule:       []string{"const(1,1s)"},
		InstancesSchedule: []string{"start(1)"},
		Ammo:              ammo.Options{URIs: []string{"/"}},
		CacheDir:          t.TempDir(),
	}, nil)
	assert.ErrorIs(t, err, schedule.ErrConflictingSchedule)
}
