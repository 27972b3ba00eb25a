package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadtank/internal/aggregator"
	"loadtank/internal/stats"
)

func bucket(codes ...int) stats.Bucket {
	acc := stats.NewAccumulator()
	for _, c := range codes {
		acc.Add(stats.Sample{IntervalReal: 1500, ProtoCode: c})
	}
	return acc.Bucket()
}

func TestCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "windows.csv")
	c, err := NewCSV(path)
	require.NoError(t, err)
	c.OnWindow(aggregator.WindowSnapshot{
		Timestamp: 1000,
		Overall:   bucket(200, 200, 503),
		ByTag:     map[string]stats.Bucket{"b": bucket(503), "a": bucket(200, 200)},
	})
	require.NoError(t, c.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])

	col := func(name string) int {
		for i, h := range csvHeader {
			if h == name {
				return i
			}
		}
		t.Fatalf("no column %s", name)
		return -1
	}
	assert.Equal(t, []string{"1000", "", "3"}, rows[1][:3])
	assert.Equal(t, "a", rows[2][col("tag")])
	assert.Equal(t, "b", rows[3][col("tag")])
	assert.Equal(t, "1.500", rows[1][col("avg_ms")])
	assert.Equal(t, "200:2 503:1", rows[1][col("proto_codes")])
	assert.Equal(t, "0:3", rows[1][col("net_codes")])
}

func TestCodes(t *testing.T) {
	assert.Equal(t, "", Codes(nil))
	assert.Equal(t, "200:1 404:2 500:3", Codes(map[int]int64{500: 3, 200: 1, 404: 2}))
}

func TestExportJSON(t *testing.T) {
	col := &Collector{}
	_, ok := col.Last()
	assert.False(t, ok)
	col.OnWindow(aggregator.WindowSnapshot{Timestamp: 1000, Overall: bucket(200)})
	col.OnWindow(aggregator.WindowSnapshot{Timestamp: 1001, Overall: bucket(200), Cumulative: bucket(200, 200)})
	last, ok := col.Last()
	require.True(t, ok)

	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, ExportJSON(Summary{RC: 0, Reason: "finished", Records: 2, Cumulative: last.Cumulative, Windows: col.Windows}, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Summary
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "finished", got.Reason)
	assert.EqualValues(t, 2, got.Cumulative.Count)
	require.Len(t, got.Windows, 2)
	assert.EqualValues(t, 1001, got.Windows[1].Timestamp)
}
