// Package report writes per-second results and a run summary to files.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"loadtank/internal/aggregator"
	"loadtank/internal/autostop"
	"loadtank/internal/stats"
)

var csvHeader = func() []string {
	h := []string{
		"second", "tag", "count", "planned", "active_workers",
		"avg_ms", "min_ms", "max_ms",
	}
	for _, q := range stats.QuantileLevels {
		h = append(h, "p"+strconv.Itoa(q)+"_ms")
	}
	return append(h, "avg_connect_ms", "avg_send_ms", "avg_wait_ms", "avg_receive_ms",
		"bytes_out", "bytes_in", "self_load", "proto_codes", "net_codes")
}()

// CSV streams one row per window and tag. The overall row has an empty tag.
type CSV struct {
	f   *os.File
	w   *csv.Writer
	err error
}

func NewCSV(filename string) (*CSV, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	c := &CSV{f: f, w: csv.NewWriter(f)}
	if err := c.w.Write(csvHeader); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *CSV) OnWindow(w aggregator.WindowSnapshot) {
	if c.err != nil {
		return
	}
	if c.err = c.w.Write(row(w.Timestamp, "", w.Overall)); c.err != nil {
		return
	}
	for _, tag := range slices.Sorted(maps.Keys(w.ByTag)) {
		if c.err = c.w.Write(row(w.Timestamp, tag, w.ByTag[tag])); c.err != nil {
			return
		}
	}
	c.w.Flush()
	c.err = c.w.Error()
}

// Close flushes and closes the file, returning the first write error.
func (c *CSV) Close() error {
	c.w.Flush()
	if c.err == nil {
		c.err = c.w.Error()
	}
	if err := c.f.Close(); c.err == nil {
		c.err = err
	}
	return c.err
}

func ms(us float64) string {
	return strconv.FormatFloat(us/1000, 'f', 3, 64)
}

func row(sec int64, tag string, b stats.Bucket) []string {
	r := []string{
		strconv.FormatInt(sec, 10),
		tag,
		strconv.FormatInt(b.Count, 10),
		strconv.FormatInt(b.PlannedCount, 10),
		strconv.FormatInt(b.ActiveWorkers, 10),
		ms(b.AvgLatency),
		ms(float64(b.MinLatency)),
		ms(float64(b.MaxLatency)),
	}
	for _, q := range stats.QuantileLevels {
		r = append(r, ms(float64(b.Quantile(q))))
	}
	return append(r,
		ms(b.AvgConnect), ms(b.AvgSend), ms(b.AvgWait), ms(b.AvgReceive),
		strconv.FormatInt(b.BytesOut, 10),
		strconv.FormatInt(b.BytesIn, 10),
		strconv.FormatFloat(b.SelfLoad, 'f', 4, 64),
		Codes(b.ProtoCodes),
		Codes(b.NetCodes),
	)
}

// Codes renders a code histogram as "200:10 503:2", sorted by code.
func Codes(m map[int]int64) string {
	parts := make([]string, 0, len(m))
	for _, code := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%d:%d", code, m[code]))
	}
	return strings.Join(parts, " ")
}

// Summary is the JSON report of a whole run.
type Summary struct {
	ID         string                      `json:"id,omitempty"`
	Started    time.Time                   `json:"started"`
	Duration   string                      `json:"duration"`
	RC         int                         `json:"rc"`
	Reason     string                      `json:"reason"`
	Verdict    *autostop.Verdict           `json:"verdict,omitempty"`
	Records    int64                       `json:"records"`
	Cumulative stats.Bucket                `json:"cumulative"`
	Windows    []aggregator.WindowSnapshot `json:"windows,omitempty"`
}

// Collector keeps every window for the JSON report.
type Collector struct {
	Windows []aggregator.WindowSnapshot
}

func (c *Collector) OnWindow(w aggregator.WindowSnapshot) {
	c.Windows = append(c.Windows, w)
}

// Last returns the latest window, if any.
func (c *Collector) Last() (aggregator.WindowSnapshot, bool) {
	if len(c.Windows) == 0 {
		return aggregator.WindowSnapshot{}, false
	}
	return c.Windows[len(c.Windows)-1], true
}

// ExportJSON writes s to filename.
func ExportJSON(s Summary, filename string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
