package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// maxTrackable is the largest latency the histograms hold; larger values are
// clamped to it.
var maxTrackable = int64(10 * time.Minute / time.Microsecond)

func newHist() *hdrhistogram.Histogram {
	// 1us to 10min, 3 significant figures
	return hdrhistogram.New(1, maxTrackable, 3)
}

func clampUs(v int64) int64 {
	if v < 1 {
		return 1
	}
	if v > maxTrackable {
		return maxTrackable
	}
	return v
}

// SafeHistogram is a thread-safe wrapper around hdrhistogram, shared by
// generator workers for live figures.
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	return &SafeHistogram{hist: newHist()}
}

// RecordValue records a latency in microseconds
func (h *SafeHistogram) RecordValue(v int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.hist.RecordValue(clampUs(v))
}

func (h *SafeHistogram) ValueAtQuantile(q float64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.ValueAtQuantile(q)
}

func (h *SafeHistogram) Max() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Max()
}

func (h *SafeHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}
