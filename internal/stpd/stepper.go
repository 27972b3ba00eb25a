package stpd

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"loadtank/internal/ammo"
	"loadtank/internal/schedule"
)

// Info is the sidecar metadata stored next to an artifact.
type Info struct {
	AmmoCount  int             `json:"ammo_count"`
	LoopCount  int             `json:"loop_count"`
	Duration   int64           `json:"duration_ms"`
	Steps      schedule.Levels `json:"steps"`
	LoadScheme []string        `json:"loadscheme"`
	Instances  int             `json:"instances"`
}

// Stepper pairs plan timestamps with missiles and writes them out.
type Stepper struct {
	Plan      schedule.Plan
	Ammo      ammo.Source
	Instances int
	// MaxSize caps the artifact in bytes; 0 means no cap.
	MaxSize int64
	Log     *zap.Logger
}

// Write streams the artifact to w. It stops when the plan or the ammo runs
// out, whichever is first.
func (s *Stepper) Write(w io.Writer) (Info, error) {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	_, finite := s.Plan.(*schedule.RatePlan)

	sw := NewWriter(w, s.MaxSize)
	it := s.Plan.Iterator()
	count := 0
	for {
		ts, ok := it.Next()
		if !ok {
			break
		}
		m, err := s.Ammo.Next()
		if errors.Is(err, ammo.ErrLimitReached) {
			break
		}
		if err != nil {
			return Info{}, err
		}
		if count == 0 && finite && s.MaxSize > 0 {
			// Estimate from the first record so a huge plan fails before any I/O.
			need := RecordSize(ts, m) * s.Plan.Len()
			if need > s.MaxSize {
				return Info{}, &DiskLimitError{Limit: s.MaxSize, Required: need}
			}
		}
		if err := sw.Write(ts, m); err != nil {
			return Info{}, err
		}
		count++
	}
	if err := sw.Close(); err != nil {
		return Info{}, err
	}

	instances := s.Instances
	if ip, ok := s.Plan.(*schedule.InstancePlan); ok {
		instances = ip.Instances()
	}
	info := Info{
		AmmoCount:  count,
		LoopCount:  s.Ammo.Loops(),
		Duration:   s.Plan.Duration(),
		Steps:      s.Plan.Levels(),
		LoadScheme: s.Plan.Scheme(),
		Instances:  instances,
	}
	log.Info("schedule written",
		zap.Int("ammo_count", info.AmmoCount),
		zap.Int("loops", info.LoopCount),
		zap.Int64("duration_ms", info.Duration),
		zap.Int64("bytes", sw.Written()),
	)
	return info, nil
}

// logProgress reports ammo consumption against the plan length in 10% steps.
type logProgress struct {
	total int64
	last  int64
	log   *zap.Logger
}

func (p *logProgress) AmmoProgress(count, loops int) {
	if p.total <= 0 {
		return
	}
	pct := int64(count) * 100 / p.total
	if pct >= p.last+10 {
		p.last = pct - pct%10
		p.log.Info("stepping", zap.Int64("percent", p.last), zap.Int("loops", loops))
	}
}
