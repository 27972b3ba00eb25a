package schedule

// group is a run of worker start offsets: count workers, the i-th starting at
// at + i*interval milliseconds.
type group struct {
	at       int64
	interval float64
	count    int
}

func (g group) offset(i int) int64 {
	return int64(float64(g.at) + float64(i)*g.interval)
}

// InstancePlan is a closed-loop schedule. It yields one start offset per
// declared worker and then zeros forever: a zero means "fire again as soon as
// the previous shot returned".
type InstancePlan struct {
	groups    []group
	instances int
	duration  int64
	levels    Levels
	scheme    []string
}

// Builder accumulates worker starts. Every method returns the builder so that
// calls chain; the first error sticks and is returned by Build.
type Builder struct {
	plan InstancePlan
	err  error
}

// NewBuilder returns an empty instance plan builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Start adds n workers at the current offset.
func (b *Builder) Start(n int) *Builder {
	if b.err != nil {
		return b
	}
	if n < 0 {
		b.err = syntaxErr("start", "can not stop instances in an instances schedule")
		return b
	}
	if n > 0 {
		b.plan.groups = append(b.plan.groups, group{at: b.plan.duration, count: n})
	}
	b.plan.instances += n
	return b
}

// Wait advances the offset by d milliseconds.
func (b *Builder) Wait(d int64) *Builder {
	if b.err != nil {
		return b
	}
	b.plan.duration += d
	b.plan.levels = append(b.plan.levels, Level{Value: float64(b.plan.instances), Seconds: d / 1000})
	return b
}

// Ramp adds n workers evenly spread over d milliseconds, the first at the
// current offset and the last at offset+d.
func (b *Builder) Ramp(n int, d int64) *Builder {
	if b.err != nil {
		return b
	}
	if n < 0 {
		b.err = syntaxErr("ramp", "can not stop instances in an instances schedule")
		return b
	}
	var interval float64
	if n > 1 {
		interval = float64(d) / float64(n-1)
	}
	if n > 0 {
		b.plan.groups = append(b.plan.groups, group{at: b.plan.duration, interval: interval, count: n})
	}
	for i := 0; i < n; i++ {
		b.plan.levels = append(b.plan.levels, Level{
			Value:   float64(b.plan.instances + i + 1),
			Seconds: int64(interval / 1000),
		})
	}
	b.plan.instances += n
	b.plan.duration += d
	return b
}

// Const brings the worker count to n and holds it for d milliseconds.
func (b *Builder) Const(n int, d int64) *Builder {
	return b.Start(n - b.plan.instances).Wait(d)
}

// Line ramps the worker count from a to b over d milliseconds.
func (b *Builder) Line(from, to int, d int64) *Builder {
	return b.Start(from-b.plan.instances-1).Ramp(to-from+1, d)
}

// Stairway raises the worker count from a to b in steps of size step, each
// held for d milliseconds.
func (b *Builder) Stairway(from, to, step int, d int64) *Builder {
	if b.err != nil {
		return b
	}
	if step <= 0 {
		b.err = syntaxErr("step", "increment must be positive in an instances schedule")
		return b
	}
	b.Start(from - b.plan.instances)
	for i := 0; i < (to-from)/step; i++ {
		b.Wait(d).Start(step)
	}
	if to != b.plan.instances {
		b.Wait(d).Start(to - b.plan.instances)
	}
	return b.Wait(d)
}

// Add applies a parsed step.
func (b *Builder) Add(step LoadStep) *Builder {
	if b.err != nil {
		return b
	}
	switch s := step.(type) {
	case Start:
		b.Start(s.Count)
	case Wait:
		b.Wait(s.Duration)
	case Ramp:
		b.Ramp(s.Count, s.Duration)
	case Const:
		b.Const(int(s.Level), s.Duration)
	case Line:
		b.Line(int(s.From), int(s.To), s.Duration)
	case Stairway:
		b.Stairway(int(s.From), int(s.To), int(s.Increment), s.Duration)
	}
	if b.err == nil {
		b.plan.scheme = append(b.plan.scheme, step.String())
	}
	return b
}

// Build returns the plan or the first error met while building it.
func (b *Builder) Build() (*InstancePlan, error) {
	if b.err != nil {
		return nil, b.err
	}
	p := b.plan
	return &p, nil
}

// NewInstancePlan builds a closed-loop plan from parsed steps.
func NewInstancePlan(steps []LoadStep) (*InstancePlan, error) {
	b := NewBuilder()
	for _, s := range steps {
		b.Add(s)
	}
	return b.Build()
}

// Instances is the number of workers the plan starts.
func (p *InstancePlan) Instances() int { return p.instances }

// Len is the number of declared start offsets. The iterator keeps producing
// zeros after them.
func (p *InstancePlan) Len() int64 { return int64(p.instances) }

// Duration is the plan length in milliseconds.
func (p *InstancePlan) Duration() int64 { return p.duration }

// Levels lists the worker count held over time.
func (p *InstancePlan) Levels() Levels { return p.levels }

// Scheme returns the canonical form of the steps the plan was built from.
func (p *InstancePlan) Scheme() []string { return p.scheme }

// Iterator returns an endless cursor over the plan.
func (p *InstancePlan) Iterator() Iterator {
	return &instanceCursor{plan: p}
}

type instanceCursor struct {
	plan *InstancePlan
	g, i int
}

func (c *instanceCursor) Next() (int64, bool) {
	groups := c.plan.groups
	for c.g < len(groups) && c.i >= groups[c.g].count {
		c.g++
		c.i = 0
	}
	if c.g >= len(groups) {
		return 0, true
	}
	ts := groups[c.g].offset(c.i)
	c.i++
	return ts, true
}
