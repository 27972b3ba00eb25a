package schedule

// Plan is what the stepper needs from either schedule family.
type Plan interface {
	Len() int64
	Duration() int64
	Levels() Levels
	Scheme() []string
	Iterator() Iterator
}

var (
	_ Plan = (*RatePlan)(nil)
	_ Plan = (*InstancePlan)(nil)
)

// Build parses the configured curves and returns the matching plan. Exactly
// one of rate and instances may be non-empty; with neither, the result is an
// empty instance plan.
func Build(rate, instances []string) (Plan, error) {
	if err := CheckExclusive(rate, instances); err != nil {
		return nil, err
	}
	if len(nonEmpty(rate)) > 0 {
		steps, err := Parse(rate...)
		if err != nil {
			return nil, err
		}
		return NewRatePlan(steps)
	}
	steps, err := Parse(instances...)
	if err != nil {
		return nil, err
	}
	return NewInstancePlan(steps)
}

// Take returns up to n timestamps from an iterator.
func Take(it Iterator, n int) []int64 {
	out := make([]int64, 0, n)
	for len(out) < n {
		ts, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, ts)
	}
	return out
}
