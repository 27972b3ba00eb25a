package schedule

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// LoadStep is one parsed element of a load curve. The set of implementations
// is closed: Const, Line, Stairway, Start, Ramp and Wait.
type LoadStep interface {
	fmt.Stringer
	loadStep()
}

// Const holds a rate (or a worker count) for Duration milliseconds.
type Const struct {
	Level    float64
	Duration int64
}

// Line changes the rate (or worker count) linearly from From to To.
type Line struct {
	From     float64
	To       float64
	Duration int64
}

// Stairway climbs from From to To by Increment, holding each level for Duration.
type Stairway struct {
	From      float64
	To        float64
	Increment float64
	Duration  int64
}

// Start adds Count workers at the current offset.
type Start struct {
	Count int
}

// Ramp adds Count workers spread evenly over Duration.
type Ramp struct {
	Count    int
	Duration int64
}

// Wait advances the offset without starting anything.
type Wait struct {
	Duration int64
}

func (Const) loadStep()    {}
func (Line) loadStep()     {}
func (Stairway) loadStep() {}
func (Start) loadStep()    {}
func (Ramp) loadStep()     {}
func (Wait) loadStep()     {}

func (s Const) String() string {
	return fmt.Sprintf("const(%s,%dms)", fmtNum(s.Level), s.Duration)
}

func (s Line) String() string {
	return fmt.Sprintf("line(%s,%s,%dms)", fmtNum(s.From), fmtNum(s.To), s.Duration)
}

func (s Stairway) String() string {
	return fmt.Sprintf("step(%s,%s,%s,%dms)", fmtNum(s.From), fmtNum(s.To), fmtNum(s.Increment), s.Duration)
}

func (s Start) String() string { return fmt.Sprintf("start(%d)", s.Count) }

func (s Ramp) String() string { return fmt.Sprintf("ramp(%d,%dms)", s.Count, s.Duration) }

func (s Wait) String() string { return fmt.Sprintf("wait(%dms)", s.Duration) }

func fmtNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var stepRe = regexp.MustCompile(`^([a-z]+)\s*\(([^()]*)\)$`)

// Tokens splits a curve into its "name(args)" pieces. Newlines count as
// separators, so multi-line curves from config files work unchanged.
func Tokens(curve string) []string {
	joined := strings.Join(strings.Split(curve, "\n"), " ")
	var out []string
	for _, piece := range strings.Split(joined, ")") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		out = append(out, piece+")")
	}
	return out
}

// Parse turns a load curve such as "line(1, 10, 10m) const(10, 5m)" into
// steps. Several curves may be given; they are parsed in order.
func Parse(curves ...string) ([]LoadStep, error) {
	var steps []LoadStep
	for _, curve := range curves {
		for _, tok := range Tokens(curve) {
			step, err := parseStep(tok)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step)
		}
	}
	return steps, nil
}

func parseStep(tok string) (LoadStep, error) {
	m := stepRe.FindStringSubmatch(tok)
	if m == nil {
		return nil, syntaxErr(tok, "expected name(args)")
	}
	name := m[1]
	var args []string
	if strings.TrimSpace(m[2]) != "" {
		for _, a := range strings.Split(m[2], ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}

	p := argParser{tok: tok, args: args}
	var step LoadStep
	switch name {
	case "const":
		if err := p.want(2, "const(<level>, <duration>)"); err != nil {
			return nil, err
		}
		step = Const{Level: p.number(0), Duration: p.millis(1)}
	case "line":
		if err := p.want(3, "line(<from>, <to>, <duration>)"); err != nil {
			return nil, err
		}
		step = Line{From: p.number(0), To: p.number(1), Duration: p.millis(2)}
	case "step":
		if err := p.want(4, "step(<from>, <to>, <increment>, <duration>)"); err != nil {
			return nil, err
		}
		s := Stairway{From: p.number(0), To: p.number(1), Increment: p.number(2), Duration: p.millis(3)}
		if p.err == nil && s.Increment == 0 {
			return nil, syntaxErr(tok, "zero increment")
		}
		step = s
	case "start":
		if err := p.want(1, "start(<count>)"); err != nil {
			return nil, err
		}
		step = Start{Count: p.integer(0)}
	case "ramp":
		if err := p.want(2, "ramp(<count>, <duration>)"); err != nil {
			return nil, err
		}
		step = Ramp{Count: p.integer(0), Duration: p.millis(1)}
	case "wait":
		if err := p.want(1, "wait(<duration>)"); err != nil {
			return nil, err
		}
		step = Wait{Duration: p.millis(0)}
	default:
		return nil, syntaxErr(tok, "unknown step %q", name)
	}
	if p.err != nil {
		return nil, p.err
	}
	return step, nil
}

// argParser records the first conversion error so each case stays a one-liner.
type argParser struct {
	tok  string
	args []string
	err  error
}

func (p *argParser) want(n int, usage string) error {
	if len(p.args) != n {
		return syntaxErr(p.tok, "want %d arguments, format is %s", n, usage)
	}
	return nil
}

func (p *argParser) number(i int) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(p.args[i], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		p.err = syntaxErr(p.tok, "argument %q is not a number", p.args[i])
		return 0
	}
	return v
}

func (p *argParser) integer(i int) int {
	v := p.number(i)
	if p.err == nil && v != math.Trunc(v) {
		p.err = syntaxErr(p.tok, "argument %q is not an integer", p.args[i])
	}
	return int(v)
}

func (p *argParser) millis(i int) int64 {
	if p.err != nil {
		return 0
	}
	ms, err := ParseMillis(p.args[i])
	if err != nil {
		p.err = syntaxErr(p.tok, "bad duration %q", p.args[i])
		return 0
	}
	return ms
}
