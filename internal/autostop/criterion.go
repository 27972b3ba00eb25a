package autostop

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"loadtank/internal/aggregator"
	"loadtank/internal/schedule"
	"loadtank/internal/stats"
)

// Reason codes. The cause criterion's code becomes the process exit code.
const (
	RCTime      = 21
	RCHTTP      = 22
	RCNet       = 23
	RCInstances = 24
	RCTotalTime = 25
	RCTotalHTTP = 26
	RCTotalNet  = 27
	RCNegHTTP   = 28
	RCNegNet    = 29
	RCHTTPTrend = 30
	RCSteady    = 33
)

// Criterion is a stop condition evaluated once per window.
type Criterion interface {
	// Notify feeds one window and reports whether the run must stop.
	Notify(w aggregator.WindowSnapshot) bool
	RC() int
	// Explain describes why the criterion tripped.
	Explain() string
	// Widget is a one-line status and how close the criterion is to
	// tripping, from 0 to 1.
	Widget() (string, float64)
	// Cause is the window that justified the latest trip or streak.
	Cause() (aggregator.WindowSnapshot, bool)
}

// counter is implemented by criteria that count consecutive hits.
type counter interface {
	Counting() bool
}

// ticker is implemented by criteria that depend on wall clock time only.
type ticker interface {
	Tick(now time.Time) bool
}

// CriterionConfigError is a criterion definition that can not be used.
type CriterionConfigError struct {
	Text   string
	Reason string
}

func (e *CriterionConfigError) Error() string {
	return fmt.Sprintf("autostop criterion %q: %s", e.Text, e.Reason)
}

type factory func(a *args) (Criterion, error)

var registry = map[string]factory{
	"time":              newAvgTime,
	"http":              newHTTPCodes,
	"net":               newNetCodes,
	"quantile":          newQuantile,
	"steady_cumulative": newSteadyCumulative,
	"limit":             newTimeLimit,
	"instances":         newUsedInstances,
	"total_time":        newTotalTime,
	"total_http":        newTotalHTTP,
	"total_net":         newTotalNet,
	"negative_http":     newNegativeHTTP,
	"negative_net":      newNegativeNet,
	"http_trend":        newHTTPTrend,
}

var criterionRe = regexp.MustCompile(`^([A-Za-z_]+)\s*\(([^()]*)\)$`)

// Split breaks a definition such as "time(1s, 5s) http(5xx, 10%, 3s)" into
// single criterion texts.
func Split(def string) []string {
	return schedule.Tokens(def)
}

// Parse builds one criterion from its text.
func Parse(text string) (Criterion, error) {
	text = strings.TrimSpace(text)
	m := criterionRe.FindStringSubmatch(text)
	if m == nil {
		return nil, &CriterionConfigError{Text: text, Reason: "expected name(args)"}
	}
	name := strings.ToLower(m[1])
	build, ok := registry[name]
	if !ok {
		return nil, &CriterionConfigError{Text: text, Reason: fmt.Sprintf("unknown criterion %q", name)}
	}
	a := &args{text: text}
	if strings.TrimSpace(m[2]) != "" {
		for _, v := range strings.Split(m[2], ",") {
			a.list = append(a.list, strings.TrimSpace(v))
		}
	}
	c, err := build(a)
	if err != nil {
		return nil, err
	}
	if a.err != nil {
		return nil, a.err
	}
	return c, nil
}

// args converts criterion arguments, keeping the first error.
type args struct {
	text string
	list []string
	err  error
}

func (a *args) fail(format string, v ...any) {
	if a.err == nil {
		a.err = &CriterionConfigError{Text: a.text, Reason: fmt.Sprintf(format, v...)}
	}
}

func (a *args) count(lo, hi int, usage string) error {
	if len(a.list) < lo || len(a.list) > hi {
		return &CriterionConfigError{Text: a.text, Reason: "format is " + usage}
	}
	return nil
}

func (a *args) opt(i int) string {
	if i < len(a.list) {
		return a.list[i]
	}
	return ""
}

// micros reads a response time threshold; bare numbers are milliseconds.
func (a *args) micros(i int) int64 {
	d, err := schedule.ParseDurationUnit(a.list[i], time.Millisecond)
	if err != nil {
		a.fail("bad time %q", a.list[i])
		return 0
	}
	return d.Microseconds()
}

// seconds reads a duration in whole seconds, at least one.
func (a *args) seconds(i int) int {
	d, err := schedule.ParseDuration(a.list[i])
	if err != nil {
		a.fail("bad duration %q", a.list[i])
		return 0
	}
	s := int(d / time.Second)
	if s < 1 {
		a.fail("duration %q is shorter than a second", a.list[i])
		return 0
	}
	return s
}

func (a *args) number(i int) float64 {
	s := strings.TrimSuffix(a.list[i], "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		a.fail("argument %q is not a number", a.list[i])
		return 0
	}
	return v
}

// level reads "10%" as a relative level of 10 or "10" as an absolute count.
func (a *args) level(i int) level {
	return level{value: a.number(i), relative: strings.HasSuffix(a.list[i], "%")}
}

func (a *args) mask(i int) codeMask {
	m, err := newCodeMask(a.list[i])
	if err != nil {
		a.fail("bad code mask %q", a.list[i])
	}
	return m
}

type level struct {
	value    float64
	relative bool
}

func (l level) String() string {
	s := strconv.FormatFloat(l.value, 'f', -1, 64)
	if l.relative {
		return s + "%"
	}
	return s
}

// codeMask matches response codes against a pattern like "5xx" where x is
// any digit position.
type codeMask struct {
	text string
	re   *regexp.Regexp
}

func newCodeMask(text string) (codeMask, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return codeMask{}, fmt.Errorf("empty mask")
	}
	re, err := regexp.Compile("^" + strings.ReplaceAll(text, "x", ".") + "$")
	if err != nil {
		return codeMask{}, err
	}
	return codeMask{text: text, re: re}, nil
}

func (m codeMask) count(codes map[int]int64, skipZero bool) int64 {
	var n int64
	for code, c := range codes {
		if skipZero && code == 0 {
			continue
		}
		if m.re.MatchString(strconv.Itoa(code)) {
			n += c
		}
	}
	return n
}

// bucketFor returns the overall bucket, or the tag's bucket when tag is set.
// A tag absent from the window yields an empty bucket.
func bucketFor(w aggregator.WindowSnapshot, tag string) stats.Bucket {
	if tag == "" {
		return w.Overall
	}
	return w.ByTag[tag]
}

func forTag(tag string) string {
	if tag == "" {
		return ""
	}
	return " for tag " + tag
}
