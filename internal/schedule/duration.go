package schedule

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationRe = regexp.MustCompile(`([0-9]*\.?[0-9]+)([a-zA-Z]*)`)

var durationUnits = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
}

// ParseDuration parses strings like "2h5m", "0.3s" or "5". A bare number is
// taken as seconds.
func ParseDuration(s string) (time.Duration, error) {
	return ParseDurationUnit(s, time.Second)
}

// ParseDurationUnit is ParseDuration with an explicit unit for bare numbers.
func ParseDurationUnit(s string, unit time.Duration) (time.Duration, error) {
	str := strings.TrimSpace(s)
	if str == "" {
		return 0, syntaxErr(s, "empty duration")
	}

	var total float64
	pos := 0
	for _, m := range durationRe.FindAllStringSubmatchIndex(str, -1) {
		if m[0] != pos {
			return 0, syntaxErr(s, "unexpected %q in duration", str[pos:m[0]])
		}
		num, err := strconv.ParseFloat(str[m[2]:m[3]], 64)
		if err != nil {
			return 0, syntaxErr(s, "bad number %q", str[m[2]:m[3]])
		}
		mult := unit
		if suffix := strings.ToLower(str[m[4]:m[5]]); suffix != "" {
			u, ok := durationUnits[suffix]
			if !ok {
				return 0, syntaxErr(s, "unknown duration unit %q", suffix)
			}
			mult = u
		}
		total += num * float64(mult)
		pos = m[1]
	}
	if pos != len(str) {
		return 0, syntaxErr(s, "unexpected %q in duration", str[pos:])
	}
	return time.Duration(math.Round(total)), nil
}

// ParseMillis parses a duration and returns it in whole milliseconds.
func ParseMillis(s string) (int64, error) {
	d, err := ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}
