package aggregator

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"loadtank/internal/stats"
)

// phoutColumns is the field count of one raw result line:
// send_ts tag interval_real connect send latency receive interval_event
// size_out size_in net_code proto_code
const phoutColumns = 12

// Record is one shot's outcome as reported by a generator.
type Record struct {
	// Time is the send timestamp in unix seconds.
	Time float64
	Tag  string
	stats.Sample
}

// Second is the whole second the shot completed in. Records are windowed by it.
func (r Record) Second() int64 {
	return int64(math.Floor(r.Time + float64(r.IntervalReal)/1e6))
}

// Case is the tag without its enumeration suffix.
func (r Record) Case() string {
	return CaseOf(r.Tag)
}

// CaseOf strips everything from the last '#' on.
func CaseOf(tag string) string {
	if i := strings.LastIndexByte(tag, '#'); i >= 0 {
		return tag[:i]
	}
	return tag
}

// ParseError is a malformed raw result line. It is never fatal.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bad result line %q: %s", e.Line, e.Reason)
}

// ParseRecord decodes one tab-separated result line.
func ParseRecord(line string) (Record, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) != phoutColumns {
		return Record{}, &ParseError{Line: line, Reason: fmt.Sprintf("want %d columns, got %d", phoutColumns, len(fields))}
	}
	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Record{}, &ParseError{Line: line, Reason: "bad timestamp"}
	}
	var nums [10]int64
	for i := range nums {
		n, err := strconv.ParseInt(fields[i+2], 10, 64)
		if err != nil {
			return Record{}, &ParseError{Line: line, Reason: fmt.Sprintf("column %d is not an integer", i+3)}
		}
		nums[i] = n
	}
	return Record{
		Time: ts,
		Tag:  fields[1],
		Sample: stats.Sample{
			IntervalReal:  nums[0],
			Connect:       nums[1],
			Send:          nums[2],
			Latency:       nums[3],
			Receive:       nums[4],
			IntervalEvent: nums[5],
			SizeOut:       nums[6],
			SizeIn:        nums[7],
			NetCode:       int(nums[8]),
			ProtoCode:     int(nums[9]),
		},
	}, nil
}

// FormatRecord encodes r as a result line, newline included.
func FormatRecord(r Record) string {
	return fmt.Sprintf("%.3f\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		r.Time, r.Tag, r.IntervalReal, r.Connect, r.Send, r.Latency, r.Receive,
		r.IntervalEvent, r.SizeOut, r.SizeIn, r.NetCode, r.ProtoCode)
}
