package schedule

import (
	"errors"
	"fmt"
)

// ErrConflictingSchedule is returned when both a rate curve and an instance
// curve are configured for the same run.
var ErrConflictingSchedule = errors.New("schedule: rps and instances schedules are mutually exclusive")

// ScheduleSyntaxError reports a load curve token that could not be parsed.
type ScheduleSyntaxError struct {
	Token  string
	Reason string
}

func (e *ScheduleSyntaxError) Error() string {
	return fmt.Sprintf("schedule: bad step %q: %s", e.Token, e.Reason)
}

func syntaxErr(token, format string, args ...any) error {
	return &ScheduleSyntaxError{Token: token, Reason: fmt.Sprintf(format, args...)}
}

// CheckExclusive fails when both kinds of schedule were given.
func CheckExclusive(rateCurve, instanceCurve []string) error {
	if len(nonEmpty(rateCurve)) > 0 && len(nonEmpty(instanceCurve)) > 0 {
		return ErrConflictingSchedule
	}
	return nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
