package runner

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"text/template"

	"github.com/google/uuid"
)

// ArgData is what external generator argument templates can reference.
type ArgData struct {
	Artifact  string
	Phout     string
	Instances int
	RunID     string
}

var argFuncs = template.FuncMap{
	"randomInt":  randomInt,
	"randomUUID": randomUUID,
	"uuid":       randomUUID, // Alias
}

// preprocess converts the short forms {artifact}, {phout} and {instances}
// to Go template syntax.
func preprocess(input string) string {
	r := strings.NewReplacer(
		"{artifact}", "{{.Artifact}}",
		"{stpd}", "{{.Artifact}}",
		"{phout}", "{{.Phout}}",
		"{instances}", "{{.Instances}}",
		"{run}", "{{.RunID}}",
	)
	return r.Replace(input)
}

// ExpandArgs renders every argument template with data.
func ExpandArgs(args []string, data ArgData) ([]string, error) {
	out := make([]string, 0, len(args))
	for i, a := range args {
		t, err := template.New(fmt.Sprintf("arg%d", i)).Funcs(argFuncs).Parse(preprocess(a))
		if err != nil {
			return nil, fmt.Errorf("runner: argument %q: %w", a, err)
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("runner: argument %q: %w", a, err)
		}
		out = append(out, buf.String())
	}
	return out, nil
}

func randomInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return rand.Intn(hi-lo) + lo
}

func randomUUID() string {
	return uuid.New().String()
}
