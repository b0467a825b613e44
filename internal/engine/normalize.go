package engine

import (
	"fmt"
	"math"
	"slices"

	lua "github.com/yuin/gopher-lua"

	"github.com/roach88/checkonaut/internal/bridge"
	"github.com/roach88/checkonaut/internal/results"
)

// maxSequenceIndex is the largest key a returned sequence may use.
const maxSequenceIndex = math.MaxInt32

// Result is the normalized form of a Check return value.
type Result interface {
	result()
}

// NoIssues is a nil (or null) return.
type NoIssues struct{}

// Message is a bare string: one Error issue.
type Message struct {
	Text string
}

// List is a sequence of results, flattened in order.
type List struct {
	Items []Result
}

// Detailed is a table with a message field.
type Detailed struct {
	Text     string
	Severity results.Severity
}

func (NoIssues) result() {}
func (Message) result()  {}
func (List) result()     {}
func (Detailed) result() {}

// Normalize interprets a value returned by Check. L must have the bridge
// installed so the null sentinel can be recognized.
func Normalize(L *lua.LState, v lua.LValue) (Result, error) {
	n := &normalizer{L: L, visiting: make(map[*lua.LTable]bool)}
	return n.normalize(v, "")
}

// Flatten turns a result into issues, in order. Only Message and Severity
// are set.
func Flatten(r Result) []results.Issue {
	var out []results.Issue
	flatten(r, &out)
	return out
}

func flatten(r Result, out *[]results.Issue) {
	switch val := r.(type) {
	case Message:
		*out = append(*out, results.Issue{Message: val.Text, Severity: results.SeverityError})
	case Detailed:
		*out = append(*out, results.Issue{Message: val.Text, Severity: val.Severity})
	case List:
		for _, item := range val.Items {
			flatten(item, out)
		}
	}
}

type normalizer struct {
	L        *lua.LState
	visiting map[*lua.LTable]bool
}

func (n *normalizer) normalize(v lua.LValue, path string) (Result, error) {
	if bridge.IsNull(n.L, v) {
		return NoIssues{}, nil
	}

	switch val := v.(type) {
	case lua.LString:
		return Message{Text: string(val)}, nil
	case *lua.LTable:
		if n.visiting[val] {
			return nil, contractErrorf(path, "cyclic table")
		}
		n.visiting[val] = true
		defer delete(n.visiting, val)

		if msg := val.RawGetString("message"); msg != lua.LNil {
			return n.detailed(val, msg, path)
		}
		return n.list(val, path)
	default:
		return nil, contractErrorf(path, "expected nil, string or table, got %s", v.Type().String())
	}
}

func (n *normalizer) detailed(tbl *lua.LTable, msg lua.LValue, path string) (Result, error) {
	msgPath := joinPath(path, "message")
	inner, err := n.normalize(msg, msgPath)
	if err != nil {
		return nil, err
	}
	texts := Flatten(inner)
	if len(texts) != 1 {
		return nil, contractErrorf(msgPath, "message must resolve to exactly one text, got %d", len(texts))
	}

	severity := results.SeverityError
	if s, ok := tbl.RawGetString("severity").(lua.LString); ok && s == "warning" {
		severity = results.SeverityWarning
	}
	return Detailed{Text: texts[0].Message, Severity: severity}, nil
}

func (n *normalizer) list(tbl *lua.LTable, path string) (Result, error) {
	var keys []int
	var bad lua.LValue
	tbl.ForEach(func(k, _ lua.LValue) {
		num, ok := k.(lua.LNumber)
		f := float64(num)
		if !ok || f < 1 || f > maxSequenceIndex || f != math.Trunc(f) {
			if bad == nil {
				bad = k
			}
			return
		}
		keys = append(keys, int(f))
	})
	if bad != nil {
		return nil, contractErrorf(path, "table has no message field and is not a sequence (key %s)", bad.String())
	}

	// Holes left by nil elements are skipped, so only present keys are visited.
	slices.Sort(keys)
	items := make([]Result, 0, len(keys))
	for _, i := range keys {
		elem := tbl.RawGetInt(i)
		if bridge.IsNull(n.L, elem) {
			continue
		}
		r, err := n.normalize(elem, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return List{Items: items}, nil
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
