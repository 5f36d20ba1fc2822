package harness

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", ev.Seq, ev.Kind)
			if ev.Session != "" {
				fmt.Fprintf(&buf, " session=%s", ev.Session)
			}
			if ev.Job != 0 {
				fmt.Fprintf(&buf, " job=%d", ev.Job)
			}
			if ev.Detail != "" {
				fmt.Fprintf(&buf, " %q", ev.Detail)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// matches reports whether ev satisfies the kind/session/detail filter of a.
func matches(ev TraceEvent, kind string, a Assertion) bool {
	if ev.Kind != kind {
		return false
	}
	if a.Session != "" && ev.Session != a.Session {
		return false
	}
	if a.Detail != "" && ev.Detail != a.Detail {
		return false
	}
	return true
}

func describe(kind string, a Assertion) string {
	s := kind
	if a.Session != "" {
		s += " for session " + a.Session
	}
	if a.Detail != "" {
		s += fmt.Sprintf(" with detail %q", a.Detail)
	}
	return s
}

// assertTraceContains checks that some entry matches the assertion.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a.Kind, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a.Kind, a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of kinds appear in
// the given order. Other entries may appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	// Each kind is searched for after the previous match, so repeated kinds
	// such as [dispatch, complete, dispatch] are meaningful.
	pos := -1
	for _, kind := range a.Kinds {
		found := -1
		for i := pos + 1; i < len(trace); i++ {
			if matches(trace[i], kind, a) {
				found = i
				break
			}
		}
		if found < 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
				Actual:   fmt.Sprintf("no %s after position %d", describe(kind, a), pos+1),
				Trace:    trace,
			}
		}
		pos = found
	}
	return nil
}

// assertTraceCount checks that exactly Count entries match.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matches(ev, a.Kind, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describe(a.Kind, a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares the expected fields against a state snapshot
// using subset semantics.
func assertFinalState(state map[string]map[string]any, a Assertion) error {
	source := a.Source
	if source == "" {
		source = SourceStats
	}
	snapshot, ok := state[source]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s snapshot", source),
			Actual:   "snapshot not captured",
		}
	}

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want := a.Expect[key]
		got, exists := snapshot[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s field %q to exist", source, key),
				Actual:   fmt.Sprintf("fields present: %v", sortedKeys(snapshot)),
			}
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v", source, key, want),
				Actual:   fmt.Sprintf("%s.%s = %v", source, key, got),
			}
		}
	}
	return nil
}

// stateValuesEqual compares a YAML-parsed expectation with a JSON-decoded
// snapshot value. Snapshot numbers are json.Number.
func stateValuesEqual(expected, actual any) bool {
	if n, ok := actual.(json.Number); ok {
		switch exp := expected.(type) {
		case int:
			v, err := n.Int64()
			return err == nil && v == int64(exp)
		case int64:
			v, err := n.Int64()
			return err == nil && v == exp
		case uint64:
			v, err := n.Int64()
			return err == nil && v >= 0 && uint64(v) == exp
		}
		return false
	}

	switch exp := expected.(type) {
	case string:
		got, ok := actual.(string)
		return ok && got == exp
	case bool:
		got, ok := actual.(bool)
		return ok && got == exp
	case nil:
		return actual == nil
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result.State, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
