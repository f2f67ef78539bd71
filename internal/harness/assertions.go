package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mailchimp/Firebase/internal/identity"
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
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s %s %v\n", event.Seq, event.Step, event.Op, event.SubscriberHash, event.Body)
		}
	}
	return buf.String()
}

// assertCallContains checks that some call matches the op, subscriber and
// body (subset match).
func assertCallContains(trace []TraceEvent, a Assertion) error {
	expected, err := genericBody(a.Body)
	if err != nil {
		return err
	}
	for _, event := range trace {
		if matchCall(event, a) && matchBody(event.Body, expected) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertCallContains,
		Expected: fmt.Sprintf("call %s%s with body %v", a.Op, forEmail(a.Email), a.Body),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertCallOrder checks that ops first appear in the specified order.
// Ops don't need to be consecutive (intervening calls are allowed).
func assertCallOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for _, event := range trace {
		if _, seen := positions[event.Op]; !seen {
			positions[event.Op] = event.Seq
		}
	}

	for _, op := range a.Ops {
		if _, ok := positions[op]; !ok {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("all ops present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertCallCount checks that the op was called exactly the specified
// number of times.
func assertCallCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matchCall(event, a) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%d calls of %s%s", a.Count, a.Op, forEmail(a.Email)),
			Actual:   fmt.Sprintf("%d calls", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the last processing state announced.
func assertFinalState(result *Result, a Assertion) error {
	if len(result.Reports) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("processing state %s", a.State),
			Actual:   "no processing state was reported",
		}
	}

	last := result.Reports[len(result.Reports)-1]
	if string(last.State) != a.State || (a.Message != "" && last.Message != a.Message) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s %q", a.State, a.Message),
			Actual:   fmt.Sprintf("%s %q", last.State, last.Message),
		}
	}
	return nil
}

func matchCall(event TraceEvent, a Assertion) bool {
	if event.Op != a.Op {
		return false
	}
	return a.Email == "" || event.SubscriberHash == identity.SubscriberHash(a.Email)
}

func forEmail(email string) string {
	if email == "" {
		return ""
	}
	return " for " + email
}

// matchBody reports whether actual contains expected. Maps match as
// subsets at every level; slices must have the same length and match
// element by element.
func matchBody(actual, expected any) bool {
	if expected == nil {
		return true
	}

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for key, ev := range exp {
			av, exists := act[key]
			if !exists || !matchBody(av, ev) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !matchBody(act[i], exp[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(actual, expected)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCallContains:
			err = assertCallContains(result.Trace, assertion)
		case AssertCallOrder:
			err = assertCallOrder(result.Trace, assertion)
		case AssertCallCount:
			err = assertCallCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
