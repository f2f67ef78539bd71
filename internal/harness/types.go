package harness

import "github.com/mailchimp/Firebase/internal/status"

// TraceEvent is one remote audience call made while a scenario ran.
type TraceEvent struct {
	Seq            int    `json:"seq"`
	Step           int    `json:"step"`
	Op             string `json:"op"`
	ListID         string `json:"list_id"`
	SubscriberHash string `json:"subscriber_hash,omitempty"`
	Body           any    `json:"body,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every audience call in the order it was made. Calls made
	// concurrently within one step are sorted so the trace is stable.
	Trace []TraceEvent `json:"trace"`

	// Reports holds the processing states announced by backfill steps.
	Reports []status.Report `json:"reports,omitempty"`

	// Errors holds the failed expectations. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddCallTrace appends a call made during the given flow step.
func (r *Result) AddCallTrace(step int, op, listID, hash string, body any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:            len(r.Trace) + 1,
		Step:           step,
		Op:             op,
		ListID:         listID,
		SubscriberHash: hash,
		Body:           body,
	})
}
