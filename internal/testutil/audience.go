// Package testutil holds fakes shared by package tests and the conformance
// harness.
package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/mailchimp/Firebase/internal/audience"
	"github.com/mailchimp/Firebase/internal/delta"
)

// Call is one recorded audience request.
type Call struct {
	Op             string `json:"op" yaml:"op"`
	ListID         string `json:"list_id" yaml:"list_id"`
	SubscriberHash string `json:"subscriber_hash,omitempty" yaml:"subscriber_hash,omitempty"`
	Body           any    `json:"body,omitempty" yaml:"body,omitempty"`
}

// RecordingClient is an in-memory audience.Client. Every call is recorded,
// including calls that fail. Failures are scripted per operation.
//
// RecordingClient is safe for concurrent use.
type RecordingClient struct {
	mu     sync.Mutex
	calls  []Call
	queued map[string][]error
	always map[string]error
	fail   func(Call) error
}

var _ audience.Client = (*RecordingClient)(nil)

// NewRecordingClient returns a client on which every call succeeds.
func NewRecordingClient() *RecordingClient {
	return &RecordingClient{
		queued: map[string][]error{},
		always: map[string]error{},
	}
}

// FailNext makes the next len(errs) calls of op fail with errs in order.
func (c *RecordingClient) FailNext(op string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queued[op] = append(c.queued[op], errs...)
}

// FailAlways makes every call of op fail with err. A nil err clears it.
func (c *RecordingClient) FailAlways(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.always, op)
		return
	}
	c.always[op] = err
}

// FailWhen consults f for every call after queued and sticky failures.
func (c *RecordingClient) FailWhen(f func(Call) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = f
}

// Calls returns a copy of the recorded calls in arrival order.
func (c *RecordingClient) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsFor returns the recorded calls of one operation.
func (c *RecordingClient) CallsFor(op string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

// Reset forgets recorded calls and scripted failures.
func (c *RecordingClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
	c.queued = map[string][]error{}
	c.always = map[string]error{}
	c.fail = nil
}

func (c *RecordingClient) record(call Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)

	if q := c.queued[call.Op]; len(q) > 0 {
		c.queued[call.Op] = q[1:]
		return q[0]
	}
	if err, ok := c.always[call.Op]; ok {
		return err
	}
	if c.fail != nil {
		return c.fail(call)
	}
	return nil
}

// AddMember implements audience.Client.
func (c *RecordingClient) AddMember(_ context.Context, listID string, req audience.AddMemberRequest) (audience.Member, error) {
	err := c.record(Call{Op: audience.OpAddMember, ListID: listID, Body: req})
	if err != nil {
		return audience.Member{}, err
	}
	return audience.Member{EmailAddress: req.EmailAddress, Status: req.Status}, nil
}

// DeleteMember implements audience.Client.
func (c *RecordingClient) DeleteMember(_ context.Context, listID, subscriberHash string) error {
	return c.record(Call{Op: audience.OpDeleteMember, ListID: listID, SubscriberHash: subscriberHash})
}

// UpdateMemberTags implements audience.Client.
func (c *RecordingClient) UpdateMemberTags(_ context.Context, listID, subscriberHash string, tags []delta.TagChange) error {
	return c.record(Call{Op: audience.OpUpdateMemberTags, ListID: listID, SubscriberHash: subscriberHash, Body: tags})
}

// SetMember implements audience.Client.
func (c *RecordingClient) SetMember(_ context.Context, listID, subscriberHash string, req audience.SetMemberRequest) error {
	return c.record(Call{Op: audience.OpSetMember, ListID: listID, SubscriberHash: subscriberHash, Body: req})
}

// CreateMemberEvent implements audience.Client.
func (c *RecordingClient) CreateMemberEvent(_ context.Context, listID, subscriberHash, name string) error {
	return c.record(Call{Op: audience.OpCreateMemberEvent, ListID: listID, SubscriberHash: subscriberHash, Body: name})
}

// StableCalls returns the recorded calls with each run of consecutive
// member-event calls sorted by subscriber and name.
func (c *RecordingClient) StableCalls() []Call {
	return SortEventRuns(c.Calls())
}

// SortEventRuns sorts each run of consecutive member-event calls in place
// by subscriber and name and returns calls. Those calls are made
// concurrently, so their arrival order is not meaningful.
func SortEventRuns(calls []Call) []Call {
	for i := 0; i < len(calls); {
		if calls[i].Op != audience.OpCreateMemberEvent {
			i++
			continue
		}
		j := i
		for j < len(calls) && calls[j].Op == audience.OpCreateMemberEvent {
			j++
		}
		run := calls[i:j]
		sort.SliceStable(run, func(a, b int) bool {
			if run[a].SubscriberHash != run[b].SubscriberHash {
				return run[a].SubscriberHash < run[b].SubscriberHash
			}
			na, _ := run[a].Body.(string)
			nb, _ := run[b].Body.(string)
			return na < nb
		})
		i = j
	}
	return calls
}
