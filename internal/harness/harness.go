package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/mailchimp/Firebase/internal/audience"
	"github.com/mailchimp/Firebase/internal/backfill"
	"github.com/mailchimp/Firebase/internal/config"
	"github.com/mailchimp/Firebase/internal/engine"
	"github.com/mailchimp/Firebase/internal/identity"
	"github.com/mailchimp/Firebase/internal/retry"
	"github.com/mailchimp/Firebase/internal/status"
	"github.com/mailchimp/Firebase/internal/store"
	"github.com/mailchimp/Firebase/internal/taskqueue"
	"github.com/mailchimp/Firebase/internal/testutil"
)

// Harness is the test execution engine. It wires the real engine, backfill
// orchestrator and task worker to an in-memory store and a recording
// audience client.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	client *testutil.RecordingClient
	orch   *backfill.Orchestrator
	worker *taskqueue.Worker
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. Retry
// backoff runs on a dilated clock and backfill pages are processed one
// record at a time, so traces are reproducible.
//
// Execution flow:
// 1. Create fresh in-memory database and apply the scenario config
// 2. Seed setup users and documents
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(st, scenario.Failures)
	ctx := context.Background()

	raw, err := config.DecodeRaw(scenario.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if _, err := h.engine.Configure(raw); err != nil {
		h.logger.Info("scenario engine is uninitialized", "error", err)
	}

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute flow step %d (%s): %w", i, step.Action(), err)
		}
	}

	states, err := st.ProcessingStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read processing state: %w", err)
	}
	for _, ps := range states {
		result.Reports = append(result.Reports, status.Report{State: status.State(ps.State), Message: ps.Message})
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(st *store.Store, failures []Failure) *Harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client := testutil.NewRecordingClient()
	if len(failures) > 0 {
		client.FailWhen(failureFunc(failures))
	}

	eng := engine.New(
		engine.WithFlowGenerator(testutil.NewSequenceGenerator("flow")),
		engine.WithClientFactory(func(cfg *config.Config) (audience.Client, error) {
			if _, err := config.ParseCredentials(cfg.APIKey); err != nil {
				return nil, err
			}
			return client, nil
		}),
		engine.WithRetryOptions(retry.WithClock(testclock.NewDilatedWallClock(time.Millisecond))),
		engine.WithLogger(logger),
	)

	orch := backfill.New(eng, st, st, st, status.NewStoreReporter(st, logger),
		backfill.WithConcurrency(1),
		backfill.WithLineageGenerator(testutil.NewSequenceGenerator("lineage")),
		backfill.WithLogger(logger),
	)

	worker := taskqueue.NewWorker(st, taskqueue.WithLogger(logger))
	worker.Handle(backfill.QueueName, orch.Execute)

	return &Harness{
		store:  st,
		engine: eng,
		client: client,
		orch:   orch,
		worker: worker,
		logger: logger,
	}
}

// executeSetup writes setup data directly to the store. No trigger fires.
func (h *Harness) executeSetup(ctx context.Context, setup Setup) error {
	for i, u := range setup.Users {
		if err := h.store.CreateUser(ctx, identity.User{UID: u.UID, Email: u.Email}); err != nil {
			return fmt.Errorf("setup user %d: %w", i, err)
		}
	}
	for i, d := range setup.Documents {
		if _, _, err := h.store.WriteDocument(ctx, d.Path, d.Data); err != nil {
			return fmt.Errorf("setup document %d: %w", i, err)
		}
	}
	return nil
}

// executeStep applies one flow step, traces the calls it made and checks
// its expect clause.
func (h *Harness) executeStep(ctx context.Context, i int, step FlowStep, result *Result) error {
	mark := len(h.client.Calls())
	var diags []config.Diagnostic

	switch {
	case step.CreateUser != nil:
		u := identity.User{UID: step.CreateUser.UID, Email: step.CreateUser.Email}
		if err := h.store.CreateUser(ctx, u); err != nil {
			return err
		}
		h.engine.HandleUserCreated(ctx, u)

	case step.DeleteUser != nil:
		u, found, err := h.store.DeleteUser(ctx, step.DeleteUser.UID)
		if err != nil {
			return err
		}
		if !found {
			result.AddError(fmt.Sprintf("flow[%d]: user %q does not exist", i, step.DeleteUser.UID))
			return nil
		}
		h.engine.HandleUserDeleted(ctx, u)

	case step.WriteDocument != nil:
		path := step.WriteDocument.Path
		before, after, err := h.store.WriteDocument(ctx, path, step.WriteDocument.Data)
		if err != nil {
			return err
		}
		h.engine.HandleDocumentWrite(ctx, path, before, after)

	case step.DeleteDocument != nil:
		path := step.DeleteDocument.Path
		before, err := h.store.DeleteDocument(ctx, path)
		if err != nil {
			return err
		}
		if before == nil {
			result.AddError(fmt.Sprintf("flow[%d]: document %q does not exist", i, path))
			return nil
		}
		h.engine.HandleDocumentWrite(ctx, path, before, nil)

	case step.Backfill != nil:
		if err := h.orch.Start(ctx, config.Trigger(step.Backfill.Event)); err != nil {
			return err
		}
		if _, err := h.worker.Drain(ctx); err != nil {
			return err
		}

	case step.Reconfigure != nil:
		raw, err := config.DecodeRaw(step.Reconfigure)
		if err != nil {
			return err
		}
		diags, err = h.engine.Configure(raw)
		if err != nil {
			h.logger.Info("reconfigured engine is uninitialized", "error", err)
		}
	}

	calls := testutil.SortEventRuns(h.client.Calls()[mark:])
	for _, c := range calls {
		body, err := genericBody(c.Body)
		if err != nil {
			return err
		}
		result.AddCallTrace(i, c.Op, c.ListID, callHash(c), body)
	}

	if step.Expect != nil {
		checkExpect(i, step, step.Expect, len(calls), diags, result)
	}
	return nil
}

func checkExpect(i int, step FlowStep, exp *ExpectClause, calls int, diags []config.Diagnostic, result *Result) {
	if exp.Calls != nil && *exp.Calls != calls {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected %d audience calls, got %d", i, step.Action(), *exp.Calls, calls))
	}
	if exp.Diagnostics != nil {
		codes := make([]string, 0, len(diags))
		for _, d := range diags {
			codes = append(codes, d.Code)
		}
		if !slices.Equal(codes, exp.Diagnostics) {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected diagnostics %v, got %v", i, step.Action(), exp.Diagnostics, codes))
		}
	}
}

// failureFunc scripts the scenario failures. It runs under the recording
// client's lock, so the counters need no locking of their own.
func failureFunc(failures []Failure) func(testutil.Call) error {
	remaining := make([]int, len(failures))
	for i, f := range failures {
		remaining[i] = f.Times
	}
	return func(call testutil.Call) error {
		for i, f := range failures {
			if f.Op != call.Op {
				continue
			}
			if f.Email != "" && callHash(call) != identity.SubscriberHash(f.Email) {
				continue
			}
			if f.Times > 0 {
				if remaining[i] == 0 {
					continue
				}
				remaining[i]--
			}
			title := f.Title
			if title == "" {
				title = http.StatusText(f.Status)
			}
			return &audience.APIError{Status: f.Status, Title: title}
		}
		return nil
	}
}

// callHash returns the subscriber a call targets. Adds carry the address
// in the body instead of the path.
func callHash(call testutil.Call) string {
	if req, ok := call.Body.(audience.AddMemberRequest); ok {
		return identity.SubscriberHash(req.EmailAddress)
	}
	return call.SubscriberHash
}

// genericBody converts a request body to the JSON value model so it can be
// compared against YAML expectations and written to golden files.
func genericBody(body any) (any, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode call body: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode call body: %w", err)
	}
	return out, nil
}
