package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailchimp/Firebase/internal/audience"
	"github.com/mailchimp/Firebase/internal/config"
	"github.com/mailchimp/Firebase/internal/engine"
	"github.com/mailchimp/Firebase/internal/identity"
	"github.com/mailchimp/Firebase/internal/status"
	"github.com/mailchimp/Firebase/internal/store"
	"github.com/mailchimp/Firebase/internal/testutil"
)

type fixture struct {
	store    *store.Store
	engine   *engine.Engine
	client   *testutil.RecordingClient
	reporter *status.MemoryReporter
	orch     *Orchestrator
}

func newFixture(t *testing.T, raw config.Raw, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	client := testutil.NewRecordingClient()
	eng := engine.New(engine.WithClientFactory(func(*config.Config) (audience.Client, error) {
		return client, nil
	}))
	raw.APIKey = "secret-us1"
	raw.AudienceID = "list1"
	_, err = eng.Configure(raw)
	require.NoError(t, err)

	reporter := &status.MemoryReporter{}
	opts = append([]Option{WithLineageGenerator(testutil.NewSequenceGenerator("lineage"))}, opts...)
	return &fixture{
		store:    s,
		engine:   eng,
		client:   client,
		reporter: reporter,
		orch:     New(eng, s, s, s, reporter, opts...),
	}
}

// drain dispatches queued backfill tasks until none remain and returns the
// decoded payloads in dispatch order.
func (f *fixture) drain(t *testing.T) []TaskData {
	t.Helper()
	ctx := context.Background()
	var dispatched []TaskData
	for i := 0; i < 100; i++ {
		task, err := f.store.ClaimTask(ctx)
		require.NoError(t, err)
		if task == nil {
			return dispatched
		}
		require.Equal(t, QueueName, task.Queue)

		var data TaskData
		require.NoError(t, json.Unmarshal(task.Payload, &data))
		dispatched = append(dispatched, data)

		require.NoError(t, f.orch.Execute(ctx, task.Payload))
		require.NoError(t, f.store.CompleteTask(ctx, task.ID))
	}
	t.Fatal("backfill did not terminate")
	return nil
}

func (f *fixture) addUsers(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.store.CreateUser(context.Background(), identity.User{
			UID:   fmt.Sprintf("u%03d", i),
			Email: fmt.Sprintf("user%d@x.com", i),
		}))
	}
}

func TestStart_TriggerNotConfigured(t *testing.T) {
	f := newFixture(t, config.Raw{BackfillConfig: `{"sources":["AUTH"],"events":["INSTALL"]}`})

	require.NoError(t, f.orch.Start(context.Background(), config.TriggerUpdate))

	last, ok := f.reporter.Last()
	require.True(t, ok)
	assert.Equal(t, status.Report{State: status.Complete, Message: "No processing requested."}, last)
	assert.Empty(t, f.drain(t))
}

func TestStart_NoBackfillConfig(t *testing.T) {
	f := newFixture(t, config.Raw{})
	require.NoError(t, f.orch.Start(context.Background(), config.TriggerInstall))

	last, _ := f.reporter.Last()
	assert.Equal(t, status.Complete, last.State)
}

// Scenario D: 250 identities, page size 100, no errors.
func TestIdentityBackfill_ThreePages(t *testing.T) {
	f := newFixture(t, config.Raw{BackfillConfig: `{"sources":["AUTH"],"events":["INSTALL"]}`})
	f.addUsers(t, 250)

	require.NoError(t, f.orch.Start(context.Background(), config.TriggerInstall))
	dispatched := f.drain(t)

	require.Len(t, dispatched, 3)
	for i, d := range dispatched {
		assert.Equal(t, "lineage-1", d.Lineage)
		assert.Equal(t, TaskSyncIdentitySource, d.Task.Type)
		assert.Equal(t, i, d.Page)
	}
	assert.Equal(t, 100, dispatched[1].State.SuccessCount)
	assert.Equal(t, 200, dispatched[2].State.SuccessCount)

	assert.Len(t, f.client.CallsFor(audience.OpAddMember), 250)
	last, ok := f.reporter.Last()
	require.True(t, ok)
	assert.Equal(t, status.Complete, last.State)
	assert.Equal(t, "Backfill process completed! 250 records synced.", last.Message)
}

func TestIdentityBackfill_MemberExistsCountsAsSuccess(t *testing.T) {
	f := newFixture(t, config.Raw{BackfillConfig: `{"sources":["AUTH"],"events":["INSTALL"]}`})
	f.addUsers(t, 3)
	f.client.FailNext(audience.OpAddMember, &audience.APIError{Status: 400, Title: audience.TitleMemberExists})

	require.NoError(t, f.orch.Start(context.Background(), config.TriggerInstall))
	f.drain(t)

	last, _ := f.reporter.Last()
	assert.Equal(t, status.Complete, last.State)
	assert.Equal(t, "Backfill process completed! 3 records synced.", last.Message)
}

func TestIdentityBackfill_PartialFailureWarns(t *testing.T) {
	f := newFixture(t, config.Raw{BackfillConfig: `{"sources":["AUTH"],"events":["INSTALL"]}`})
	f.addUsers(t, 4)
	f.client.FailNext(audience.OpAddMember, errors.New("boom"))

	require.NoError(t, f.orch.Start(context.Background(), config.TriggerInstall))
	f.drain(t)

	last, _ := f.reporter.Last()
	assert.Equal(t, status.Warning, last.State)
	assert.Equal(t, "Backfill process completed with errors: 3 records synced, 1 failed.", last.Message)
}

func TestIdentityBackfill_FullPageFailure(t *testing.T) {
	f := newFixture(t, config.Raw{BackfillConfig: `{"sources":["AUTH","MERGE_FIELDS"],"events":["INSTALL"]}`,
		MergeFields:          `{"mergeFields":{"name":"FNAME"},"subscriberEmail":"email"}`,
		MergeFieldsWatchPath: "users/{uid}",
	})
	f.addUsers(t, 5)
	f.client.FailAlways(audience.OpAddMember, errors.New("boom"))

	require.NoError(t, f.orch.Start(context.Background(), config.TriggerInstall))
	dispatched := f.drain(t)

	require.Len(t, dispatched, 1, "a failed task stops the chain")
	last, _ := f.reporter.Last()
	assert.Equal(t, status.Failed, last.State)
	assert.Equal(t, "Task SYNC_IDENTITY_SOURCE failed and cannot be retried. Check function logs for more information.", last.Message)
}

func TestIdentityBackfill_TaskRetries(t *testing.T) {
	f := newFixture(t, config.Raw{BackfillConfig: `{"sources":["AUTH"],"events":["INSTALL"]}`}, WithTaskRetries(1))
	f.addUsers(t, 2)
	boom := errors.New("boom")
	f.client.FailNext(audience.OpAddMember, boom, boom)

	require.NoError(t, f.orch.Start(context.Background(), config.TriggerInstall))
	dispatched := f.drain(t)

	require.Len(t, dispatched, 2)
	assert.Equal(t, 1, dispatched[1].Attempt)
	assert.Equal(t, dispatched[0].State, dispatched[1].State, "retry reuses the cursor")

	reports := f.reporter.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, status.Report{State: status.Warning, Message: "Task SYNC_IDENTITY_SOURCE attempt failed and will be retried"}, reports[0])
	assert.Equal(t, status.Complete, reports[1].State)
}

func TestDocumentBackfill_MergeFieldsAndTags(t *testing.T) {
	f := newFixture(t, config.Raw{
		BackfillConfig:        `{"sources":["MERGE_FIELDS","MEMBER_TAGS","MEMBER_EVENTS"],"events":["CONFIGURE"]}`,
		MergeFields:           `{"mergeFields":{"name":"FNAME"},"subscriberEmail":"email"}`,
		MergeFieldsWatchPath:  "users/{uid}",
		MemberTags:            `{"memberTags":["tags"],"subscriberEmail":"email"}`,
		MemberTagsWatchPath:   "users/{uid}",
		MemberEvents:          `{"memberEvents":["activity"],"subscriberEmail":"email"}`,
		MemberEventsWatchPath: "users/{uid}",
	}, WithPageSize(2))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := f.store.WriteDocument(ctx, fmt.Sprintf("users/u%d", i), map[string]any{
			"email":    fmt.Sprintf("user%d@x.com", i),
			"name":     fmt.Sprintf("User %d", i),
			"tags":     []any{"vip"},
			"activity": []any{"signup"},
		})
		require.NoError(t, err)
	}

	require.NoError(t, f.orch.Start(ctx, config.TriggerConfigure))
	dispatched := f.drain(t)

	require.Len(t, dispatched, 2)
	assert.Equal(t, Task{
		Type:           TaskSyncDocumentSource,
		Sources:        []config.Source{config.SourceMergeFields, config.SourceMemberTags, config.SourceMemberEvents},
		CollectionPath: "users",
	}, dispatched[0].Task)

	assert.Len(t, f.client.CallsFor(audience.OpSetMember), 3)
	assert.Len(t, f.client.CallsFor(audience.OpUpdateMemberTags), 3)
	assert.Empty(t, f.client.CallsFor(audience.OpCreateMemberEvent), "events are never replayed")

	last, _ := f.reporter.Last()
	assert.Equal(t, "Backfill process completed! 3 records synced.", last.Message)
}

func TestBackfill_IdentityThenDocuments(t *testing.T) {
	f := newFixture(t, config.Raw{
		BackfillConfig:      `{"sources":["MEMBER_TAGS","AUTH"],"events":["INSTALL"]}`,
		MemberTags:          `{"memberTags":["tags"],"subscriberEmail":"email"}`,
		MemberTagsWatchPath: "customers/{id}",
	})
	ctx := context.Background()
	f.addUsers(t, 2)
	_, _, err := f.store.WriteDocument(ctx, "customers/c1", map[string]any{"email": "c@x.com", "tags": []any{"t"}})
	require.NoError(t, err)

	require.NoError(t, f.orch.Start(ctx, config.TriggerInstall))
	dispatched := f.drain(t)

	require.Len(t, dispatched, 2)
	assert.Equal(t, TaskSyncIdentitySource, dispatched[0].Task.Type)
	assert.Equal(t, TaskSyncDocumentSource, dispatched[1].Task.Type)
	assert.Equal(t, Totals{Succeeded: 2}, dispatched[1].Totals)

	calls := f.client.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, audience.OpUpdateMemberTags, calls[2].Op)
}

func TestDispatch_UnrecognizedTaskType(t *testing.T) {
	f := newFixture(t, config.Raw{})
	out, err := f.orch.Dispatch(context.Background(), TaskData{Lineage: "l", Task: Task{Type: "SYNC_NOTHING"}})
	require.NoError(t, err)
	assert.Equal(t, StatusFail, out.Status)

	last, _ := f.reporter.Last()
	assert.Equal(t, status.Failed, last.State)
}

func TestExecute_BadPayload(t *testing.T) {
	f := newFixture(t, config.Raw{})
	assert.Error(t, f.orch.Execute(context.Background(), json.RawMessage(`{"task":`)))
}

func TestPlan(t *testing.T) {
	cfg := &config.Config{
		MergeFields:  &config.MergeFieldsConfig{WatchPath: "users/{uid}"},
		MemberTags:   &config.TagConfig{WatchPath: "users/{uid}"},
		MemberEvents: &config.EventsConfig{WatchPath: "events/{id}"},
		Backfill: &config.BackfillConfig{Sources: []config.Source{
			config.SourceMemberEvents,
			config.SourceMergeFields,
			config.SourceAuth,
			config.SourceMemberTags,
		}},
	}

	tasks, skipped := Plan(cfg)
	assert.Empty(t, skipped)
	assert.Equal(t, []Task{
		{Type: TaskSyncIdentitySource, Sources: []config.Source{config.SourceAuth}},
		{Type: TaskSyncDocumentSource, Sources: []config.Source{config.SourceMemberEvents}, CollectionPath: "events"},
		{Type: TaskSyncDocumentSource, Sources: []config.Source{config.SourceMergeFields, config.SourceMemberTags}, CollectionPath: "users"},
	}, tasks)
}

func TestPlan_SkipsUnconfiguredFeature(t *testing.T) {
	cfg := &config.Config{
		Backfill: &config.BackfillConfig{Sources: []config.Source{config.SourceMemberTags}},
	}
	tasks, skipped := Plan(cfg)
	assert.Empty(t, tasks)
	assert.Equal(t, []config.Source{config.SourceMemberTags}, skipped)
}

func TestPageResult_ErrorRate(t *testing.T) {
	assert.Equal(t, 0.0, pageResult{}.errorRate())
	assert.Equal(t, 0.25, pageResult{succeeded: 3, failed: 1}.errorRate())
	assert.Equal(t, 1.0, pageResult{failed: 2}.errorRate())
}
