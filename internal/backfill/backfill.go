package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mailchimp/Firebase/internal/audience"
	"github.com/mailchimp/Firebase/internal/config"
	"github.com/mailchimp/Firebase/internal/engine"
	"github.com/mailchimp/Firebase/internal/identity"
	"github.com/mailchimp/Firebase/internal/metrics"
	"github.com/mailchimp/Firebase/internal/status"
	"github.com/mailchimp/Firebase/internal/store"
)

// Syncer applies records to the audience. *engine.Engine implements it.
type Syncer interface {
	Config() *config.Config
	AddUser(ctx context.Context, u identity.User) error
	SyncMergeFields(ctx context.Context, prev, next map[string]any) error
	SyncMemberTags(ctx context.Context, prev, next map[string]any) error
}

// UserLister pages through accounts.
type UserLister interface {
	ListUsers(ctx context.Context, pageSize int, pageToken string) ([]identity.User, string, error)
}

// DocumentLister pages through a collection by document id.
type DocumentLister interface {
	ListDocuments(ctx context.Context, collection string, limit int, after string) ([]store.Document, string, error)
}

// Enqueuer hands a payload to the task queue. created is false when an
// identical payload is already queued.
type Enqueuer interface {
	EnqueueTask(ctx context.Context, queue string, payload any) (id string, created bool, err error)
}

// IDGenerator issues lineage ids.
type IDGenerator interface {
	Generate() string
}

// Orchestrator starts backfills and executes their pages.
type Orchestrator struct {
	sync     Syncer
	users    UserLister
	docs     DocumentLister
	queue    Enqueuer
	reporter status.Reporter

	lineage     IDGenerator
	pageSize    int
	concurrency int
	taskRetries int
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPageSize overrides PageSize.
func WithPageSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithConcurrency bounds the records of one page processed at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithTaskRetries lets a failed page be re-dispatched n times before the
// backfill is reported failed. The default is 0.
func WithTaskRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.taskRetries = n
		}
	}
}

// WithLineageGenerator sets the lineage id generator.
func WithLineageGenerator(g IDGenerator) Option {
	return func(o *Orchestrator) { o.lineage = g }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New returns an Orchestrator.
func New(s Syncer, users UserLister, docs DocumentLister, q Enqueuer, r status.Reporter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sync:        s,
		users:       users,
		docs:        docs,
		queue:       q,
		reporter:    r,
		lineage:     engine.UUIDv7Generator{},
		pageSize:    PageSize,
		concurrency: 10,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "backfill")
	return o
}

// Start handles a lifecycle trigger. When the trigger is not configured
// the run completes immediately; otherwise the first sub-task is queued.
func (o *Orchestrator) Start(ctx context.Context, trigger config.Trigger) error {
	cfg := o.sync.Config()
	if !cfg.Backfill.HasTrigger(trigger) {
		o.logger.Info("backfill not requested", "trigger", string(trigger))
		return o.reporter.Report(ctx, status.Complete, "No processing requested.")
	}

	tasks, skipped := Plan(cfg)
	for _, src := range skipped {
		o.logger.Warn("backfill source has no configured feature, skipping", "source", string(src))
	}
	if len(tasks) == 0 {
		return o.reporter.Report(ctx, status.Complete, "No backfill sources configured.")
	}

	data := TaskData{
		Lineage:   o.lineage.Generate(),
		Task:      tasks[0],
		Remaining: tasks[1:],
	}
	o.logger.Info("backfill started",
		"trigger", string(trigger),
		"lineage", data.Lineage,
		"tasks", len(tasks))
	return o.enqueue(ctx, data)
}

// Execute is the task-queue handler for QueueName. A returned error means
// the dispatch itself broke (bad payload, unreadable source) and should be
// redelivered; page failures are reported, not returned.
func (o *Orchestrator) Execute(ctx context.Context, payload json.RawMessage) error {
	var data TaskData
	if err := json.Unmarshal(payload, &data); err != nil {
		return fmt.Errorf("decode backfill task: %w", err)
	}
	_, err := o.Dispatch(ctx, data)
	return err
}

// Dispatch runs one page of data's task and enqueues its successor.
func (o *Orchestrator) Dispatch(ctx context.Context, data TaskData) (Outcome, error) {
	log := o.logger.With(
		"lineage", data.Lineage,
		"task_type", string(data.Task.Type),
		"page", data.Page,
		"attempt", data.Attempt)

	var (
		res pageResult
		err error
	)
	switch data.Task.Type {
	case TaskSyncIdentitySource:
		res, err = o.syncIdentities(ctx, log, data.State.NextPageToken)
	case TaskSyncDocumentSource:
		res, err = o.syncDocuments(ctx, log, data.Task, data.State.NextPageToken)
	default:
		log.Error("unrecognized task type")
		return o.fail(ctx, log, data, data.State)
	}
	if err != nil {
		return Outcome{}, err
	}

	state := data.State
	state.SuccessCount += res.succeeded
	state.ErrorCount += res.failed
	state.LastBatchErrorRate = res.errorRate()
	o.metrics.BackfillRecords(string(data.Task.Type), res.succeeded, res.failed)

	if state.LastBatchErrorRate >= 1 {
		return o.fail(ctx, log, data, state)
	}

	totals := Totals{
		Succeeded: data.Totals.Succeeded + res.succeeded,
		Failed:    data.Totals.Failed + res.failed,
	}

	if res.next != "" {
		state.NextPageToken = res.next
		next := TaskData{
			Lineage:   data.Lineage,
			Task:      data.Task,
			Remaining: data.Remaining,
			State:     state,
			Totals:    totals,
			Page:      data.Page + 1,
		}
		log.Info("task continued", "success_count", state.SuccessCount, "error_count", state.ErrorCount)
		o.metrics.BackfillPage(string(data.Task.Type), string(StatusContinue))
		if err := o.enqueue(ctx, next); err != nil {
			return Outcome{}, err
		}
		return Outcome{Status: StatusContinue, State: state, Next: &next}, nil
	}

	state.NextPageToken = ""
	log.Info("task succeeded", "success_count", state.SuccessCount, "error_count", state.ErrorCount)
	o.metrics.BackfillPage(string(data.Task.Type), string(StatusPass))

	if len(data.Remaining) > 0 {
		next := TaskData{
			Lineage:   data.Lineage,
			Task:      data.Remaining[0],
			Remaining: data.Remaining[1:],
			Totals:    totals,
		}
		if err := o.enqueue(ctx, next); err != nil {
			return Outcome{}, err
		}
		return Outcome{Status: StatusPass, State: state, Next: &next}, nil
	}

	if totals.Failed > 0 {
		err = o.reporter.Report(ctx, status.Warning, fmt.Sprintf(
			"Backfill process completed with errors: %d records synced, %d failed.", totals.Succeeded, totals.Failed))
	} else {
		err = o.reporter.Report(ctx, status.Complete, fmt.Sprintf(
			"Backfill process completed! %d records synced.", totals.Succeeded))
	}
	return Outcome{Status: StatusPass, State: state}, err
}

// fail handles a fully failed page: retried with the same cursor while
// attempts remain, otherwise reported as a failed backfill.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, data TaskData, state TaskState) (Outcome, error) {
	o.metrics.BackfillPage(string(data.Task.Type), string(StatusFail))

	if data.Attempt < o.taskRetries {
		log.Warn("task attempt failed", "retries", o.taskRetries)
		retry := data
		retry.Attempt++
		if err := o.reporter.Report(ctx, status.Warning,
			fmt.Sprintf("Task %s attempt failed and will be retried", data.Task.Type)); err != nil {
			return Outcome{}, err
		}
		if err := o.enqueue(ctx, retry); err != nil {
			return Outcome{}, err
		}
		return Outcome{Status: StatusFail, State: state, Next: &retry}, nil
	}

	log.Error("task failed", "success_count", state.SuccessCount, "error_count", state.ErrorCount)
	err := o.reporter.Report(ctx, status.Failed, fmt.Sprintf(
		"Task %s failed and cannot be retried. Check function logs for more information.", data.Task.Type))
	return Outcome{Status: StatusFail, State: state}, err
}

func (o *Orchestrator) enqueue(ctx context.Context, data TaskData) error {
	id, created, err := o.queue.EnqueueTask(ctx, QueueName, data)
	if err != nil {
		return fmt.Errorf("enqueue backfill task: %w", err)
	}
	if !created {
		o.logger.Debug("backfill task already queued", "task_id", id, "lineage", data.Lineage)
	}
	return nil
}

type pageResult struct {
	succeeded int
	failed    int
	next      string
}

func (r pageResult) errorRate() float64 {
	total := r.succeeded + r.failed
	if total == 0 {
		return 0
	}
	return float64(r.failed) / float64(total)
}

func (o *Orchestrator) syncIdentities(ctx context.Context, log *slog.Logger, token string) (pageResult, error) {
	users, next, err := o.users.ListUsers(ctx, o.pageSize, token)
	if err != nil {
		return pageResult{}, fmt.Errorf("list users: %w", err)
	}
	audienceID := o.sync.Config().AudienceID

	res := o.each(len(users), func(i int) error {
		u := users[i]
		if u.Email == "" {
			log.Debug("user has no email, skipping", "uid", u.UID)
			return nil
		}
		err := o.sync.AddUser(ctx, u)
		switch {
		case err == nil:
			return nil
		case audience.IsMemberExists(err):
			log.Info("user already in audience", "uid", u.UID, "audience_id", audienceID)
			return nil
		default:
			log.Error("add user failed", "uid", u.UID, "error", err)
			return err
		}
	})
	res.next = next
	return res, nil
}

func (o *Orchestrator) syncDocuments(ctx context.Context, log *slog.Logger, task Task, token string) (pageResult, error) {
	docs, next, err := o.docs.ListDocuments(ctx, task.CollectionPath, o.pageSize, token)
	if err != nil {
		return pageResult{}, fmt.Errorf("list documents %s: %w", task.CollectionPath, err)
	}
	merge := hasSource(task.Sources, config.SourceMergeFields)
	tags := hasSource(task.Sources, config.SourceMemberTags)

	// Member events are not replayed: creating an event is not idempotent.
	res := o.each(len(docs), func(i int) error {
		doc := docs[i]
		if merge {
			if err := o.sync.SyncMergeFields(ctx, nil, doc.Data); err != nil {
				log.Error("document sync failed", "path", doc.Path, "error", err)
				return err
			}
		}
		if tags {
			if err := o.sync.SyncMemberTags(ctx, nil, doc.Data); err != nil {
				log.Error("document sync failed", "path", doc.Path, "error", err)
				return err
			}
		}
		return nil
	})
	res.next = next
	return res, nil
}

// each runs fn for indexes [0,n) with bounded concurrency and counts the
// outcomes. Every record is attempted regardless of other failures.
func (o *Orchestrator) each(n int, fn func(i int) error) pageResult {
	var ok, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := fn(i); err != nil {
				failed.Add(1)
			} else {
				ok.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return pageResult{succeeded: int(ok.Load()), failed: int(failed.Load())}
}
