package backfill

import (
	"github.com/mailchimp/Firebase/internal/config"
)

// QueueName is the task queue backfill pages are dispatched on.
const QueueName = "backfill"

// PageSize is the default number of records one dispatch handles.
const PageSize = 100

// TaskType selects the record source a task pages through.
type TaskType string

const (
	// TaskSyncIdentitySource adds every account to the audience.
	TaskSyncIdentitySource TaskType = "SYNC_IDENTITY_SOURCE"
	// TaskSyncDocumentSource replays every document of a collection as a
	// creation.
	TaskSyncDocumentSource TaskType = "SYNC_DOCUMENT_SOURCE"
)

// Task is one sub-task of a backfill.
type Task struct {
	Type           TaskType        `json:"type"`
	Sources        []config.Source `json:"sources"`
	CollectionPath string          `json:"collectionPath,omitempty"`
}

// TaskState is the cursor and running counts of one task.
type TaskState struct {
	NextPageToken      string  `json:"nextPageToken,omitempty"`
	SuccessCount       int     `json:"successCount"`
	ErrorCount         int     `json:"errorCount"`
	LastBatchErrorRate float64 `json:"lastBatchErrorRate"`
}

// Totals counts records across every task of a lineage.
type Totals struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// TaskData is the dispatch payload. It carries everything the next
// dispatch needs; nothing about a running backfill is held in memory.
//
// Tasks are content-addressed by the queue, so every successor must differ
// from its predecessor. Lineage separates runs, Page separates pages of a
// task and Attempt separates retries of a page.
type TaskData struct {
	Lineage   string    `json:"lineage"`
	Task      Task      `json:"task"`
	Remaining []Task    `json:"remainingTasks"`
	State     TaskState `json:"taskState"`
	Totals    Totals    `json:"totals"`
	Page      int       `json:"page"`
	Attempt   int       `json:"attempt"`
}

// Status is the outcome of one page.
type Status string

const (
	StatusPass     Status = "PASS"
	StatusContinue Status = "CONTINUE"
	StatusFail     Status = "FAIL"
)

// Outcome is what one dispatch decided. Next is the successor that was
// enqueued, if any.
type Outcome struct {
	Status Status
	State  TaskState
	Next   *TaskData
}

// Plan returns the ordered sub-tasks of a backfill: the identity source
// first when configured, then one document-source task per distinct
// collection. Sources whose features share a watch path share a task.
// Sources whose feature is not configured are dropped.
func Plan(cfg *config.Config) (tasks []Task, skipped []config.Source) {
	if cfg.Backfill == nil {
		return nil, nil
	}
	if cfg.Backfill.HasSource(config.SourceAuth) {
		tasks = append(tasks, Task{
			Type:    TaskSyncIdentitySource,
			Sources: []config.Source{config.SourceAuth},
		})
	}

	index := map[string]int{}
	for _, src := range cfg.Backfill.Sources {
		if src == config.SourceAuth {
			continue
		}
		watch := cfg.WatchPath(config.Feature(src))
		if watch == "" {
			skipped = append(skipped, src)
			continue
		}
		coll := config.CollectionPath(watch)
		if i, ok := index[coll]; ok {
			if !hasSource(tasks[i].Sources, src) {
				tasks[i].Sources = append(tasks[i].Sources, src)
			}
			continue
		}
		index[coll] = len(tasks)
		tasks = append(tasks, Task{
			Type:           TaskSyncDocumentSource,
			Sources:        []config.Source{src},
			CollectionPath: coll,
		})
	}
	return tasks, skipped
}

func hasSource(sources []config.Source, s config.Source) bool {
	for _, src := range sources {
		if src == s {
			return true
		}
	}
	return false
}
