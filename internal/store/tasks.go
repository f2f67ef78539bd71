package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Task states.
const (
	TaskPending = "pending"
	TaskRunning = "running"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// Task is one queued continuation payload.
type Task struct {
	Seq       int64
	ID        string
	Queue     string
	Payload   json.RawMessage
	State     string
	Attempts  int
	LastError string
}

// EnqueueTask adds a payload to a queue. created is false when an
// identical task (same queue and payload) already exists.
func (s *Store) EnqueueTask(ctx context.Context, queue string, payload any) (id string, created bool, err error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("enqueue task: encode payload: %w", err)
	}
	id, err = TaskID(queue, body)
	if err != nil {
		return "", false, fmt.Errorf("enqueue task: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, queue, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, queue, string(body))
	if err != nil {
		return "", false, fmt.Errorf("enqueue task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("enqueue task: %w", err)
	}
	return id, n > 0, nil
}

// ClaimTask marks the oldest pending task running and returns it. It
// returns nil when nothing is pending.
func (s *Store) ClaimTask(ctx context.Context) (*Task, error) {
	t := &Task{State: TaskRunning}
	var payload string
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET state = 'running', attempts = attempts + 1
		WHERE seq = (
			SELECT seq FROM tasks WHERE state = 'pending' ORDER BY seq ASC LIMIT 1
		)
		RETURNING seq, id, queue, payload, attempts, last_error
	`).Scan(&t.Seq, &t.ID, &t.Queue, &payload, &t.Attempts, &t.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	t.Payload = json.RawMessage(payload)
	return t, nil
}

// CompleteTask marks a task done.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	return s.setTaskState(ctx, id, TaskDone, "")
}

// FailTask records a failed delivery. The task goes back to pending while
// it has been attempted fewer than maxAttempts times; otherwise it is
// marked failed. requeued reports which happened.
func (s *Store) FailTask(ctx context.Context, id, reason string, maxAttempts int) (requeued bool, err error) {
	var attempts int
	if err := s.db.QueryRowContext(ctx, `SELECT attempts FROM tasks WHERE id = ?`, id).Scan(&attempts); err != nil {
		return false, fmt.Errorf("fail task %s: %w", id, err)
	}
	state := TaskFailed
	if attempts < maxAttempts {
		state = TaskPending
	}
	if err := s.setTaskState(ctx, id, state, reason); err != nil {
		return false, err
	}
	return state == TaskPending, nil
}

// RequeueRunning returns tasks left running by an interrupted worker to
// the pending state.
func (s *Store) RequeueRunning(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET state = 'pending' WHERE state = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("requeue running tasks: %w", err)
	}
	return res.RowsAffected()
}

// Tasks returns every task in enqueue order, optionally filtered by state.
func (s *Store) Tasks(ctx context.Context, state string) ([]Task, error) {
	query := `SELECT seq, id, queue, payload, state, attempts, last_error FROM tasks`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		var t Task
		var payload string
		if err := rows.Scan(&t.Seq, &t.ID, &t.Queue, &payload, &t.State, &t.Attempts, &t.LastError); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Payload = json.RawMessage(payload)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) setTaskState(ctx context.Context, id, state, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?, last_error = ? WHERE id = ?
	`, state, reason, id)
	if err != nil {
		return fmt.Errorf("set task %s %s: %w", id, state, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set task %s %s: no such task", id, state)
	}
	return nil
}
