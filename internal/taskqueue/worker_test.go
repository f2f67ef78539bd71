package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailchimp/Firebase/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDrain_DeliversInOrderIncludingSuccessors(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	w := NewWorker(s)

	var seen []int
	w.Handle("count", func(ctx context.Context, payload json.RawMessage) error {
		var n int
		require.NoError(t, json.Unmarshal(payload, &n))
		seen = append(seen, n)
		if n < 3 {
			_, _, err := s.EnqueueTask(ctx, "count", n+1)
			return err
		}
		return nil
	})

	_, _, err := s.EnqueueTask(ctx, "count", 1)
	require.NoError(t, err)

	delivered, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, delivered)
	assert.Equal(t, []int{1, 2, 3}, seen)

	done, err := s.Tasks(ctx, store.TaskDone)
	require.NoError(t, err)
	assert.Len(t, done, 3)
}

func TestDrain_RedeliversUntilLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	w := NewWorker(s, WithMaxDeliveries(2))

	var calls atomic.Int32
	w.Handle("flaky", func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return errors.New("boom")
	})
	_, _, err := s.EnqueueTask(ctx, "flaky", map[string]string{"k": "v"})
	require.NoError(t, err)

	delivered, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, int32(2), calls.Load())

	failed, err := s.Tasks(ctx, store.TaskFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].LastError)
}

func TestDrain_RecoversAfterRedelivery(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	w := NewWorker(s)

	var calls atomic.Int32
	w.Handle("flaky", func(context.Context, json.RawMessage) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})
	_, _, err := s.EnqueueTask(ctx, "flaky", 1)
	require.NoError(t, err)

	_, err = w.Drain(ctx)
	require.NoError(t, err)
	done, err := s.Tasks(ctx, store.TaskDone)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, 2, done[0].Attempts)
}

func TestDrain_UnknownQueueFailsImmediately(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	w := NewWorker(s)

	_, _, err := s.EnqueueTask(ctx, "nobody", 1)
	require.NoError(t, err)

	delivered, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	failed, err := s.Tasks(ctx, store.TaskFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, "no handler")
}

func TestDrain_HandlerPanicIsRecorded(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	w := NewWorker(s, WithMaxDeliveries(1))
	w.Handle("bad", func(context.Context, json.RawMessage) error { panic("oops") })

	_, _, err := s.EnqueueTask(ctx, "bad", 1)
	require.NoError(t, err)

	_, err = w.Drain(ctx)
	require.NoError(t, err)
	failed, err := s.Tasks(ctx, store.TaskFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, "handler panic: oops")
}

func TestRun_RequeuesInterruptedAndStopsOnCancel(t *testing.T) {
	s := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _, err := s.EnqueueTask(ctx, "work", 1)
	require.NoError(t, err)
	// Simulate a crash mid-delivery.
	claimed, err := s.ClaimTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	w := NewWorker(s, WithPollInterval(5*time.Millisecond))
	var calls atomic.Int32
	w.Handle("work", func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
