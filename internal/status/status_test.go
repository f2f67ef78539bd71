package status

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailchimp/Firebase/internal/store"
)

func TestStoreReporter_Persists(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := NewStoreReporter(s, nil)
	ctx := context.Background()
	require.NoError(t, r.Report(ctx, Warning, "Task SYNC_IDENTITY_SOURCE attempt failed and will be retried"))
	require.NoError(t, r.Report(ctx, Complete, "Backfill process completed"))

	latest, ok, err := s.LatestProcessingState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(Complete), latest.State)
	assert.Equal(t, "Backfill process completed", latest.Message)
}

type failingRecorder struct{}

func (failingRecorder) RecordProcessingState(context.Context, string, string) error {
	return errors.New("disk full")
}

func TestStoreReporter_PropagatesErrors(t *testing.T) {
	r := NewStoreReporter(failingRecorder{}, nil)
	err := r.Report(context.Background(), Failed, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestMemoryReporter(t *testing.T) {
	var m MemoryReporter
	_, ok := m.Last()
	assert.False(t, ok)

	require.NoError(t, m.Report(context.Background(), Complete, "No processing requested."))
	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, Report{State: Complete, Message: "No processing requested."}, last)
	assert.Len(t, m.Reports(), 1)
}
