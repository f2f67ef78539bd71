package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries int, opts ...Option) *Policy {
	opts = append([]Option{WithClock(testclock.NewDilatedWallClock(time.Millisecond))}, opts...)
	return New(retries, opts...)
}

func TestDo_ExhaustsAndReturnsFirstError(t *testing.T) {
	p := fastPolicy(2)

	var errs []error
	err := p.Do(context.Background(), "update_tags", func(context.Context) error {
		e := errors.NotFoundf("member (attempt %d)", len(errs)+1)
		errs = append(errs, e)
		return e
	})

	require.Len(t, errs, 3, "retries=2 means three attempts")
	require.Error(t, err)
	assert.Equal(t, errs[0], err)
	assert.True(t, IsNotFound(err))
}

func TestDo_FatalErrorIsNotRetried(t *testing.T) {
	p := fastPolicy(3)
	boom := stderrors.New("bad request")

	calls := 0
	err := p.Do(context.Background(), "set_member", func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, boom, err)
}

func TestDo_FatalErrorAfterRetryableSurfacesFatal(t *testing.T) {
	p := fastPolicy(3)
	notAllowed := errors.MethodNotAllowedf("delete member")

	calls := 0
	err := p.Do(context.Background(), "delete_member", func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.NotFoundf("member")
		}
		return notAllowed
	})

	assert.Equal(t, 2, calls)
	assert.Same(t, notAllowed, err)
	assert.False(t, IsNotFound(err))
	assert.True(t, errors.Is(err, errors.MethodNotAllowed))
}

func TestDo_RecoversAfterFailure(t *testing.T) {
	p := fastPolicy(2)

	calls := 0
	err := p.Do(context.Background(), "delete_member", func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.NotFoundf("member")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ZeroRetriesIsSingleAttempt(t *testing.T) {
	p := fastPolicy(0)

	calls := 0
	err := p.Do(context.Background(), "create_event", func(context.Context) error {
		calls++
		return errors.NotFoundf("member")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, New(-4).Retries())
}

func TestDo_CustomClassifier(t *testing.T) {
	transient := stderrors.New("transient")
	p := fastPolicy(1, WithClassifier(func(err error) bool {
		return stderrors.Is(err, transient)
	}))

	calls := 0
	err := p.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return fmt.Errorf("wrapped: %w", transient)
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_StopsWhenContextDone(t *testing.T) {
	p := New(5, WithClock(testclock.NewDilatedWallClock(time.Second)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	first := errors.NotFoundf("member")
	err := p.Do(ctx, "op", func(context.Context) error {
		calls++
		return first
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, err)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		r       float64
		want    time.Duration
	}{
		{1, 0, time.Second},
		{1, 0.5, 1500 * time.Millisecond},
		{2, 0, 2 * time.Second},
		{2, 0.5, 2 * time.Second},
		{3, 0, 2 * time.Second},
		{10, 0.5, 2 * time.Second},
		{0, 0, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt, tt.r), "attempt %d r %v", tt.attempt, tt.r)
	}
}
