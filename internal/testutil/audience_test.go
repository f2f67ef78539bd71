package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailchimp/Firebase/internal/audience"
)

func TestRecordingClient_RecordsCalls(t *testing.T) {
	c := NewRecordingClient()
	ctx := context.Background()

	_, err := c.AddMember(ctx, "list", audience.AddMemberRequest{EmailAddress: "a@x.com", Status: "subscribed"})
	require.NoError(t, err)
	require.NoError(t, c.DeleteMember(ctx, "list", "h1"))

	calls := c.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, audience.OpAddMember, calls[0].Op)
	assert.Equal(t, "list", calls[0].ListID)
	assert.Equal(t, audience.OpDeleteMember, calls[1].Op)
	assert.Equal(t, "h1", calls[1].SubscriberHash)
}

func TestRecordingClient_FailNextThenSucceed(t *testing.T) {
	c := NewRecordingClient()
	boom := errors.New("boom")
	c.FailNext(audience.OpDeleteMember, boom)

	ctx := context.Background()
	assert.ErrorIs(t, c.DeleteMember(ctx, "list", "h"), boom)
	assert.NoError(t, c.DeleteMember(ctx, "list", "h"))
	assert.Len(t, c.CallsFor(audience.OpDeleteMember), 2)
}

func TestRecordingClient_FailAlways(t *testing.T) {
	c := NewRecordingClient()
	boom := errors.New("boom")
	c.FailAlways(audience.OpSetMember, boom)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, c.SetMember(ctx, "list", "h", audience.SetMemberRequest{}), boom)
	}

	c.FailAlways(audience.OpSetMember, nil)
	assert.NoError(t, c.SetMember(ctx, "list", "h", audience.SetMemberRequest{}))
}

func TestRecordingClient_FailWhen(t *testing.T) {
	c := NewRecordingClient()
	boom := errors.New("boom")
	c.FailWhen(func(call Call) error {
		if call.Body == "bad" {
			return boom
		}
		return nil
	})

	ctx := context.Background()
	assert.NoError(t, c.CreateMemberEvent(ctx, "list", "h", "good"))
	assert.ErrorIs(t, c.CreateMemberEvent(ctx, "list", "h", "bad"), boom)
}

func TestRecordingClient_StableCallsSortsEventRuns(t *testing.T) {
	c := NewRecordingClient()
	ctx := context.Background()

	require.NoError(t, c.DeleteMember(ctx, "list", "z"))
	require.NoError(t, c.CreateMemberEvent(ctx, "list", "h", "b"))
	require.NoError(t, c.CreateMemberEvent(ctx, "list", "h", "a"))
	require.NoError(t, c.DeleteMember(ctx, "list", "y"))

	calls := c.StableCalls()
	require.Len(t, calls, 4)
	assert.Equal(t, "z", calls[0].SubscriberHash)
	assert.Equal(t, "a", calls[1].Body)
	assert.Equal(t, "b", calls[2].Body)
	assert.Equal(t, "y", calls[3].SubscriberHash)

	// Arrival order is untouched.
	assert.Equal(t, "b", c.Calls()[1].Body)
}

func TestRecordingClient_Reset(t *testing.T) {
	c := NewRecordingClient()
	c.FailAlways(audience.OpDeleteMember, errors.New("boom"))
	_ = c.DeleteMember(context.Background(), "list", "h")

	c.Reset()
	assert.Empty(t, c.Calls())
	assert.NoError(t, c.DeleteMember(context.Background(), "list", "h"))
}
