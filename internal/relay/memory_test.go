package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall-core/internal/domain"
	apperrors "peercall-core/pkg/errors"
)

func testRecord(caller, callee string) domain.CallRecord {
	return domain.CallRecord{
		Caller:      caller,
		Callee:      callee,
		Kind:        domain.CallKindVideo,
		OfferSignal: &domain.Signal{Type: "offer", SDP: "v=0 caller"},
		Status:      domain.CallStatusRinging,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func recvSnapshot(t *testing.T, sub Subscription) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		require.True(t, ok, "subscription closed unexpectedly")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestMemoryCreateAndGet(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	id, err := m.Create(ctx, domain.CollectionCalls, testRecord("alice", "bob"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	var got domain.CallRecord
	require.NoError(t, m.Get(ctx, domain.CollectionCalls, id, &got))
	assert.Equal(t, "alice", got.Caller)
	assert.Equal(t, "bob", got.Callee)
	assert.Equal(t, domain.CallStatusRinging, got.Status)
	require.NotNil(t, got.OfferSignal)
	assert.Equal(t, "offer", got.OfferSignal.Type)
}

func TestMemoryGetMissing(t *testing.T) {
	m := NewMemoryClient()
	var got domain.CallRecord
	err := m.Get(context.Background(), domain.CollectionCalls, "nope", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUpdatePatchesOnlyGivenFields(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	id, err := m.Create(ctx, domain.CollectionCalls, testRecord("alice", "bob"))
	require.NoError(t, err)

	err = m.Update(ctx, domain.CollectionCalls, id, []Update{
		{Field: "status", Value: domain.CallStatusActive},
		{Field: "answer", Value: &domain.Signal{Type: "answer", SDP: "v=0 callee"}},
	})
	require.NoError(t, err)

	var got domain.CallRecord
	require.NoError(t, m.Get(ctx, domain.CollectionCalls, id, &got))
	assert.Equal(t, domain.CallStatusActive, got.Status)
	require.NotNil(t, got.AnswerSignal)
	assert.Equal(t, "v=0 callee", got.AnswerSignal.SDP)
	// Untouched fields survive the patch.
	require.NotNil(t, got.OfferSignal)
	assert.Equal(t, "v=0 caller", got.OfferSignal.SDP)
	assert.Equal(t, "alice", got.Caller)
}

func TestMemoryWatchDeliversInCommitOrder(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	id, err := m.Create(ctx, domain.CollectionCalls, testRecord("alice", "bob"))
	require.NoError(t, err)

	sub, err := m.Watch(ctx, domain.CollectionCalls, id)
	require.NoError(t, err)
	defer sub.Stop()

	// Initial state arrives first.
	var got domain.CallRecord
	snap := recvSnapshot(t, sub)
	require.True(t, snap.Exists)
	require.NoError(t, snap.Decode(&got))
	assert.Equal(t, domain.CallStatusRinging, got.Status)

	// Subscribers see their own writes, in order.
	for _, status := range []domain.CallStatus{domain.CallStatusActive, domain.CallStatusEnded} {
		require.NoError(t, m.Update(ctx, domain.CollectionCalls, id, []Update{
			{Field: "status", Value: status},
		}))
		snap = recvSnapshot(t, sub)
		require.NoError(t, snap.Decode(&got))
		assert.Equal(t, status, got.Status)
	}
}

func TestMemoryWatchLatestWinsOnSlowReader(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	id, err := m.Create(ctx, domain.CollectionCalls, testRecord("alice", "bob"))
	require.NoError(t, err)

	sub, err := m.Watch(ctx, domain.CollectionCalls, id)
	require.NoError(t, err)
	defer sub.Stop()

	// Overflow the buffer without reading.
	for i := 0; i < 100; i++ {
		require.NoError(t, m.Update(ctx, domain.CollectionCalls, id, []Update{
			{Field: "duration", Value: i + 1},
		}))
	}

	// Drain: whatever was dropped, the final state must be observed.
	var last domain.CallRecord
	for {
		select {
		case snap := <-sub.Snapshots():
			require.NoError(t, snap.Decode(&last))
		case <-time.After(200 * time.Millisecond):
			assert.Equal(t, 100, last.DurationSeconds)
			return
		}
	}
}

func TestMemoryFailWrites(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	id, err := m.Create(ctx, domain.CollectionCalls, testRecord("alice", "bob"))
	require.NoError(t, err)

	m.FailWrites = true
	_, err = m.Create(ctx, domain.CollectionCalls, testRecord("carol", "dave"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRelayWrite))

	err = m.Update(ctx, domain.CollectionCalls, id, []Update{{Field: "status", Value: domain.CallStatusEnded}})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRelayWrite))

	// Reads keep working during the outage.
	var got domain.CallRecord
	assert.NoError(t, m.Get(ctx, domain.CollectionCalls, id, &got))
	assert.Equal(t, domain.CallStatusRinging, got.Status)
}

func TestMemoryWriteGuardVetoesWrites(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	id, err := m.Create(ctx, domain.CollectionCalls, testRecord("alice", "bob"))
	require.NoError(t, err)

	m.WriteGuard = func(collection, id string, fields map[string]any) error {
		if _, ok := fields["signal"]; ok {
			return errors.New("signal field is owned by the caller")
		}
		return nil
	}

	err = m.Update(ctx, domain.CollectionCalls, id, []Update{
		{Field: "signal", Value: &domain.Signal{Type: "offer", SDP: "overwritten"}},
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRelayWrite))

	// The guarded write left the record untouched.
	var got domain.CallRecord
	require.NoError(t, m.Get(ctx, domain.CollectionCalls, id, &got))
	assert.Equal(t, "v=0 caller", got.OfferSignal.SDP)

	err = m.Update(ctx, domain.CollectionCalls, id, []Update{
		{Field: "status", Value: domain.CallStatusActive},
	})
	assert.NoError(t, err)
}

func TestMemoryQueryFilters(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	_, err := m.Create(ctx, domain.CollectionCalls, testRecord("alice", "bob"))
	require.NoError(t, err)
	ended := testRecord("alice", "bob")
	ended.Status = domain.CallStatusEnded
	_, err = m.Create(ctx, domain.CollectionCalls, ended)
	require.NoError(t, err)
	_, err = m.Create(ctx, domain.CollectionCalls, testRecord("carol", "bob"))
	require.NoError(t, err)

	snaps, err := m.Query(ctx, domain.CollectionCalls, []Filter{
		{Field: "caller", Value: "alice"},
		{Field: "status", Value: domain.CallStatusRinging},
	})
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	var got domain.CallRecord
	require.NoError(t, snaps[0].Decode(&got))
	assert.Equal(t, "alice", got.Caller)
	assert.Equal(t, domain.CallStatusRinging, got.Status)
}

func TestMemoryWatchQueryTracksResultSet(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	sub, err := m.WatchQuery(ctx, domain.CollectionCalls, []Filter{
		{Field: "callee", Value: "bob"},
		{Field: "status", Value: domain.CallStatusRinging},
	})
	require.NoError(t, err)
	defer sub.Stop()

	// Initial empty result set.
	select {
	case snaps := <-sub.Results():
		assert.Empty(t, snaps)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial result set")
	}

	id, err := m.Create(ctx, domain.CollectionCalls, testRecord("alice", "bob"))
	require.NoError(t, err)

	waitForLen := func(want int) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case snaps := <-sub.Results():
				if len(snaps) == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for result set of %d", want)
			}
		}
	}
	waitForLen(1)

	// Leaving the ringing state removes the record from the result set.
	require.NoError(t, m.Update(ctx, domain.CollectionCalls, id, []Update{
		{Field: "status", Value: domain.CallStatusDeclined},
	}))
	waitForLen(0)
}

func TestMemorySubscriptionStopClosesChannel(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	id, err := m.Create(ctx, domain.CollectionCalls, testRecord("alice", "bob"))
	require.NoError(t, err)

	sub, err := m.Watch(ctx, domain.CollectionCalls, id)
	require.NoError(t, err)
	sub.Stop()
	sub.Stop() // idempotent

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Snapshots():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after Stop")
		}
	}
}
