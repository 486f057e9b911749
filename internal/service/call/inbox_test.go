package call

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peercall-core/internal/domain"
	"peercall-core/internal/relay"
	apperrors "peercall-core/pkg/errors"
)

func ringingRecord(caller, callee string) domain.CallRecord {
	return domain.CallRecord{
		Caller:      caller,
		Callee:      callee,
		Kind:        domain.CallKindVideo,
		OfferSignal: &domain.Signal{Type: "offer", SDP: "sdp"},
		Status:      domain.CallStatusRinging,
	}
}

func recvIncoming(t *testing.T, w *IncomingWatcher) IncomingCall {
	t.Helper()
	select {
	case in, ok := <-w.Calls():
		require.True(t, ok, "watcher closed unexpectedly")
		return in
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for incoming call")
		return IncomingCall{}
	}
}

func TestWatchIncomingDeliversEachCallOnce(t *testing.T) {
	mem := relay.NewMemoryClient()
	mockClock := clock.NewMock()
	ctx := context.Background()

	w, err := WatchIncoming(ctx, mem, mockClock, domain.Identity{UserID: "bob"}, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	firstID, err := mem.Create(ctx, domain.CollectionCalls, ringingRecord("alice", "bob"))
	require.NoError(t, err)

	in := recvIncoming(t, w)
	assert.Equal(t, firstID, in.CallID)
	assert.Equal(t, "alice", in.Caller)
	assert.Equal(t, domain.CallKindVideo, in.Kind)

	// A write that keeps the record ringing must not redeliver it.
	require.NoError(t, mem.Update(ctx, domain.CollectionCalls, firstID, []relay.Update{
		{Field: "timeout", Value: time.Now().Add(time.Minute)},
	}))

	secondID, err := mem.Create(ctx, domain.CollectionCalls, ringingRecord("carol", "bob"))
	require.NoError(t, err)

	in = recvIncoming(t, w)
	assert.Equal(t, secondID, in.CallID)
	assert.Equal(t, "carol", in.Caller)
}

func TestWatchIncomingIgnoresOtherCallees(t *testing.T) {
	mem := relay.NewMemoryClient()
	mockClock := clock.NewMock()
	ctx := context.Background()

	w, err := WatchIncoming(ctx, mem, mockClock, domain.Identity{UserID: "bob"}, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	_, err = mem.Create(ctx, domain.CollectionCalls, ringingRecord("alice", "dave"))
	require.NoError(t, err)
	mineID, err := mem.Create(ctx, domain.CollectionCalls, ringingRecord("alice", "bob"))
	require.NoError(t, err)

	in := recvIncoming(t, w)
	assert.Equal(t, mineID, in.CallID)
}

func TestWatchIncomingSkipsExpired(t *testing.T) {
	mem := relay.NewMemoryClient()
	mockClock := clock.NewMock()
	mockClock.Add(time.Hour)
	ctx := context.Background()

	w, err := WatchIncoming(ctx, mem, mockClock, domain.Identity{UserID: "bob"}, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	stale := ringingRecord("alice", "bob")
	stale.ExpiresAt = mockClock.Now().Add(-time.Minute)
	_, err = mem.Create(ctx, domain.CollectionCalls, stale)
	require.NoError(t, err)

	fresh := ringingRecord("carol", "bob")
	fresh.ExpiresAt = mockClock.Now().Add(time.Minute)
	freshID, err := mem.Create(ctx, domain.CollectionCalls, fresh)
	require.NoError(t, err)

	in := recvIncoming(t, w)
	assert.Equal(t, freshID, in.CallID)
}

func TestDecline(t *testing.T) {
	mem := relay.NewMemoryClient()
	mockClock := clock.NewMock()
	self := domain.Identity{UserID: "bob"}
	ctx := context.Background()

	callID, err := mem.Create(ctx, domain.CollectionCalls, ringingRecord("alice", "bob"))
	require.NoError(t, err)

	require.NoError(t, Decline(ctx, mem, mockClock, self, callID))

	var rec domain.CallRecord
	require.NoError(t, mem.Get(ctx, domain.CollectionCalls, callID, &rec))
	assert.Equal(t, domain.CallStatusDeclined, rec.Status)
	require.NotNil(t, rec.EndedAt)
	// Declining never engages media, so the offer stays untouched.
	require.NotNil(t, rec.OfferSignal)
	assert.Equal(t, "sdp", rec.OfferSignal.SDP)

	// Second decline: the call is no longer ringing.
	err = Decline(ctx, mem, mockClock, self, callID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
}

func TestDeclineUnknownCall(t *testing.T) {
	mem := relay.NewMemoryClient()
	err := Decline(context.Background(), mem, clock.NewMock(), domain.Identity{UserID: "bob"}, "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallNotFound))
}

func TestDeclineWrongCallee(t *testing.T) {
	mem := relay.NewMemoryClient()
	ctx := context.Background()

	callID, err := mem.Create(ctx, domain.CollectionCalls, ringingRecord("alice", "dave"))
	require.NoError(t, err)

	err = Decline(ctx, mem, clock.NewMock(), domain.Identity{UserID: "bob"}, callID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
}
