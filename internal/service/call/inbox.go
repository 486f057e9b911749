package call

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"peercall-core/internal/domain"
	"peercall-core/internal/relay"
	apperrors "peercall-core/pkg/errors"
)

// IncomingCall is a ringing call addressed to the local user.
type IncomingCall struct {
	CallID    string          `json:"call_id"`
	Caller    string          `json:"caller"`
	Kind      domain.CallKind `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// IncomingWatcher surfaces ringing calls addressed to one user. Each call
// id is delivered at most once, and calls whose advisory expiry has already
// passed are skipped (the caller's timer owns actual expiry).
type IncomingWatcher struct {
	ch     chan IncomingCall
	cancel context.CancelFunc
	sub    relay.QuerySubscription
}

// WatchIncoming subscribes to ringing calls for self.
func WatchIncoming(ctx context.Context, rc relay.Client, clk clock.Clock, self domain.Identity, log *zap.Logger) (*IncomingWatcher, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	sub, err := rc.WatchQuery(watchCtx, domain.CollectionCalls, []relay.Filter{
		{Field: "callee", Value: self.UserID},
		{Field: "status", Value: domain.CallStatusRinging},
	})
	if err != nil {
		cancel()
		return nil, apperrors.SignalingError(err)
	}

	w := &IncomingWatcher{
		ch:     make(chan IncomingCall, 8),
		cancel: cancel,
		sub:    sub,
	}

	go func() {
		defer close(w.ch)
		seen := make(map[string]bool)
		for snaps := range sub.Results() {
			for _, snap := range snaps {
				if seen[snap.ID] {
					continue
				}
				var rec domain.CallRecord
				if err := snap.Decode(&rec); err != nil {
					log.Warn("Undecodable incoming call snapshot",
						zap.String("call_id", snap.ID), zap.Error(err))
					continue
				}
				seen[snap.ID] = true
				if !rec.ExpiresAt.IsZero() && clk.Now().After(rec.ExpiresAt) {
					continue
				}
				select {
				case w.ch <- IncomingCall{
					CallID:    snap.ID,
					Caller:    rec.Caller,
					Kind:      rec.Kind,
					CreatedAt: rec.CreatedAt,
					ExpiresAt: rec.ExpiresAt,
				}:
				default:
					// Reader lagging badly; the call stays discoverable
					// through the relay record itself.
				}
			}
		}
	}()

	return w, nil
}

// Calls delivers ringing calls as they appear. Closed after Stop.
func (w *IncomingWatcher) Calls() <-chan IncomingCall { return w.ch }

// Stop cancels the subscription.
func (w *IncomingWatcher) Stop() {
	w.cancel()
	w.sub.Stop()
}

// Decline rejects a ringing call without acquiring media or building a
// peer. Only the status moves; the caller's signal fields stay intact.
func Decline(ctx context.Context, rc relay.Client, clk clock.Clock, self domain.Identity, callID string) error {
	var rec domain.CallRecord
	if err := rc.Get(ctx, domain.CollectionCalls, callID, &rec); err != nil {
		if err == relay.ErrNotFound {
			return apperrors.CallNotFoundError()
		}
		return apperrors.SignalingError(err)
	}
	if rec.Callee != self.UserID {
		return apperrors.InvalidStateError("call is not addressed to this user")
	}
	if rec.Status != domain.CallStatusRinging {
		return apperrors.InvalidStateError("call is no longer ringing")
	}
	return rc.Update(ctx, domain.CollectionCalls, callID, []relay.Update{
		{Field: "status", Value: domain.CallStatusDeclined},
		{Field: "endedAt", Value: clk.Now()},
	})
}
