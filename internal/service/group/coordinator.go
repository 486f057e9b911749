// Package group implements group call rooms: shared roster records in the
// relay that participants join, watch and leave. The coordinator maintains
// the roster and the local media capture; track fan-out between
// participants is negotiated pairwise outside this package.
package group

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"peercall-core/internal/config"
	"peercall-core/internal/domain"
	"peercall-core/internal/media"
	"peercall-core/internal/relay"
	apperrors "peercall-core/pkg/errors"
	"peercall-core/pkg/metrics"
)

// RoomState is a snapshot of the joined room, published after every roster
// change and once more on teardown with Joined=false.
type RoomState struct {
	RoomID       string                   `json:"room_id"`
	GroupID      string                   `json:"group_id"`
	Initiator    string                   `json:"initiator"`
	Participants []domain.RoomParticipant `json:"participants"`
	Joined       bool                     `json:"joined"`
	AudioEnabled bool                     `json:"audio_enabled"`
	VideoEnabled bool                     `json:"video_enabled"`
}

// Coordinator joins one group call at a time for one local user.
type Coordinator struct {
	relay    relay.Client
	provider media.Provider
	clock    clock.Clock
	cfg      *config.Config
	self     domain.Identity
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	room    *joinedRoom
	state   RoomState
	updates chan RoomState
}

type joinedRoom struct {
	id          string
	groupID     string
	initiator   string
	stream      media.Stream
	watchCancel context.CancelFunc
	watchSub    relay.Subscription
	audioOn     bool
	videoOn     bool
}

// NewCoordinator builds a coordinator for self.
func NewCoordinator(rc relay.Client, provider media.Provider, clk clock.Clock, cfg *config.Config, self domain.Identity, log *zap.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		relay:    rc,
		provider: provider,
		clock:    clk,
		cfg:      cfg,
		self:     self,
		log:      log.With(zap.String("user_id", self.UserID)),
		metrics:  m,
		updates:  make(chan RoomState, 16),
	}
}

// Updates delivers room snapshots, latest-wins.
func (c *Coordinator) Updates() <-chan RoomState { return c.updates }

// State returns the current room snapshot.
func (c *Coordinator) State() RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Join enters the active room for groupID, creating it when none exists.
// Joining is idempotent by user id: rejoining a room the user is already
// listed in only refreshes the watch. The relay has no compare-and-swap,
// so two users joining simultaneously can race the roster read-modify-write;
// the record converges on whichever write commits last.
func (c *Coordinator) Join(ctx context.Context, groupID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != nil {
		return apperrors.InvalidStateError("already in a group call")
	}

	stream, err := media.AcquireWithFallback(ctx, c.provider, media.Constraints{
		Audio:     true,
		Video:     true,
		Width:     c.cfg.VideoWidth,
		Height:    c.cfg.VideoHeight,
		FrameRate: c.cfg.VideoFrameRate,
	}, c.log)
	if err != nil {
		c.metrics.RecordMediaAcquire("failure")
		return apperrors.MediaAcquisitionError(err)
	}
	c.metrics.RecordMediaAcquire("success")

	rec, roomID, err := c.findActiveRoom(ctx, groupID)
	if err != nil {
		stream.Close()
		return err
	}

	now := c.clock.Now()
	me := domain.RoomParticipant{
		UserID:      c.self.UserID,
		DisplayName: c.self.DisplayName,
		PhotoURL:    c.self.PhotoURL,
		JoinedAt:    now,
	}

	role := "participant"
	switch {
	case rec == nil:
		role = "initiator"
		created := domain.RoomRecord{
			GroupID:      groupID,
			Initiator:    c.self.UserID,
			Participants: []domain.RoomParticipant{me},
			Status:       domain.RoomStatusActive,
			CreatedAt:    now,
		}
		roomID, err = c.relay.Create(ctx, domain.CollectionGroupCalls, created)
		c.metrics.RecordRelayWrite(domain.CollectionGroupCalls, "create", err)
		if err != nil {
			stream.Close()
			return apperrors.GetCallError(err)
		}
		rec = &created
	case !rec.HasParticipant(c.self.UserID):
		roster := append(rec.Participants, me)
		err = c.relay.Update(ctx, domain.CollectionGroupCalls, roomID, []relay.Update{
			{Field: "participants", Value: roster},
		})
		c.metrics.RecordRelayWrite(domain.CollectionGroupCalls, "update", err)
		if err != nil {
			stream.Close()
			return apperrors.GetCallError(err)
		}
		rec.Participants = roster
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	sub, err := c.relay.Watch(watchCtx, domain.CollectionGroupCalls, roomID)
	if err != nil {
		cancel()
		stream.Close()
		return apperrors.SignalingError(err)
	}

	room := &joinedRoom{
		id:          roomID,
		groupID:     groupID,
		initiator:   rec.Initiator,
		stream:      stream,
		watchCancel: cancel,
		watchSub:    sub,
		audioOn:     true,
		videoOn:     len(stream.VideoTracks()) > 0,
	}
	c.room = room
	c.state = RoomState{
		RoomID:       roomID,
		GroupID:      groupID,
		Initiator:    rec.Initiator,
		Participants: rec.Participants,
		Joined:       true,
		AudioEnabled: room.audioOn,
		VideoEnabled: room.videoOn,
	}
	c.publishLocked()
	c.metrics.RecordRoomJoined(role)
	c.metrics.SetRoomParticipants(len(rec.Participants))
	c.log.Info("Joined group call",
		zap.String("room_id", roomID),
		zap.String("group_id", groupID),
		zap.String("role", role))

	go c.watchRoom(room)
	return nil
}

// findActiveRoom returns the active room record for groupID, or nil when
// the group has no call running.
func (c *Coordinator) findActiveRoom(ctx context.Context, groupID string) (*domain.RoomRecord, string, error) {
	snaps, err := c.relay.Query(ctx, domain.CollectionGroupCalls, []relay.Filter{
		{Field: "groupId", Value: groupID},
		{Field: "status", Value: domain.RoomStatusActive},
	})
	if err != nil {
		return nil, "", apperrors.SignalingError(err)
	}
	if len(snaps) == 0 {
		return nil, "", nil
	}
	var rec domain.RoomRecord
	if err := snaps[0].Decode(&rec); err != nil {
		return nil, "", apperrors.SignalingError(err)
	}
	return &rec, snaps[0].ID, nil
}

func (c *Coordinator) watchRoom(room *joinedRoom) {
	for snap := range room.watchSub.Snapshots() {
		var rec domain.RoomRecord
		ended := !snap.Exists
		if !ended {
			if err := snap.Decode(&rec); err != nil {
				c.log.Warn("Undecodable room snapshot",
					zap.String("room_id", room.id), zap.Error(err))
				continue
			}
			ended = rec.Status == domain.RoomStatusEnded
		}

		c.mu.Lock()
		if c.room != room {
			c.mu.Unlock()
			return
		}
		if ended {
			c.log.Info("Group call ended remotely", zap.String("room_id", room.id))
			c.teardownLocked()
			c.mu.Unlock()
			return
		}
		c.state.Participants = rec.Participants
		c.publishLocked()
		c.metrics.SetRoomParticipants(len(rec.Participants))
		c.mu.Unlock()
	}
}

// Leave removes the local user from the roster. The last participant out
// ends the room. Local teardown always completes; the roster write error,
// if any, is returned afterwards.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.room
	if room == nil {
		return apperrors.InvalidStateError("not in a group call")
	}

	var rec domain.RoomRecord
	err := c.relay.Get(ctx, domain.CollectionGroupCalls, room.id, &rec)
	if err == nil {
		roster := make([]domain.RoomParticipant, 0, len(rec.Participants))
		for _, p := range rec.Participants {
			if p.UserID != c.self.UserID {
				roster = append(roster, p)
			}
		}
		patch := []relay.Update{{Field: "participants", Value: roster}}
		if len(roster) == 0 {
			patch = append(patch,
				relay.Update{Field: "status", Value: domain.RoomStatusEnded},
				relay.Update{Field: "endedAt", Value: c.clock.Now()},
			)
		}
		err = c.relay.Update(ctx, domain.CollectionGroupCalls, room.id, patch)
		c.metrics.RecordRelayWrite(domain.CollectionGroupCalls, "update", err)
	}
	if err != nil {
		c.log.Warn("Roster write failed on leave",
			zap.String("room_id", room.id), zap.Error(err))
	}

	c.log.Info("Left group call", zap.String("room_id", room.id))
	c.teardownLocked()
	if err != nil {
		return apperrors.GetCallError(err)
	}
	return nil
}

// End terminates the room for everyone. Initiator only.
func (c *Coordinator) End(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.room
	if room == nil {
		return apperrors.InvalidStateError("not in a group call")
	}
	if room.initiator != c.self.UserID {
		return apperrors.InvalidStateError("only the initiator may end the call for everyone")
	}

	err := c.relay.Update(ctx, domain.CollectionGroupCalls, room.id, []relay.Update{
		{Field: "status", Value: domain.RoomStatusEnded},
		{Field: "endedAt", Value: c.clock.Now()},
	})
	c.metrics.RecordRelayWrite(domain.CollectionGroupCalls, "update", err)
	if err != nil {
		return apperrors.GetCallError(err)
	}

	c.log.Info("Ended group call for everyone", zap.String("room_id", room.id))
	c.teardownLocked()
	return nil
}

// ToggleAudio flips the local microphone mute, returning the new state.
func (c *Coordinator) ToggleAudio() (bool, error) {
	return c.toggle(func(r *joinedRoom) bool {
		r.audioOn = !r.audioOn
		for _, t := range r.stream.AudioTracks() {
			t.SetEnabled(r.audioOn)
		}
		c.state.AudioEnabled = r.audioOn
		return r.audioOn
	})
}

// ToggleVideo flips the local camera mute, returning the new state.
func (c *Coordinator) ToggleVideo() (bool, error) {
	return c.toggle(func(r *joinedRoom) bool {
		r.videoOn = !r.videoOn
		for _, t := range r.stream.VideoTracks() {
			t.SetEnabled(r.videoOn)
		}
		c.state.VideoEnabled = r.videoOn
		return r.videoOn
	})
}

func (c *Coordinator) toggle(flip func(*joinedRoom) bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return false, apperrors.InvalidStateError("not in a group call")
	}
	on := flip(c.room)
	c.publishLocked()
	return on, nil
}

// Close leaves any joined room and releases local resources.
func (c *Coordinator) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Leave(ctx)
	if apperrors.IsCode(err, apperrors.ErrCodeInvalidState) {
		return nil
	}
	return err
}

func (c *Coordinator) teardownLocked() {
	room := c.room
	room.watchCancel()
	room.watchSub.Stop()
	room.stream.Close()
	c.room = nil
	c.state.Joined = false
	c.publishLocked()
	c.metrics.SetRoomParticipants(0)
}

func (c *Coordinator) publishLocked() {
	for {
		select {
		case c.updates <- c.state:
			return
		default:
			select {
			case <-c.updates:
			default:
			}
		}
	}
}
