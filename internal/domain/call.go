package domain

import (
	"time"
)

// Relay collections holding call documents.
const (
	CollectionCalls      = "calls"
	CollectionGroupCalls = "groupCalls"
)

// CallKind distinguishes video from voice-only calls.
type CallKind string

const (
	CallKindVideo CallKind = "video"
	CallKindVoice CallKind = "voice"
)

// CallStatus is the relay-visible status of a 1:1 call record.
// Transitions are monotonic: ringing -> {active, declined, ended},
// active -> ended. declined and ended are terminal.
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusActive   CallStatus = "active"
	CallStatusDeclined CallStatus = "declined"
	CallStatusEnded    CallStatus = "ended"
)

// Terminal reports whether no further status transition is allowed.
func (s CallStatus) Terminal() bool {
	return s == CallStatusDeclined || s == CallStatusEnded
}

// CanTransition reports whether moving from s to next is a legal
// forward transition.
func (s CallStatus) CanTransition(next CallStatus) bool {
	switch s {
	case CallStatusRinging:
		return next == CallStatusActive || next == CallStatusDeclined || next == CallStatusEnded
	case CallStatusActive:
		return next == CallStatusEnded
	default:
		return false
	}
}

// Signal is the one-shot negotiation payload a peer produces
// (non-trickle mode: a single SDP blob per direction).
type Signal struct {
	Type string `json:"type" firestore:"type"`
	SDP  string `json:"sdp" firestore:"sdp"`
}

// CallRecord is one 1:1 call attempt as stored in the relay.
// Field ownership: the caller writes signal/createdAt/timeout, the callee
// writes answer/answeredAt; status moves forward only. Neither side may
// overwrite the other's signal field.
type CallRecord struct {
	ID           string     `json:"id" firestore:"-"`
	Caller       string     `json:"caller" firestore:"caller"`
	Callee       string     `json:"callee" firestore:"callee"`
	Kind         CallKind   `json:"type" firestore:"type"`
	OfferSignal  *Signal    `json:"signal,omitempty" firestore:"signal,omitempty"`
	AnswerSignal *Signal    `json:"answer,omitempty" firestore:"answer,omitempty"`
	Status       CallStatus `json:"status" firestore:"status"`
	CreatedAt    time.Time  `json:"createdAt" firestore:"createdAt"`
	AnsweredAt   *time.Time `json:"answeredAt,omitempty" firestore:"answeredAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty" firestore:"endedAt,omitempty"`
	// ExpiresAt is createdAt plus the ringing timeout. It is advisory:
	// expiry is enforced by the caller's local timer, never by the relay.
	ExpiresAt       time.Time `json:"timeout" firestore:"timeout"`
	DurationSeconds int       `json:"duration,omitempty" firestore:"duration,omitempty"`
}

// Answered reports whether the callee has written its answer signal.
func (r *CallRecord) Answered() bool {
	return r.AnswerSignal != nil && r.AnswerSignal.SDP != ""
}

// RoomParticipant is one entry in a group call roster, ordered by join time.
type RoomParticipant struct {
	UserID      string    `json:"userId" firestore:"userId"`
	DisplayName string    `json:"userName" firestore:"userName"`
	PhotoURL    string    `json:"userPhoto" firestore:"userPhoto"`
	JoinedAt    time.Time `json:"joinedAt" firestore:"joinedAt"`
}

// RoomStatus is the relay-visible status of a group call room.
type RoomStatus string

const (
	RoomStatusActive RoomStatus = "active"
	RoomStatusEnded  RoomStatus = "ended"
)

// RoomRecord is one group call as stored in the relay. The participants
// list is append-on-join / remove-on-leave; the room ends when the last
// participant leaves or the initiator ends it explicitly.
type RoomRecord struct {
	ID           string            `json:"id" firestore:"-"`
	GroupID      string            `json:"groupId" firestore:"groupId"`
	Initiator    string            `json:"initiator" firestore:"initiator"`
	Participants []RoomParticipant `json:"participants" firestore:"participants"`
	Status       RoomStatus        `json:"status" firestore:"status"`
	CreatedAt    time.Time         `json:"createdAt" firestore:"createdAt"`
	EndedAt      *time.Time        `json:"endedAt,omitempty" firestore:"endedAt,omitempty"`
}

// HasParticipant reports whether userID is currently in the roster.
func (r *RoomRecord) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Identity is the local user as seen by the call core. It is passed
// explicitly into every component; there is no ambient current-user global.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
}
