package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	assert.True(t, CallStatusRinging.CanTransition(CallStatusActive))
	assert.True(t, CallStatusRinging.CanTransition(CallStatusDeclined))
	assert.True(t, CallStatusRinging.CanTransition(CallStatusEnded))
	assert.True(t, CallStatusActive.CanTransition(CallStatusEnded))

	// No transition ever moves backwards or out of a terminal status.
	assert.False(t, CallStatusActive.CanTransition(CallStatusRinging))
	assert.False(t, CallStatusDeclined.CanTransition(CallStatusActive))
	assert.False(t, CallStatusEnded.CanTransition(CallStatusRinging))
	assert.False(t, CallStatusEnded.CanTransition(CallStatusEnded))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, CallStatusRinging.Terminal())
	assert.False(t, CallStatusActive.Terminal())
	assert.True(t, CallStatusDeclined.Terminal())
	assert.True(t, CallStatusEnded.Terminal())
}

func TestRecordAnswered(t *testing.T) {
	rec := CallRecord{}
	assert.False(t, rec.Answered())

	rec.AnswerSignal = &Signal{Type: "answer"}
	assert.False(t, rec.Answered(), "an answer without SDP does not count")

	rec.AnswerSignal.SDP = "v=0..."
	assert.True(t, rec.Answered())
}

func TestRoomHasParticipant(t *testing.T) {
	room := RoomRecord{Participants: []RoomParticipant{{UserID: "alice"}}}
	assert.True(t, room.HasParticipant("alice"))
	assert.False(t, room.HasParticipant("bob"))
}
