package media

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedProvider replays one result per Acquire call and records the
// constraints of every attempt.
type scriptedProvider struct {
	results  []error
	attempts []Constraints
}

func (p *scriptedProvider) Acquire(_ context.Context, c Constraints) (Stream, error) {
	p.attempts = append(p.attempts, c)
	if len(p.results) == 0 {
		return newFakeStream(c), nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	if err != nil {
		return nil, err
	}
	return newFakeStream(c), nil
}

type fakeStream struct {
	audio  []Track
	video  []Track
	closed bool
}

func newFakeStream(c Constraints) *fakeStream {
	s := &fakeStream{}
	if c.Audio {
		s.audio = append(s.audio, &fakeTrack{kind: TrackKindAudio, enabled: true})
	}
	if c.Video {
		s.video = append(s.video, &fakeTrack{kind: TrackKindVideo, enabled: true})
	}
	return s
}

func (s *fakeStream) AudioTracks() []Track { return s.audio }
func (s *fakeStream) VideoTracks() []Track { return s.video }
func (s *fakeStream) Close() { s.closed = true }

type fakeTrack struct {
	kind    TrackKind
	enabled bool
	stopped bool
}

func (t *fakeTrack) Kind() TrackKind { return t.kind }
func (t *fakeTrack) Enabled() bool { return t.enabled }
func (t *fakeTrack) SetEnabled(v bool) { t.enabled = v }
func (t *fakeTrack) Stop() { t.stopped = true }

func idealVideo() Constraints {
	return Constraints{Audio: true, Video: true, Width: 1280, Height: 720, FrameRate: 30}
}

func TestLadderIdealSucceedsFirstTry(t *testing.T) {
	p := &scriptedProvider{}
	stream, err := AcquireWithFallback(context.Background(), p, idealVideo(), zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, stream)
	require.Len(t, p.attempts, 1)
	assert.Equal(t, 1280, p.attempts[0].Width)
}

func TestLadderRelaxesOnOverconstrained(t *testing.T) {
	p := &scriptedProvider{results: []error{
		NewAcquireError(ReasonOverconstrained, errors.New("no mode matches")),
		nil,
	}}
	stream, err := AcquireWithFallback(context.Background(), p, idealVideo(), zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, stream)

	require.Len(t, p.attempts, 2)
	relaxed := p.attempts[1]
	assert.True(t, relaxed.Video)
	assert.True(t, relaxed.Audio)
	assert.Equal(t, 640, relaxed.Width)
	assert.Equal(t, 480, relaxed.Height)
	assert.Zero(t, relaxed.FrameRate)
}

func TestLadderFallsBackToAudioOnly(t *testing.T) {
	p := &scriptedProvider{results: []error{
		NewAcquireError(ReasonOverconstrained, errors.New("no mode matches")),
		NewAcquireError(ReasonNotFound, errors.New("no camera")),
		nil,
	}}
	stream, err := AcquireWithFallback(context.Background(), p, idealVideo(), zap.NewNop())
	require.NoError(t, err)

	require.Len(t, p.attempts, 3)
	last := p.attempts[2]
	assert.True(t, last.Audio)
	assert.False(t, last.Video)
	assert.Empty(t, stream.VideoTracks())
	assert.Len(t, stream.AudioTracks(), 1)
}

func TestLadderSkipsRelaxedRungWhenNotOverconstrained(t *testing.T) {
	p := &scriptedProvider{results: []error{
		NewAcquireError(ReasonPermissionDenied, errors.New("denied")),
		nil,
	}}
	_, err := AcquireWithFallback(context.Background(), p, idealVideo(), zap.NewNop())
	require.NoError(t, err)

	// Permission failures jump straight to the audio-only rung.
	require.Len(t, p.attempts, 2)
	assert.False(t, p.attempts[1].Video)
}

func TestLadderReturnsClassifiedErrorWhenAudioFails(t *testing.T) {
	audioErr := NewAcquireError(ReasonPermissionDenied, errors.New("denied"))
	p := &scriptedProvider{results: []error{
		NewAcquireError(ReasonOverconstrained, errors.New("no mode matches")),
		NewAcquireError(ReasonOverconstrained, errors.New("still no mode")),
		audioErr,
	}}
	stream, err := AcquireWithFallback(context.Background(), p, idealVideo(), zap.NewNop())
	assert.Nil(t, stream)
	require.Error(t, err)
	assert.Equal(t, ReasonPermissionDenied, ReasonOf(err))
	require.Len(t, p.attempts, 3)
}

func TestLadderAudioOnlyRequestIsSingleAttempt(t *testing.T) {
	audioErr := NewAcquireError(ReasonInUse, errors.New("device busy"))
	p := &scriptedProvider{results: []error{audioErr}}
	stream, err := AcquireWithFallback(context.Background(), p, Constraints{Audio: true}, zap.NewNop())
	assert.Nil(t, stream)
	assert.Equal(t, ReasonInUse, ReasonOf(err))
	assert.Len(t, p.attempts, 1)
}
