package diagnostics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peercall-core/internal/media"
)

// fakeProvider answers device probes from scripted per-device errors.
type fakeProvider struct {
	audioErr error
	videoErr error
	acquired int
	closed   int
}

func (p *fakeProvider) Acquire(_ context.Context, c media.Constraints) (media.Stream, error) {
	if c.Audio && p.audioErr != nil {
		return nil, p.audioErr
	}
	if c.Video && p.videoErr != nil {
		return nil, p.videoErr
	}
	p.acquired++
	return &fakeStream{provider: p}, nil
}

type fakeStream struct{ provider *fakeProvider }

func (s *fakeStream) AudioTracks() []media.Track { return nil }
func (s *fakeStream) VideoTracks() []media.Track { return nil }
func (s *fakeStream) Close() { s.provider.closed++ }

func TestRunAllHealthyWithoutSTUNServers(t *testing.T) {
	provider := &fakeProvider{}
	svc := NewService(provider, nil, zap.NewNop(), nil)

	report := svc.Run(context.Background())

	assert.Equal(t, StatusOK, report.Microphone.Status)
	assert.Equal(t, StatusOK, report.Camera.Status)
	// No STUN configuration degrades transport and network, never fails them.
	assert.Equal(t, StatusWarning, report.Transport.Status)
	assert.Equal(t, StatusWarning, report.Network.Status)
	assert.Equal(t, "degraded", report.Verdict())
	assert.Contains(t, report.Recommendations,
		"Configure at least one STUN server so calls can traverse NAT")
	assert.False(t, report.RanAt.IsZero())
}

func TestRunReleasesProbeStreams(t *testing.T) {
	provider := &fakeProvider{}
	svc := NewService(provider, nil, zap.NewNop(), nil)

	svc.Run(context.Background())

	assert.Equal(t, 2, provider.acquired)
	assert.Equal(t, 2, provider.closed)
}

func TestRunPermissionDenied(t *testing.T) {
	provider := &fakeProvider{
		audioErr: media.NewAcquireError(media.ReasonPermissionDenied, errors.New("denied")),
		videoErr: media.NewAcquireError(media.ReasonPermissionDenied, errors.New("denied")),
	}
	svc := NewService(provider, nil, zap.NewNop(), nil)

	report := svc.Run(context.Background())

	require.Equal(t, StatusFailed, report.Microphone.Status)
	assert.Equal(t, string(media.ReasonPermissionDenied), report.Microphone.Detail)
	require.Equal(t, StatusFailed, report.Camera.Status)
	assert.Equal(t, "failed", report.Verdict())
	assert.Contains(t, report.Recommendations,
		"Allow microphone access in your system settings, then try again")
	assert.Contains(t, report.Recommendations,
		"Allow camera access in your system settings, then try again")
}

func TestRunDeviceMissingAndBusy(t *testing.T) {
	provider := &fakeProvider{
		audioErr: media.NewAcquireError(media.ReasonInUse, errors.New("device busy")),
		videoErr: media.NewAcquireError(media.ReasonNotFound, errors.New("no camera")),
	}
	svc := NewService(provider, nil, zap.NewNop(), nil)

	report := svc.Run(context.Background())

	assert.Equal(t, string(media.ReasonInUse), report.Microphone.Detail)
	assert.Equal(t, string(media.ReasonNotFound), report.Camera.Detail)
	assert.Contains(t, report.Recommendations,
		"Close other applications using the microphone, then try again")
	assert.Contains(t, report.Recommendations,
		"Connect a camera, or start a voice call instead")
}

func TestRunUnclassifiedDeviceError(t *testing.T) {
	provider := &fakeProvider{audioErr: errors.New("ioctl failed")}
	svc := NewService(provider, nil, zap.NewNop(), nil)

	report := svc.Run(context.Background())

	assert.Equal(t, StatusFailed, report.Microphone.Status)
	assert.Equal(t, string(media.ReasonOther), report.Microphone.Detail)
	assert.Contains(t, report.Recommendations,
		"Connect a microphone; voice calls need one")
}

func TestVerdictPrecedence(t *testing.T) {
	ok := Probe{Status: StatusOK}

	assert.Equal(t, "ok", Report{Transport: ok, Microphone: ok, Camera: ok, Network: ok}.Verdict())
	assert.Equal(t, "degraded", Report{
		Transport: ok, Microphone: ok, Camera: ok,
		Network: Probe{Status: StatusWarning},
	}.Verdict())
	// A single failure outranks any number of warnings.
	assert.Equal(t, "failed", Report{
		Transport:  Probe{Status: StatusWarning},
		Microphone: Probe{Status: StatusFailed},
		Camera:     ok,
		Network:    Probe{Status: StatusWarning},
	}.Verdict())
}

func TestNetworkRecommendations(t *testing.T) {
	base := Report{
		Transport:  Probe{Status: StatusOK},
		Microphone: Probe{Status: StatusOK},
		Camera:     Probe{Status: StatusOK},
	}

	down := base
	down.Network = Probe{Status: StatusFailed, Detail: "no internet connectivity"}
	assert.Equal(t, []string{"Check your internet connection and try again"}, recommend(down))

	blocked := base
	blocked.Network = Probe{Status: StatusWarning, Detail: "UDP appears blocked; calls will need a TURN relay"}
	assert.Equal(t, []string{"Your network blocks UDP; configure a TURN relay for reliable calls"}, recommend(blocked))
}

func TestStunHostPort(t *testing.T) {
	assert.Equal(t, "stun.l.google.com:19302", stunHostPort("stun:stun.l.google.com:19302"))
	assert.Equal(t, "relay.example.com:5349", stunHostPort("stuns:relay.example.com:5349"))
	// Bare hosts get the default STUN port.
	assert.Equal(t, "stun.example.com:3478", stunHostPort("stun:stun.example.com"))
	assert.Equal(t, "10.0.0.1:3478", stunHostPort("10.0.0.1"))
}
