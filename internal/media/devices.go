package media

import (
	"context"
	"strings"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Devices is the production capability provider backed by pion/mediadevices.
// VP8 + Opus are the capture codecs; the same codec selector must populate
// the media engine of any peer connection the captured tracks attach to.
type Devices struct {
	codecSelector *mediadevices.CodecSelector
	log           *zap.Logger
}

// NewDevices creates the provider and its codec selector.
func NewDevices(log *zap.Logger) (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &Devices{
		codecSelector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: log,
	}, nil
}

// PopulateMediaEngine registers the capture codecs on a peer connection's
// media engine.
func (d *Devices) PopulateMediaEngine(engine *webrtc.MediaEngine) {
	d.codecSelector.Populate(engine)
}

// Acquire captures local media matching the constraints. The underlying
// capture call is not cancelable mid-flight; callers check liveness after
// it resolves.
func (d *Devices) Acquire(_ context.Context, c Constraints) (Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.codecSelector}

	if c.Video {
		constraints.Video = func(mt *mediadevices.MediaTrackConstraints) {
			// Raw frame formats only: MJPEG camera nodes can emit
			// malformed frames that poison the VP8 encoder.
			mt.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			if c.Width > 0 {
				mt.Width = prop.IntRanged{Ideal: c.Width}
			}
			if c.Height > 0 {
				mt.Height = prop.IntRanged{Ideal: c.Height}
			}
			if c.FrameRate > 0 {
				mt.FrameRate = prop.FloatRanged{Ideal: float32(c.FrameRate)}
			}
		}
	}
	if c.Audio {
		constraints.Audio = func(mt *mediadevices.MediaTrackConstraints) {}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, NewAcquireError(classifyAcquireFailure(err, c), err)
	}

	stream := &deviceStream{}
	for _, t := range ms.GetAudioTracks() {
		stream.audio = append(stream.audio, newDeviceTrack(t, TrackKindAudio))
	}
	for _, t := range ms.GetVideoTracks() {
		stream.video = append(stream.video, newDeviceTrack(t, TrackKindVideo))
	}
	return stream, nil
}

// classifyAcquireFailure maps driver errors onto the probe taxonomy.
func classifyAcquireFailure(err error, c Constraints) AcquireReason {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"):
		return ReasonPermissionDenied
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return ReasonInUse
	case strings.Contains(msg, "driver"), strings.Contains(msg, "no device"):
		if c.Video && c.Width > 0 {
			return ReasonOverconstrained
		}
		return ReasonNotFound
	default:
		return ReasonOther
	}
}

type deviceStream struct {
	audio []Track
	video []Track
	once  sync.Once
}

func (s *deviceStream) AudioTracks() []Track { return s.audio }
func (s *deviceStream) VideoTracks() []Track { return s.video }

func (s *deviceStream) Close() {
	s.once.Do(func() {
		for _, t := range s.audio {
			t.Stop()
		}
		for _, t := range s.video {
			t.Stop()
		}
	})
}

// deviceTrack wraps a mediadevices track with a local enabled flag. The
// flag only reports the UI mute state; actually pausing the outbound media
// is the peer adapter's job, which detaches the RTP sender on mute.
type deviceTrack struct {
	track mediadevices.Track
	kind  TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func newDeviceTrack(t mediadevices.Track, kind TrackKind) *deviceTrack {
	return &deviceTrack{track: t, kind: kind, enabled: true}
}

func (t *deviceTrack) Kind() TrackKind { return t.kind }

func (t *deviceTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *deviceTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *deviceTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()
	_ = t.track.Close()
}

// Local exposes the underlying track for attachment to a peer connection.
func (t *deviceTrack) Local() mediadevices.Track { return t.track }
