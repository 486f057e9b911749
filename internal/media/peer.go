package media

import (
	"context"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"peercall-core/internal/domain"
	apperrors "peercall-core/pkg/errors"
)

// ConnState is the adapter's normalized transport state, collapsed from the
// primitive's lower-level ICE state machine.
type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// EventKind identifies a peer adapter event.
type EventKind int

const (
	// EventSignalReady carries the single local negotiation payload
	// (non-trickle mode: gathering completes before the payload is emitted).
	EventSignalReady EventKind = iota
	// EventRemoteStream fires when remote media starts arriving.
	EventRemoteStream
	// EventStateChange carries a normalized transport state transition.
	EventStateChange
)

// Event is one normalized peer adapter event.
type Event struct {
	Kind   EventKind
	Signal *domain.Signal
	State  ConnState
	Err    error
}

// Peer is the adapter around one negotiation primitive instance. The
// primitive is single-use per direction: exactly one local signal is emitted
// and at most one remote signal may be applied.
type Peer interface {
	Events() <-chan Event
	// Signal applies the remote side's negotiation payload. It returns an
	// error on a second application.
	Signal(remote domain.Signal) error
	// ToggleAudio flips the local audio mute flag and returns the new
	// enabled state. Local-only: no renegotiation, no relay traffic.
	ToggleAudio() bool
	// ToggleVideo is ToggleAudio for the video track.
	ToggleVideo() bool
	// Close stops local media tracks and destroys the primitive. Safe to
	// call multiple times.
	Close() error
}

// Factory builds peers. The call state machine depends on this interface so
// tests can substitute scripted fakes.
type Factory interface {
	NewPeer(ctx context.Context, initiator bool, kind domain.CallKind) (Peer, error)
}

// EnginePopulator is implemented by providers whose capture codecs must be
// registered on the peer connection's media engine.
type EnginePopulator interface {
	PopulateMediaEngine(engine *webrtc.MediaEngine)
}

// BuildICEServers assembles the pion ICE server list from flat config.
func BuildICEServers(stunURLs []string, turnURL, turnUser, turnCredential string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	for _, u := range stunURLs {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	if turnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turnURL},
			Username:   turnUser,
			Credential: turnCredential,
		})
	}
	return servers
}

// PionFactory builds real peers on pion/webrtc with vanilla (non-trickle)
// ICE: candidate gathering completes before the one-shot signal payload is
// emitted, so signaling needs exactly one relay round-trip per direction.
type PionFactory struct {
	provider   Provider
	iceServers []webrtc.ICEServer
	ideal      Constraints
	log        *zap.Logger
}

// NewPionFactory creates the production peer factory. ideal carries the
// first-attempt video capture targets for the constraint ladder.
func NewPionFactory(provider Provider, iceServers []webrtc.ICEServer, ideal Constraints, log *zap.Logger) *PionFactory {
	return &PionFactory{
		provider:   provider,
		iceServers: iceServers,
		ideal:      ideal,
		log:        log,
	}
}

// NewPeer acquires local media through the relaxation ladder and constructs
// the negotiation primitive around it.
func (f *PionFactory) NewPeer(ctx context.Context, initiator bool, kind domain.CallKind) (Peer, error) {
	constraints := Constraints{Audio: true}
	if kind == domain.CallKindVideo {
		constraints.Video = true
		constraints.Width = f.ideal.Width
		constraints.Height = f.ideal.Height
		constraints.FrameRate = f.ideal.FrameRate
	}

	stream, err := AcquireWithFallback(ctx, f.provider, constraints, f.log)
	if err != nil {
		return nil, err
	}

	pc, err := f.newPeerConnection()
	if err != nil {
		stream.Close()
		return nil, err
	}

	p := &pionPeer{
		pc:        pc,
		stream:    stream,
		initiator: initiator,
		events:    make(chan Event, 16),
		log:       f.log,
	}

	if err := p.attachTracks(); err != nil {
		p.Close()
		return nil, err
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if normalized, ok := normalizeICEState(state); ok {
			p.emit(Event{Kind: EventStateChange, State: normalized})
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.emit(Event{Kind: EventRemoteStream})
	})

	if initiator {
		go p.produceOffer(ctx)
	}

	return p, nil
}

func (f *PionFactory) newPeerConnection() (*webrtc.PeerConnection, error) {
	engine := &webrtc.MediaEngine{}
	if populator, ok := f.provider.(EnginePopulator); ok {
		populator.PopulateMediaEngine(engine)
	} else if err := engine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(engine, registry); err != nil {
		return nil, err
	}

	// Let the machine's grace policy decide when a disconnection is fatal:
	// surface "disconnected" quickly but give ICE plenty of time before it
	// declares failure on its own.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(5*time.Second, 25*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(engine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	return api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
}

// rtpSender is the slice of *webrtc.RTPSender the adapter drives when
// muting; an interface so tests can substitute recorders.
type rtpSender interface {
	ReplaceTrack(webrtc.TrackLocal) error
}

// outboundTrack pairs one local capture track with the sender that carries
// it to the remote peer.
type outboundTrack struct {
	kind   TrackKind
	local  webrtc.TrackLocal
	sender rtpSender
}

type pionPeer struct {
	pc        *webrtc.PeerConnection
	stream    Stream
	initiator bool
	log       *zap.Logger
	outbound  []outboundTrack

	mu         sync.Mutex
	events     chan Event
	closed     bool
	signaled   bool // remote signal already applied
	audioMuted bool
	videoMuted bool
}

func (p *pionPeer) Events() <-chan Event { return p.events }

func (p *pionPeer) attachTracks() error {
	if err := p.attachKind(p.stream.AudioTracks(), TrackKindAudio); err != nil {
		return err
	}
	return p.attachKind(p.stream.VideoTracks(), TrackKindVideo)
}

func (p *pionPeer) attachKind(tracks []Track, kind TrackKind) error {
	for _, t := range tracks {
		capture, ok := t.(interface{ Local() mediadevices.Track })
		if !ok {
			continue
		}
		local := capture.Local()
		transceiver, err := p.pc.AddTransceiverFromTrack(local, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return err
		}
		p.outbound = append(p.outbound, outboundTrack{
			kind:   kind,
			local:  local,
			sender: transceiver.Sender(),
		})
	}
	return nil
}

// produceOffer runs the initiator's half of vanilla ICE: create the offer,
// wait for gathering to complete, then emit the full local description as
// the one-shot signal payload.
func (p *pionPeer) produceOffer(ctx context.Context) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		p.failNegotiation("create offer", err)
		return
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		p.failNegotiation("set local description", err)
		return
	}
	p.emitLocalDescription(ctx)
}

func (p *pionPeer) produceAnswer(ctx context.Context) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		p.failNegotiation("create answer", err)
		return
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		p.failNegotiation("set local description", err)
		return
	}
	p.emitLocalDescription(ctx)
}

func (p *pionPeer) emitLocalDescription(ctx context.Context) {
	select {
	case <-webrtc.GatheringCompletePromise(p.pc):
	case <-ctx.Done():
		return
	}
	desc := p.pc.LocalDescription()
	if desc == nil {
		p.failNegotiation("local description", webrtc.ErrConnectionClosed)
		return
	}
	p.emit(Event{
		Kind:   EventSignalReady,
		Signal: &domain.Signal{Type: desc.Type.String(), SDP: desc.SDP},
	})
}

func (p *pionPeer) failNegotiation(step string, err error) {
	p.log.Error("Peer negotiation failed", zap.String("step", step), zap.Error(err))
	p.emit(Event{Kind: EventStateChange, State: ConnFailed, Err: err})
}

func (p *pionPeer) Signal(remote domain.Signal) error {
	p.mu.Lock()
	if p.signaled {
		p.mu.Unlock()
		return apperrors.InvalidStateError("remote signal already applied")
	}
	p.signaled = true
	p.mu.Unlock()

	desc := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(remote.Type),
		SDP:  remote.SDP,
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	if !p.initiator {
		go p.produceAnswer(context.Background())
	}
	return nil
}

func (p *pionPeer) ToggleAudio() bool {
	p.mu.Lock()
	p.audioMuted = !p.audioMuted
	enabled := !p.audioMuted
	p.mu.Unlock()
	p.setOutbound(TrackKindAudio, enabled)
	for _, t := range p.stream.AudioTracks() {
		t.SetEnabled(enabled)
	}
	return enabled
}

func (p *pionPeer) ToggleVideo() bool {
	p.mu.Lock()
	p.videoMuted = !p.videoMuted
	enabled := !p.videoMuted
	p.mu.Unlock()
	p.setOutbound(TrackKindVideo, enabled)
	for _, t := range p.stream.VideoTracks() {
		t.SetEnabled(enabled)
	}
	return enabled
}

// setOutbound detaches or reattaches the outbound senders of one kind.
// Replacing the sender's track with nil pauses RTP without renegotiation;
// the transceiver keeps its m-line, so reattaching needs no new signal.
func (p *pionPeer) setOutbound(kind TrackKind, enabled bool) {
	for _, ot := range p.outbound {
		if ot.kind != kind {
			continue
		}
		var next webrtc.TrackLocal
		if enabled {
			next = ot.local
		}
		if err := ot.sender.ReplaceTrack(next); err != nil {
			p.log.Warn("Outbound track toggle failed",
				zap.String("kind", string(kind)), zap.Error(err))
		}
	}
}

// Close releases local media and destroys the primitive. Idempotent: the
// second and later calls are no-ops.
func (p *pionPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.stream.Close()
	err := p.pc.Close()

	p.mu.Lock()
	close(p.events)
	p.mu.Unlock()
	return err
}

// emit delivers an event without blocking the primitive's callback
// goroutines; when the buffer is full the oldest event is dropped in favor
// of the newest state.
func (p *pionPeer) emit(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for {
		select {
		case p.events <- ev:
			return
		default:
			select {
			case <-p.events:
			default:
			}
		}
	}
}

func normalizeICEState(state webrtc.ICEConnectionState) (ConnState, bool) {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		return ConnConnecting, true
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return ConnConnected, true
	case webrtc.ICEConnectionStateDisconnected:
		return ConnDisconnected, true
	case webrtc.ICEConnectionStateFailed:
		return ConnFailed, true
	case webrtc.ICEConnectionStateClosed:
		return ConnClosed, true
	default:
		return "", false
	}
}
