// Package call implements the 1:1 call lifecycle: dialing, ringing,
// answering, the in-call transitions and teardown. All state lives in a
// single event loop fed by relay snapshots, peer transport events, timers
// and user commands, so no transition ever races another.
package call

import (
	"context"
	"errors"
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

// ErrGlareYield is returned by Start when the intended callee is already
// ringing this user and the lexicographic tie-break says this side yields.
// The UI should surface the incoming call instead of dialing out.
var ErrGlareYield = errors.New("peer is already calling, answer the incoming call instead")

// Phase is the local lifecycle phase of the machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseRinging    Phase = "ringing"
	// PhaseActive begins when the transport reports connected, not when the
	// answer lands in the relay: an answered call stays in its prior phase
	// until media actually flows.
	PhaseActive Phase = "active"
	PhaseEnded  Phase = "ended"
)

// State is a self-contained snapshot of the machine, published on Updates
// after every transition. Outcome is empty while a call is in flight; after
// teardown it holds "completed" or the error code that ended the call.
type State struct {
	Phase        Phase           `json:"phase"`
	CallID       string          `json:"call_id,omitempty"`
	PeerID       string          `json:"peer_id,omitempty"`
	Kind         domain.CallKind `json:"kind,omitempty"`
	Initiator    bool            `json:"initiator"`
	RemoteStream bool            `json:"remote_stream"`
	AudioEnabled bool            `json:"audio_enabled"`
	VideoEnabled bool            `json:"video_enabled"`
	// Degraded is set while the transport is disconnected and the grace
	// timer is running.
	Degraded    bool      `json:"degraded"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	Outcome     string    `json:"outcome,omitempty"`
	Remediation string    `json:"remediation,omitempty"`
}

// OutcomeCompleted is the Outcome value of a call that ended normally.
const OutcomeCompleted = "completed"

// Machine drives one call at a time for one local user. Commands are safe
// to call from any goroutine; they are marshalled onto the internal loop.
type Machine struct {
	relay   relay.Client
	factory media.Factory
	clock   clock.Clock
	cfg     *config.Config
	self    domain.Identity
	log     *zap.Logger
	metrics *metrics.Metrics
	history *History

	cmdCh   chan func()
	evCh    chan event
	updates chan State

	cancel context.CancelFunc
	ctx    context.Context
	done   chan struct{}

	// Loop-owned; never touched outside the loop goroutine.
	session *session
	gen     int
	state   State
}

type eventKind int

const (
	evDialReady eventKind = iota
	evDialFailed
	evPeer
	evSnapshot
	evTimer
)

type timerKind int

const (
	timerRinging timerKind = iota
	timerNegotiation
	timerGrace
)

type event struct {
	gen   int
	kind  eventKind
	peer  media.Peer
	pe    media.Event
	snap  relay.Snapshot
	timer timerKind
	err   error
}

// session is the loop-private state of the call in flight.
type session struct {
	gen       int
	callID    string
	peerID    string
	kind      domain.CallKind
	initiator bool
	offer     *domain.Signal

	peer        media.Peer
	watchCancel context.CancelFunc
	watchSub    relay.Subscription

	ringTimer  *clock.Timer
	negTimer   *clock.Timer
	graceTimer *clock.Timer

	answered bool
	// remoteTerminal is set when the relay already shows a terminal status,
	// so teardown must not issue another status write.
	remoteTerminal bool

	startedAt   time.Time
	connectedAt time.Time

	// pending completes the blocked Start or Answer command.
	pending chan pendingResult
}

type pendingResult struct {
	callID string
	err    error
}

// Option configures optional machine collaborators.
type Option func(*Machine)

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mc *Machine) { mc.metrics = m }
}

// WithHistory attaches a call history recorder.
func WithHistory(h *History) Option {
	return func(mc *Machine) { mc.history = h }
}

// NewMachine builds the machine and starts its event loop. The identity is
// explicit: the machine acts only for this user and never consults any
// ambient session state.
func NewMachine(rc relay.Client, factory media.Factory, clk clock.Clock, cfg *config.Config, self domain.Identity, log *zap.Logger, opts ...Option) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		relay:   rc,
		factory: factory,
		clock:   clk,
		cfg:     cfg,
		self:    self,
		log:     log.With(zap.String("user_id", self.UserID)),
		cmdCh:   make(chan func()),
		evCh:    make(chan event, 64),
		updates: make(chan State, 16),
		cancel:  cancel,
		ctx:     ctx,
		done:    make(chan struct{}),
		state:   State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.loop()
	return m
}

// Updates delivers a state snapshot after every transition. Latest-wins: a
// slow reader may miss intermediate snapshots but always sees the newest.
func (m *Machine) Updates() <-chan State { return m.updates }

// State returns the current state snapshot.
func (m *Machine) State() State {
	out := make(chan State, 1)
	if err := m.do(context.Background(), func() { out <- m.state }); err != nil {
		return State{Phase: PhaseEnded}
	}
	return <-out
}

// Close tears down any call in flight and stops the loop.
func (m *Machine) Close() error {
	_ = m.do(context.Background(), func() {
		if m.session != nil {
			m.writeTerminal(m.session)
			m.finish(m.session, nil)
		}
	})
	m.cancel()
	<-m.done
	return nil
}

// Start dials calleeID. It blocks until the call record is published and
// ringing has begun, returning the record id, or until dialing fails.
func (m *Machine) Start(ctx context.Context, calleeID string, kind domain.CallKind) (string, error) {
	pending := make(chan pendingResult, 1)
	err := m.do(ctx, func() { m.handleStart(ctx, calleeID, kind, pending) })
	if err != nil {
		return "", err
	}
	select {
	case res := <-pending:
		return res.callID, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.done:
		return "", apperrors.InvalidStateError("call machine closed")
	}
}

// Answer accepts the ringing call with the given record id. It blocks until
// the answer signal is published to the relay, or until answering fails.
func (m *Machine) Answer(ctx context.Context, callID string) error {
	pending := make(chan pendingResult, 1)
	err := m.do(ctx, func() { m.handleAnswer(ctx, callID, pending) })
	if err != nil {
		return err
	}
	select {
	case res := <-pending:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return apperrors.InvalidStateError("call machine closed")
	}
}

// End hangs up the call in flight, whatever its phase. The terminal relay
// write is best-effort: local teardown always completes.
func (m *Machine) End(ctx context.Context) error {
	out := make(chan error, 1)
	if err := m.do(ctx, func() {
		s := m.session
		if s == nil {
			out <- apperrors.InvalidStateError("no call in progress")
			return
		}
		if s.pending != nil {
			s.pending <- pendingResult{err: apperrors.InvalidStateError("call ended locally")}
			s.pending = nil
		}
		m.writeTerminal(s)
		m.finish(s, nil)
		out <- nil
	}); err != nil {
		return err
	}
	return <-out
}

// ToggleAudio flips the local microphone mute and returns the new enabled
// state. Purely local: the remote side keeps receiving (silent) frames.
func (m *Machine) ToggleAudio(ctx context.Context) (bool, error) {
	return m.toggle(ctx, func(p media.Peer) bool { return p.ToggleAudio() }, func(st *State, on bool) { st.AudioEnabled = on })
}

// ToggleVideo flips the local camera mute and returns the new enabled state.
func (m *Machine) ToggleVideo(ctx context.Context) (bool, error) {
	return m.toggle(ctx, func(p media.Peer) bool { return p.ToggleVideo() }, func(st *State, on bool) { st.VideoEnabled = on })
}

func (m *Machine) toggle(ctx context.Context, flip func(media.Peer) bool, apply func(*State, bool)) (bool, error) {
	type result struct {
		on  bool
		err error
	}
	out := make(chan result, 1)
	if err := m.do(ctx, func() {
		if m.session == nil || m.session.peer == nil {
			out <- result{err: apperrors.InvalidStateError("no call in progress")}
			return
		}
		on := flip(m.session.peer)
		apply(&m.state, on)
		m.publish()
		out <- result{on: on}
	}); err != nil {
		return false, err
	}
	res := <-out
	return res.on, res.err
}

// do marshals fn onto the loop goroutine.
func (m *Machine) do(ctx context.Context, fn func()) error {
	select {
	case m.cmdCh <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return apperrors.InvalidStateError("call machine closed")
	}
}

func (m *Machine) loop() {
	defer close(m.done)
	for {
		select {
		case fn := <-m.cmdCh:
			fn()
		case ev := <-m.evCh:
			m.handleEvent(ev)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Machine) handleEvent(ev event) {
	s := m.session
	if s == nil || ev.gen != s.gen {
		// Stale: belongs to a call that already tore down.
		return
	}
	switch ev.kind {
	case evDialReady:
		m.onDialReady(s, ev.peer)
	case evDialFailed:
		m.failCall(s, apperrors.MediaAcquisitionError(ev.err), false)
	case evPeer:
		m.onPeerEvent(s, ev.pe)
	case evSnapshot:
		m.onSnapshot(s, ev.snap)
	case evTimer:
		m.onTimer(s, ev.timer)
	}
}

// --- dialing ---

func (m *Machine) handleStart(ctx context.Context, calleeID string, kind domain.CallKind, pending chan pendingResult) {
	if m.session != nil {
		pending <- pendingResult{err: apperrors.InvalidStateError("a call is already in progress")}
		return
	}

	// Glare check: if the intended callee is already ringing us, the side
	// with the lexicographically larger user id yields and answers instead.
	// Both sides run the same comparison, so exactly one call survives.
	if m.self.UserID > calleeID {
		snaps, err := m.relay.Query(ctx, domain.CollectionCalls, []relay.Filter{
			{Field: "caller", Value: calleeID},
			{Field: "callee", Value: m.self.UserID},
			{Field: "status", Value: domain.CallStatusRinging},
		})
		if err != nil {
			m.log.Warn("Glare check query failed, proceeding with dial", zap.Error(err))
		} else if len(snaps) > 0 {
			pending <- pendingResult{err: ErrGlareYield}
			return
		}
	}

	s := m.newSession(calleeID, kind, true, pending)
	m.log.Info("Starting call",
		zap.String("callee", calleeID),
		zap.String("kind", string(kind)))
	m.setState(State{
		Phase:        PhaseConnecting,
		PeerID:       calleeID,
		Kind:         kind,
		Initiator:    true,
		AudioEnabled: true,
		VideoEnabled: kind == domain.CallKindVideo,
		StartedAt:    s.startedAt,
	})
	m.dial(s, true)
}

func (m *Machine) handleAnswer(ctx context.Context, callID string, pending chan pendingResult) {
	if m.session != nil {
		pending <- pendingResult{err: apperrors.InvalidStateError("a call is already in progress")}
		return
	}

	var rec domain.CallRecord
	if err := m.relay.Get(ctx, domain.CollectionCalls, callID, &rec); err != nil {
		if errors.Is(err, relay.ErrNotFound) {
			pending <- pendingResult{err: apperrors.CallNotFoundError()}
		} else {
			pending <- pendingResult{err: apperrors.SignalingError(err)}
		}
		return
	}
	switch {
	case rec.Callee != m.self.UserID:
		pending <- pendingResult{err: apperrors.InvalidStateError("call is not addressed to this user")}
		return
	case rec.Status != domain.CallStatusRinging:
		pending <- pendingResult{err: apperrors.InvalidStateError("call is no longer ringing")}
		return
	case rec.OfferSignal == nil || rec.OfferSignal.SDP == "":
		pending <- pendingResult{err: apperrors.SignalingError(errors.New("call record has no offer signal"))}
		return
	}

	s := m.newSession(rec.Caller, rec.Kind, false, pending)
	s.callID = callID
	s.offer = rec.OfferSignal
	m.log.Info("Answering call",
		zap.String("call_id", callID),
		zap.String("caller", rec.Caller),
		zap.String("kind", string(rec.Kind)))
	m.setState(State{
		Phase:        PhaseConnecting,
		CallID:       callID,
		PeerID:       rec.Caller,
		Kind:         rec.Kind,
		AudioEnabled: true,
		VideoEnabled: rec.Kind == domain.CallKindVideo,
		StartedAt:    s.startedAt,
	})
	m.dial(s, false)
}

func (m *Machine) newSession(peerID string, kind domain.CallKind, initiator bool, pending chan pendingResult) *session {
	m.gen++
	s := &session{
		gen:       m.gen,
		peerID:    peerID,
		kind:      kind,
		initiator: initiator,
		startedAt: m.clock.Now(),
		pending:   pending,
	}
	m.session = s
	return s
}

// dial acquires media and builds the peer off-loop; the loop resumes on
// evDialReady / evDialFailed.
func (m *Machine) dial(s *session, initiator bool) {
	gen := s.gen
	go func() {
		peer, err := m.factory.NewPeer(m.ctx, initiator, s.kind)
		if err != nil {
			m.metrics.RecordMediaAcquire("failure")
			m.send(event{gen: gen, kind: evDialFailed, err: err})
			return
		}
		m.metrics.RecordMediaAcquire("success")
		m.send(event{gen: gen, kind: evDialReady, peer: peer})
	}()
}

func (m *Machine) onDialReady(s *session, peer media.Peer) {
	s.peer = peer
	gen := s.gen
	go func() {
		for pe := range peer.Events() {
			m.send(event{gen: gen, kind: evPeer, pe: pe})
		}
	}()

	if !s.initiator {
		// Apply the caller's offer; the peer produces the answer signal
		// once gathering completes.
		if err := peer.Signal(*s.offer); err != nil {
			m.failCall(s, apperrors.SignalingError(err), false)
		}
	}
}

// --- peer events ---

func (m *Machine) onPeerEvent(s *session, pe media.Event) {
	switch pe.Kind {
	case media.EventSignalReady:
		if s.initiator {
			m.publishOffer(s, pe.Signal)
		} else {
			m.publishAnswer(s, pe.Signal)
		}
	case media.EventRemoteStream:
		m.state.RemoteStream = true
		m.publish()
	case media.EventStateChange:
		m.onTransportState(s, pe)
	}
}

// publishOffer creates the call record once the local offer is gathered;
// ringing starts when the write commits.
func (m *Machine) publishOffer(s *session, sig *domain.Signal) {
	now := m.clock.Now()
	rec := domain.CallRecord{
		Caller:      m.self.UserID,
		Callee:      s.peerID,
		Kind:        s.kind,
		OfferSignal: sig,
		Status:      domain.CallStatusRinging,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.RingingTimeout),
	}
	id, err := m.relay.Create(m.ctx, domain.CollectionCalls, rec)
	m.metrics.RecordRelayWrite(domain.CollectionCalls, "create", err)
	if err != nil {
		m.failCall(s, apperrors.GetCallError(err), false)
		return
	}
	s.callID = id

	if !m.watchRecord(s) {
		return
	}
	s.ringTimer = m.afterFunc(s.gen, m.cfg.RingingTimeout, timerRinging)

	m.state.Phase = PhaseRinging
	m.state.CallID = id
	m.publish()
	m.resolvePending(s, id, nil)
	m.log.Info("Call ringing", zap.String("call_id", id))
}

// publishAnswer writes the callee's answer fields. Field ownership: only
// answer, answeredAt and status are touched, the caller's signal stays
// intact.
func (m *Machine) publishAnswer(s *session, sig *domain.Signal) {
	now := m.clock.Now()
	err := m.relay.Update(m.ctx, domain.CollectionCalls, s.callID, []relay.Update{
		{Field: "answer", Value: sig},
		{Field: "answeredAt", Value: now},
		{Field: "status", Value: domain.CallStatusActive},
	})
	m.metrics.RecordRelayWrite(domain.CollectionCalls, "update", err)
	if err != nil {
		m.failCall(s, apperrors.GetCallError(err), false)
		return
	}
	s.answered = true

	if !m.watchRecord(s) {
		return
	}
	s.negTimer = m.afterFunc(s.gen, m.cfg.NegotiationTimeout, timerNegotiation)
	m.resolvePending(s, s.callID, nil)
	m.log.Info("Answer published", zap.String("call_id", s.callID))
}

func (m *Machine) onTransportState(s *session, pe media.Event) {
	switch pe.State {
	case media.ConnConnecting:
		// ICE checks in progress; no phase change.
	case media.ConnConnected:
		m.stopTimer(&s.negTimer)
		m.stopTimer(&s.graceTimer)
		if s.connectedAt.IsZero() {
			s.connectedAt = m.clock.Now()
			m.metrics.SetActiveCalls(1)
			m.log.Info("Call connected", zap.String("call_id", s.callID))
		}
		m.state.Phase = PhaseActive
		m.state.Degraded = false
		m.state.ConnectedAt = s.connectedAt
		m.publish()
	case media.ConnDisconnected:
		if m.state.Phase != PhaseActive || s.graceTimer != nil {
			return
		}
		s.graceTimer = m.afterFunc(s.gen, m.cfg.DisconnectGrace, timerGrace)
		m.state.Degraded = true
		m.publish()
		m.log.Warn("Transport disconnected, starting grace period",
			zap.String("call_id", s.callID),
			zap.Duration("grace", m.cfg.DisconnectGrace))
	case media.ConnFailed:
		m.failCall(s, apperrors.ConnectionFailedError(pe.Err), true)
	case media.ConnClosed:
		// The transport shut down cleanly (remote teardown). A closed
		// transport ends the call without an error; abrupt loss arrives as
		// disconnected/failed instead.
		m.resolvePending(s, "", apperrors.InvalidStateError("call ended"))
		m.writeTerminal(s)
		m.finish(s, nil)
	}
}

// --- relay snapshots ---

func (m *Machine) watchRecord(s *session) bool {
	watchCtx, cancel := context.WithCancel(m.ctx)
	sub, err := m.relay.Watch(watchCtx, domain.CollectionCalls, s.callID)
	if err != nil {
		cancel()
		m.failCall(s, apperrors.SignalingError(err), false)
		return false
	}
	s.watchCancel = cancel
	s.watchSub = sub
	gen := s.gen
	go func() {
		for snap := range sub.Snapshots() {
			m.send(event{gen: gen, kind: evSnapshot, snap: snap})
		}
	}()
	return true
}

func (m *Machine) onSnapshot(s *session, snap relay.Snapshot) {
	if !snap.Exists {
		// Record deleted out from under the call: treat as a remote hangup.
		s.remoteTerminal = true
		m.finish(s, nil)
		return
	}
	var rec domain.CallRecord
	if err := snap.Decode(&rec); err != nil {
		m.log.Warn("Undecodable call snapshot", zap.String("call_id", s.callID), zap.Error(err))
		return
	}

	switch rec.Status {
	case domain.CallStatusDeclined:
		s.remoteTerminal = true
		m.failCall(s, apperrors.CallDeclinedError(), false)
		return
	case domain.CallStatusEnded:
		s.remoteTerminal = true
		m.finish(s, nil)
		return
	}

	// Caller side: the answer signal arriving is what moves the call out of
	// ringing. Only the first one counts; the answer field never changes
	// afterwards under the ownership convention.
	if s.initiator && !s.answered && rec.Answered() {
		s.answered = true
		m.stopTimer(&s.ringTimer)
		s.negTimer = m.afterFunc(s.gen, m.cfg.NegotiationTimeout, timerNegotiation)
		if err := s.peer.Signal(*rec.AnswerSignal); err != nil {
			m.failCall(s, apperrors.SignalingError(err), true)
			return
		}
		m.log.Info("Answer received", zap.String("call_id", s.callID))
	}
}

// --- timers ---

func (m *Machine) afterFunc(gen int, d time.Duration, kind timerKind) *clock.Timer {
	return m.clock.AfterFunc(d, func() {
		m.send(event{gen: gen, kind: evTimer, timer: kind})
	})
}

func (m *Machine) stopTimer(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Machine) onTimer(s *session, kind timerKind) {
	switch kind {
	case timerRinging:
		if s.answered {
			return
		}
		m.log.Info("Ringing timed out", zap.String("call_id", s.callID))
		m.failCall(s, apperrors.CallTimeoutError(), true)
	case timerNegotiation:
		if m.state.Phase == PhaseActive {
			return
		}
		m.failCall(s, apperrors.ConnectionFailedError(errors.New("negotiation timed out")), true)
	case timerGrace:
		if !m.state.Degraded {
			return
		}
		m.log.Warn("Disconnect grace expired", zap.String("call_id", s.callID))
		m.failCall(s, apperrors.ConnectionLostError(), true)
	}
}

// --- teardown ---

// failCall tears down with a failure outcome. writeTerminal controls the
// best-effort relay status write; it is skipped when the relay already
// shows a terminal status written by the other side.
func (m *Machine) failCall(s *session, outcome *apperrors.CallError, writeTerminal bool) {
	if writeTerminal {
		m.writeTerminal(s)
	}
	m.resolvePending(s, "", outcome)
	m.finish(s, outcome)
}

// writeTerminal marks the record ended in the relay. Failures are logged
// and swallowed: once a call is over locally, nothing may block teardown.
func (m *Machine) writeTerminal(s *session) {
	if s.callID == "" || s.remoteTerminal {
		return
	}
	now := m.clock.Now()
	patch := []relay.Update{
		{Field: "status", Value: domain.CallStatusEnded},
		{Field: "endedAt", Value: now},
	}
	if !s.connectedAt.IsZero() {
		patch = append(patch, relay.Update{
			Field: "duration",
			Value: int(now.Sub(s.connectedAt) / time.Second),
		})
	}
	err := m.relay.Update(m.ctx, domain.CollectionCalls, s.callID, patch)
	m.metrics.RecordRelayWrite(domain.CollectionCalls, "update", err)
	if err != nil {
		m.log.Warn("Terminal status write failed",
			zap.String("call_id", s.callID), zap.Error(err))
	}
}

// finish releases every call resource and publishes the terminal state.
// outcome nil means the call ended normally.
func (m *Machine) finish(s *session, outcome *apperrors.CallError) {
	m.stopTimer(&s.ringTimer)
	m.stopTimer(&s.negTimer)
	m.stopTimer(&s.graceTimer)
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchSub.Stop()
	}
	if s.peer != nil {
		// Off-loop: transport close can block on network teardown.
		peer := s.peer
		go func() { _ = peer.Close() }()
	}

	now := m.clock.Now()
	outcomeStr := OutcomeCompleted
	if outcome != nil {
		outcomeStr = string(outcome.Code)
		m.state.Remediation = outcome.Remediation
		m.metrics.RecordCallFailure(string(s.kind), outcomeStr)
	}
	m.metrics.RecordCall(string(s.kind), outcomeStr)
	m.metrics.SetActiveCalls(0)
	if !s.connectedAt.IsZero() {
		m.metrics.RecordCallDuration(string(s.kind), now.Sub(s.connectedAt))
	}
	if m.history != nil {
		m.history.Record(Entry{
			CallID:      s.callID,
			PeerID:      s.peerID,
			Kind:        s.kind,
			Initiator:   s.initiator,
			Outcome:     outcomeStr,
			StartedAt:   s.startedAt,
			ConnectedAt: s.connectedAt,
			EndedAt:     now,
		})
	}
	m.log.Info("Call finished",
		zap.String("call_id", s.callID),
		zap.String("outcome", outcomeStr))

	m.state.Phase = PhaseEnded
	m.state.Outcome = outcomeStr
	m.state.Degraded = false
	m.publish()

	// Ready for the next call; the terminal snapshot stays readable.
	m.session = nil
	m.state.Phase = PhaseIdle
}

func (m *Machine) resolvePending(s *session, callID string, err error) {
	if s.pending == nil {
		return
	}
	s.pending <- pendingResult{callID: callID, err: err}
	s.pending = nil
}

// --- state publication ---

func (m *Machine) setState(st State) {
	m.state = st
	m.publish()
}

// publish pushes the current state snapshot, dropping the oldest pending
// one when the reader lags.
func (m *Machine) publish() {
	for {
		select {
		case m.updates <- m.state:
			return
		default:
			select {
			case <-m.updates:
			default:
			}
		}
	}
}

// send delivers an event to the loop unless the machine is shutting down.
func (m *Machine) send(ev event) {
	select {
	case m.evCh <- ev:
	case <-m.ctx.Done():
	}
}
