// Package diagnostics runs pre-call device and network probes and turns
// the results into deterministic user-facing recommendations. A run never
// fails as a whole: every probe failure becomes part of the report.
package diagnostics

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"go.uber.org/zap"

	"peercall-core/internal/media"
	"peercall-core/pkg/metrics"
)

// ProbeStatus is the outcome of one probe.
type ProbeStatus string

const (
	StatusOK      ProbeStatus = "ok"
	StatusWarning ProbeStatus = "warning"
	StatusFailed  ProbeStatus = "failed"
)

// Probe is one named check with its outcome.
type Probe struct {
	Name   string      `json:"name"`
	Status ProbeStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// Report is the full diagnostics result. Recommendations are ordered
// deterministically: transport, microphone, camera, network.
type Report struct {
	Transport       Probe     `json:"transport"`
	Microphone      Probe     `json:"microphone"`
	Camera          Probe     `json:"camera"`
	Network         Probe     `json:"network"`
	Recommendations []string  `json:"recommendations"`
	RanAt           time.Time `json:"ran_at"`
}

// Verdict summarizes the report: "failed" if any probe failed, "degraded"
// if any warned, "ok" otherwise.
func (r Report) Verdict() string {
	probes := []Probe{r.Transport, r.Microphone, r.Camera, r.Network}
	verdict := "ok"
	for _, p := range probes {
		switch p.Status {
		case StatusFailed:
			return "failed"
		case StatusWarning:
			verdict = "degraded"
		}
	}
	return verdict
}

const (
	probeTimeout = 5 * time.Second

	// Connectivity fallback target when UDP is blocked.
	tcpFallbackAddr = "www.google.com:443"
)

// Service runs the probes.
type Service struct {
	provider    media.Provider
	stunServers []string
	log         *zap.Logger
	metrics     *metrics.Metrics
}

// NewService builds a diagnostics service. stunServers carries the
// configured ICE server URLs ("stun:host:port").
func NewService(provider media.Provider, stunServers []string, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		provider:    provider,
		stunServers: stunServers,
		log:         log,
		metrics:     m,
	}
}

// Run executes every probe and assembles the report. Device probes release
// their streams immediately; nothing stays captured after a run.
func (s *Service) Run(ctx context.Context) Report {
	report := Report{
		Transport:  s.probeTransport(),
		Microphone: s.probeDevice(ctx, "microphone", media.Constraints{Audio: true}),
		Camera:     s.probeDevice(ctx, "camera", media.Constraints{Video: true}),
		Network:    s.probeNetwork(ctx),
		RanAt:      time.Now(),
	}
	report.Recommendations = recommend(report)

	verdict := report.Verdict()
	s.metrics.RecordDiagnosticsRun(verdict)
	s.log.Info("Diagnostics run finished",
		zap.String("verdict", verdict),
		zap.String("microphone", string(report.Microphone.Status)),
		zap.String("camera", string(report.Camera.Status)),
		zap.String("network", string(report.Network.Status)))
	return report
}

// probeTransport verifies the negotiation stack is usable at all. The
// engine is compiled in, so the only degradation is a missing ICE server
// configuration.
func (s *Service) probeTransport() Probe {
	p := Probe{Name: "transport", Status: StatusOK}
	if len(s.stunServers) == 0 {
		p.Status = StatusWarning
		p.Detail = "no STUN servers configured; connections limited to the local network"
	}
	return p
}

func (s *Service) probeDevice(ctx context.Context, name string, c media.Constraints) Probe {
	p := Probe{Name: name, Status: StatusOK}
	stream, err := s.provider.Acquire(ctx, c)
	if err != nil {
		p.Status = StatusFailed
		p.Detail = string(media.ReasonOf(err))
		s.log.Warn("Device probe failed",
			zap.String("device", name),
			zap.String("reason", p.Detail),
			zap.Error(err))
		return p
	}
	stream.Close()
	return p
}

// probeNetwork sends a STUN binding request to the first configured server.
// If UDP is blocked a plain TCP dial distinguishes "no internet" from
// "UDP filtered": the latter is a warning because calls can still relay
// over TURN.
func (s *Service) probeNetwork(ctx context.Context) Probe {
	p := Probe{Name: "network", Status: StatusOK}
	if len(s.stunServers) == 0 {
		p.Status = StatusWarning
		p.Detail = "no STUN servers configured; reachability not tested"
		return p
	}

	addr := stunHostPort(s.stunServers[0])
	err := s.stunBinding(addr)
	if err == nil {
		return p
	}
	s.log.Warn("STUN binding failed, falling back to TCP probe",
		zap.String("server", addr), zap.Error(err))

	dialer := net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", tcpFallbackAddr)
	if err != nil {
		p.Status = StatusFailed
		p.Detail = "no internet connectivity"
		return p
	}
	conn.Close()
	p.Status = StatusWarning
	p.Detail = "UDP appears blocked; calls will need a TURN relay"
	return p
}

func (s *Service) stunBinding(addr string) error {
	conn, err := net.DialTimeout("udp", addr, probeTimeout)
	if err != nil {
		return err
	}
	client, err := stun.NewClient(conn)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	var probeErr error
	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	err = client.Do(msg, func(res stun.Event) {
		if res.Error != nil {
			probeErr = res.Error
			return
		}
		var mapped stun.XORMappedAddress
		if err := mapped.GetFrom(res.Message); err != nil {
			probeErr = err
		}
	})
	if err != nil {
		return err
	}
	return probeErr
}

// stunHostPort strips the URI scheme from a configured STUN server entry.
func stunHostPort(server string) string {
	server = strings.TrimPrefix(server, "stun:")
	server = strings.TrimPrefix(server, "stuns:")
	if !strings.Contains(server, ":") {
		server += ":3478"
	}
	return server
}

// recommend maps probe outcomes onto user-facing advice, in a fixed order
// so identical reports always produce identical recommendations.
func recommend(r Report) []string {
	var out []string
	if r.Transport.Status != StatusOK {
		out = append(out, "Configure at least one STUN server so calls can traverse NAT")
	}
	switch {
	case r.Microphone.Status == StatusFailed && r.Microphone.Detail == string(media.ReasonPermissionDenied):
		out = append(out, "Allow microphone access in your system settings, then try again")
	case r.Microphone.Status == StatusFailed && r.Microphone.Detail == string(media.ReasonInUse):
		out = append(out, "Close other applications using the microphone, then try again")
	case r.Microphone.Status == StatusFailed:
		out = append(out, "Connect a microphone; voice calls need one")
	}
	switch {
	case r.Camera.Status == StatusFailed && r.Camera.Detail == string(media.ReasonPermissionDenied):
		out = append(out, "Allow camera access in your system settings, then try again")
	case r.Camera.Status == StatusFailed && r.Camera.Detail == string(media.ReasonInUse):
		out = append(out, "Close other applications using the camera, then try again")
	case r.Camera.Status == StatusFailed:
		out = append(out, "Connect a camera, or start a voice call instead")
	}
	switch r.Network.Status {
	case StatusFailed:
		out = append(out, "Check your internet connection and try again")
	case StatusWarning:
		if strings.Contains(r.Network.Detail, "UDP") {
			out = append(out, "Your network blocks UDP; configure a TURN relay for reliable calls")
		}
	}
	return out
}
