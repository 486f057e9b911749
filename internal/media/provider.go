// Package media owns local capture and the peer connection adapter: it
// acquires camera/microphone streams through a capability provider and wraps
// the WebRTC negotiation primitive behind a normalized event interface.
package media

import (
	"context"
	"errors"
	"fmt"
)

// TrackKind identifies a media track type.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Track is one local capture track. SetEnabled is a local-only mute: it
// flips the enabled flag without renegotiation or relay interaction.
type Track interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// Stream is a local media stream. It is exclusively owned by the peer
// adapter that acquired it; nothing else mutates its tracks.
type Stream interface {
	AudioTracks() []Track
	VideoTracks() []Track
	// Close stops every track. Idempotent.
	Close()
}

// Constraints describes one capture attempt. Zero-valued dimension fields
// mean "no preference".
type Constraints struct {
	Audio     bool
	Video     bool
	Width     int
	Height    int
	FrameRate int
}

// Provider acquires local media, the getUserMedia equivalent of the runtime.
type Provider interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// AcquireReason classifies why a capture attempt failed.
type AcquireReason string

const (
	ReasonNotFound         AcquireReason = "NotFound"
	ReasonInUse            AcquireReason = "InUse"
	ReasonPermissionDenied AcquireReason = "PermissionDenied"
	ReasonOverconstrained  AcquireReason = "Overconstrained"
	ReasonUnsupported      AcquireReason = "Unsupported"
	ReasonOther            AcquireReason = "Other"
)

// AcquireError is a classified capture failure.
type AcquireError struct {
	Reason AcquireReason
	Err    error
}

func (e *AcquireError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media acquire failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("media acquire failed (%s)", e.Reason)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// NewAcquireError builds a classified capture failure.
func NewAcquireError(reason AcquireReason, err error) *AcquireError {
	return &AcquireError{Reason: reason, Err: err}
}

// ReasonOf extracts the classified reason from an acquisition error chain,
// defaulting to ReasonOther.
func ReasonOf(err error) AcquireReason {
	var ae *AcquireError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ReasonOther
}

// IsAcquireError reports whether err came from a failed capture attempt.
func IsAcquireError(err error) bool {
	var ae *AcquireError
	return errors.As(err, &ae)
}
