package media

import (
	"context"

	"go.uber.org/zap"
)

// AcquireWithFallback runs the constraint-relaxation ladder:
//
//  1. ideal constraints (video+audio at the target resolution/framerate)
//  2. on an overconstrained video failure, relaxed video (640x480, no
//     framerate preference)
//  3. on any remaining video failure, audio only
//  4. classified error if even audio fails
//
// Attempts are strictly sequential so the user is never prompted for device
// permission twice at once. For audio-only requests the ladder is a single
// attempt.
func AcquireWithFallback(ctx context.Context, p Provider, want Constraints, log *zap.Logger) (Stream, error) {
	stream, err := p.Acquire(ctx, want)
	if err == nil || !want.Video {
		return stream, err
	}
	log.Warn("Media acquire failed with ideal constraints",
		zap.String("reason", string(ReasonOf(err))),
		zap.Error(err))

	if ReasonOf(err) == ReasonOverconstrained {
		relaxed := Constraints{
			Audio:  want.Audio,
			Video:  true,
			Width:  640,
			Height: 480,
		}
		stream, err = p.Acquire(ctx, relaxed)
		if err == nil {
			log.Info("Media acquired with relaxed video constraints")
			return stream, nil
		}
		log.Warn("Media acquire failed with relaxed constraints", zap.Error(err))
	}

	if want.Audio {
		stream, audioErr := p.Acquire(ctx, Constraints{Audio: true})
		if audioErr == nil {
			log.Info("Video unavailable, using audio-only mode")
			return stream, nil
		}
		log.Error("Audio-only acquire failed", zap.Error(audioErr))
		return nil, audioErr
	}

	return nil, err
}
