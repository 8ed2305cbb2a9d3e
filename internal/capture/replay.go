package capture

import (
	"context"
	"time"
)

// ReplaySource replays a fixed slice of frames, used by tests and offline
// analysis instead of a live device: replay and live capture are
// interchangeable above this layer since both satisfy Source.
type ReplaySource struct {
	frames []Frame
	closed bool
}

// NewReplaySource returns a Source that yields frames in order.
func NewReplaySource(frames []Frame) *ReplaySource {
	return &ReplaySource{frames: frames}
}

// Frames yields every frame in order on a buffered channel, then closes it.
func (r *ReplaySource) Frames(ctx context.Context) (<-chan Frame, error) {
	out := make(chan Frame, len(r.frames))

	go func() {
		defer close(out)

		for _, f := range r.frames {
			if f.Timestamp.IsZero() {
				f.Timestamp = time.Now()
			}

			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close marks the source closed; idempotent.
func (r *ReplaySource) Close() error {
	r.closed = true

	return nil
}
