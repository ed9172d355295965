package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultRestartEvery = 4 * time.Hour

// AutoReplacer periodically replaces a stream with a fresh connection to the
// same endpoint. The exchange drops websocket sessions after 24h; rotating
// early keeps the data flowing without a visible outage. The spurious
// CONNECT of the new stream and DISCONNECT of the old one are enrolled for
// suppression before the swap so listeners do not resync on a planned
// replacement.
type AutoReplacer struct {
	plane        *Plane
	restartEvery time.Duration
	log          zerolog.Logger

	mu      sync.Mutex
	current *Stream
	stopped bool
}

func newAutoReplacer(plane *Plane, initial *Stream, restartEvery time.Duration, log zerolog.Logger) *AutoReplacer {
	return &AutoReplacer{
		plane:        plane,
		restartEvery: restartEvery,
		log:          log.With().Str("component", "stream_replacer").Logger(),
		current:      initial,
	}
}

// run rotates the stream every restartEvery until stop is closed.
func (r *AutoReplacer) run(stop <-chan struct{}) {
	ticker := time.NewTicker(r.restartEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.replace()
		}
	}
}

func (r *AutoReplacer) replace() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	old := r.current
	fresh := NewStream(old.url, old.buffer, old.parse, r.log)

	r.plane.notifyStreamReplace(old.ID(), fresh.ID())
	if err := fresh.Start(); err != nil {
		r.log.Warn().Err(err).Msg("Replacement stream connecting in background")
	}
	old.Close()
	r.current = fresh
	r.log.Info().
		Str("old", old.ID().String()).
		Str("new", fresh.ID().String()).
		Msg("Stream replaced")
}

// closeCurrent shuts the managed stream down.
func (r *AutoReplacer) closeCurrent() *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.current.Close()
	return r.current
}
