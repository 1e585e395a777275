package media

import (
	"sync"

	"github.com/google/uuid"
)

// Stream groups live tracks the way a capture call hands them out. A stream
// is valid while it still has at least one audio track and every track is
// live; consumers treat attached streams as read-only and never stop tracks
// they did not acquire.
type Stream struct {
	id string

	mu     sync.Mutex
	tracks []*Track
}

// NewStream creates a stream over the given tracks.
func NewStream(tracks ...*Track) *Stream {
	s := &Stream{id: uuid.NewString()}
	s.tracks = append(s.tracks, tracks...)
	return s
}

func (s *Stream) ID() string { return s.id }

// Tracks returns a snapshot of all tracks.
func (s *Stream) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// AudioTracks returns a snapshot of the audio tracks only.
func (s *Stream) AudioTracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Track
	for _, t := range s.tracks {
		if t.Kind() == KindAudio {
			out = append(out, t)
		}
	}
	return out
}

// AddTrack appends a track to the stream.
func (s *Stream) AddTrack(t *Track) {
	if t == nil {
		return
	}
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// RemoveTrack detaches a track from the stream without stopping it.
func (s *Stream) RemoveTrack(t *Track) {
	s.mu.Lock()
	for i, cur := range s.tracks {
		if cur == t {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// Valid reports whether the stream has at least one audio track and every
// track is still live.
func (s *Stream) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	audio := 0
	for _, t := range s.tracks {
		if t.ReadyState() != Live {
			return false
		}
		if t.Kind() == KindAudio {
			audio++
		}
	}
	return audio > 0
}

// StopTracks stops every track on the stream. Idempotent; stop paths iterate
// whatever tracks remain rather than assuming a count.
func (s *Stream) StopTracks() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
