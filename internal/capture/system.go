package capture

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/abegunasekara/openai-realtime-agents/internal/media"
)

// State is the tagged capture state. Exactly one applies at a time; an error
// reason only exists alongside StateError.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Event is delivered to the optional observer on every state change.
type Event struct {
	State  State
	Reason string
}

// System acquires an optional secondary audio source (shared tab / system
// audio) through the display-capture permission flow and tracks its liveness.
// When the user tears the share down from outside (browser chrome, OS
// control), the track-ended observer clears the held source and the state
// flips back to idle without polling.
type System struct {
	origin   string
	observer func(Event)

	mu     sync.Mutex
	state  State
	reason string
	stream *media.Stream
	gen    int
}

// NewSystem creates a capturer probing against the given signaling origin.
// observer may be nil.
func NewSystem(origin string, observer func(Event)) *System {
	return &System{origin: origin, observer: observer}
}

// acquisition strategies, decreasing specificity: processing disabled first
// so the agent hears the tab mix untouched, then defaults, then audio+video
// with the video tracks discarded.
func strategies() []Constraints {
	return []Constraints{
		{
			Audio:            true,
			EchoCancellation: BoolPtr(false),
			NoiseSuppression: BoolPtr(false),
			AutoGainControl:  BoolPtr(false),
		},
		{Audio: true},
		{Audio: true, Video: true},
	}
}

// Start probes the environment and runs the acquisition ladder. The returned
// stream is owned by the capturer until Stop or until its tracks end. A user
// dismissing the permission prompt is indistinguishable from a strategy
// failure and reported as a capture failure.
func (s *System) Start(ctx context.Context) (*media.Stream, error) {
	if sup := Probe(s.origin); !sup.Supported {
		err := fmt.Errorf("%w: %s", ErrUnsupportedEnvironment, sup.Reason)
		s.setError(err.Error())
		return nil, err
	}

	s.mu.Lock()
	if s.state == StateActive && s.stream != nil && s.stream.Valid() {
		stream := s.stream
		s.mu.Unlock()
		return stream, nil
	}
	s.gen++
	gen := s.gen
	s.setStateLocked(StateRequesting, "")
	s.mu.Unlock()

	acquire := displayAudio()
	var lastErr error
	var stream *media.Stream
	for i, c := range strategies() {
		got, err := acquire(ctx, c)
		if err != nil {
			log.Printf("capture: strategy %d failed: %v", i+1, err)
			lastErr = err
			continue
		}
		stream = got
		break
	}
	if stream == nil {
		err := fmt.Errorf("%w: exhausted all strategies, last error: %v", ErrCaptureFailed, lastErr)
		s.setError(err.Error())
		return nil, err
	}

	// Keep audio only; strategy three may hand back a video track too.
	for _, t := range stream.Tracks() {
		if t.Kind() == media.KindVideo {
			t.Stop()
			stream.RemoveTrack(t)
		}
	}
	audio := stream.AudioTracks()
	if len(audio) == 0 {
		stream.StopTracks()
		s.setError(ErrNoAudioTracks.Error())
		return nil, ErrNoAudioTracks
	}

	for _, t := range audio {
		t.OnEnded(func() { s.sourceEnded(gen) })
	}

	s.mu.Lock()
	s.stream = stream
	s.setStateLocked(StateActive, "")
	s.mu.Unlock()
	return stream, nil
}

// Stop stops all tracks of the held source and clears state. Safe to call
// from any state, any number of times.
func (s *System) Stop() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.gen++
	s.setStateLocked(StateIdle, "")
	s.mu.Unlock()
	if stream != nil {
		stream.StopTracks()
	}
}

// Stream returns the held source, or nil when capture is not active.
func (s *System) Stream() *media.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return nil
	}
	return s.stream
}

// State returns the current tagged state and, for StateError, the reason.
func (s *System) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.reason
}

// sourceEnded runs when any held track ends outside our control. The
// generation counter keeps a stale observer from clobbering a newer capture.
func (s *System) sourceEnded(gen int) {
	s.mu.Lock()
	if s.gen != gen || s.stream == nil {
		s.mu.Unlock()
		return
	}
	log.Printf("capture: system audio track ended, releasing source")
	stream := s.stream
	s.stream = nil
	s.setStateLocked(StateIdle, "")
	s.mu.Unlock()
	stream.StopTracks()
}

func (s *System) setError(reason string) {
	s.mu.Lock()
	s.stream = nil
	s.setStateLocked(StateError, reason)
	s.mu.Unlock()
}

func (s *System) setStateLocked(state State, reason string) {
	s.state = state
	s.reason = reason
	if s.observer != nil {
		ev := Event{State: state, Reason: reason}
		go s.observer(ev)
	}
}
