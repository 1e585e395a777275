package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/abegunasekara/openai-realtime-agents/internal/media"
)

// Capture failure taxonomy. Capture errors never escape the capturer as
// panics; callers receive them as wrapped sentinels with a display reason.
var (
	ErrUnsupportedEnvironment = errors.New("environment does not support system audio capture")
	ErrCaptureFailed          = errors.New("system audio capture failed")
	ErrNoAudioTracks          = errors.New("capture returned no audio tracks")
)

// Constraints describes an acquisition request. Processing flags are
// tri-state: nil leaves the backend default in place.
type Constraints struct {
	Audio bool
	Video bool

	EchoCancellation *bool
	NoiseSuppression *bool
	AutoGainControl  *bool
}

// AcquireFunc is the shape of a device acquisition entry point.
type AcquireFunc func(ctx context.Context, c Constraints) (*media.Stream, error)

// Microphone is the ambient device-audio acquisition entry point. The
// transport adapter swaps it for a substitute while a custom mixed stream is
// connected; everything else in the repo acquires microphone audio through
// this variable, never through a backend directly.
var Microphone AcquireFunc = portaudioMicrophone

// displayBackend is the display/system-audio acquisition entry point. There
// is no portable default; hosts register a platform backend at startup.
var (
	displayMu      sync.RWMutex
	displayBackend AcquireFunc
)

// RegisterDisplayBackend installs the display-audio acquisition backend.
// Passing nil unregisters it.
func RegisterDisplayBackend(fn AcquireFunc) {
	displayMu.Lock()
	displayBackend = fn
	displayMu.Unlock()
}

func displayAudio() AcquireFunc {
	displayMu.RLock()
	defer displayMu.RUnlock()
	return displayBackend
}

// BoolPtr is a convenience for filling tri-state constraint flags.
func BoolPtr(b bool) *bool { return &b }
