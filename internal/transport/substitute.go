package transport

import (
	"context"
	"sync"

	"github.com/abegunasekara/openai-realtime-agents/internal/capture"
	appmedia "github.com/abegunasekara/openai-realtime-agents/internal/media"
)

// Stream substitution: while a custom mixed stream is connected, the ambient
// capture.Microphone entry point is swapped for a provider that hands the
// transport that stream instead of prompting for a device. The swap happens
// at this one call site only, strictly before the connect sequence begins,
// and is restored unconditionally after disconnect — even when connect never
// completed — so no session can leak the override. At most one substitution
// is ever installed: re-installing replaces the stream reference, it never
// wraps the wrapper.
var (
	subMu           sync.Mutex
	savedMicrophone capture.AcquireFunc
	activeStream    *appmedia.Stream
)

// installSubstitution must be called with subMu held.
func installSubstitution(stream *appmedia.Stream) {
	if savedMicrophone == nil {
		savedMicrophone = capture.Microphone
		capture.Microphone = substituteAcquire
	}
	activeStream = stream
}

func restoreSubstitution() {
	if savedMicrophone != nil {
		capture.Microphone = savedMicrophone
		savedMicrophone = nil
	}
	activeStream = nil
}

// substituteAcquire serves the custom stream for audio requests and
// delegates anything else to the saved original entry point.
func substituteAcquire(ctx context.Context, c capture.Constraints) (*appmedia.Stream, error) {
	subMu.Lock()
	stream := activeStream
	original := savedMicrophone
	subMu.Unlock()
	if c.Audio && stream != nil {
		return stream, nil
	}
	return original(ctx, c)
}
