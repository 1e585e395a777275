package mix

import (
	"errors"
	"log"

	"github.com/abegunasekara/openai-realtime-agents/internal/media"
)

// ErrPrimaryUnavailable means the required primary source is missing or no
// longer live. This is the mixer's only fatal path; secondary problems
// degrade to primary-only output instead.
var ErrPrimaryUnavailable = errors.New("primary audio source unavailable")

const (
	primaryGain = 1.0
	// Secondary audio sits below the voice channel so it never masks it.
	secondaryGain = 0.7
)

// BuildMixedStream builds a graph mixing the primary source with an optional
// secondary one and returns the destination stream along with the graph that
// owns it. The caller owns the graph and must Close it when the stream is
// discarded.
func BuildMixedStream(primary, secondary *media.Stream) (*media.Stream, *Graph, error) {
	if primary == nil || !primary.Valid() {
		return nil, nil, ErrPrimaryUnavailable
	}
	g := NewGraph()
	for _, t := range primary.AudioTracks() {
		g.AddBranch(t, primaryGain)
	}
	if secondary != nil {
		if secondary.Valid() {
			for _, t := range secondary.AudioTracks() {
				g.AddBranch(t, secondaryGain)
			}
		} else {
			log.Printf("mix: secondary source invalid, building primary-only stream")
		}
	}
	return g.Output(), g, nil
}
