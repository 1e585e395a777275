package mix

import (
	"sync"
	"time"

	"github.com/abegunasekara/openai-realtime-agents/internal/media"
)

const (
	// frameSamples is one 20ms frame at 48kHz mono, the pump quantum.
	frameSamples = 960
	pumpInterval = 20 * time.Millisecond
)

// branch is one gain-controlled input into a graph.
type branch struct {
	reader *media.Reader
	gain   float64
	buf    []int16
}

// Graph combines gain-scaled input branches into one destination track. The
// destination stream identity is stable for the graph's lifetime; branches
// may be added while the graph runs. Closing the graph releases every branch
// tap and ends the destination track.
type Graph struct {
	out       *media.Track
	outStream *media.Stream

	mu       sync.Mutex
	branches []*branch
	stopCh   chan struct{}
	stopped  bool
}

// NewGraph creates a graph with a running pump and an empty branch set.
func NewGraph() *Graph {
	g := &Graph{
		out:    media.NewTrack(media.KindAudio, "mix"),
		stopCh: make(chan struct{}),
	}
	g.outStream = media.NewStream(g.out)
	go g.pump()
	return g
}

// AddBranch connects a track into the graph at the given gain.
func (g *Graph) AddBranch(t *media.Track, gain float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.branches = append(g.branches, &branch{reader: t.NewReader(), gain: gain})
}

// Output returns the destination stream.
func (g *Graph) Output() *media.Stream { return g.outStream }

// Close stops the pump, detaches all branch readers and ends the destination
// track. Idempotent; this is the graph's resource release and skipping it
// leaks the branch taps.
func (g *Graph) Close() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	close(g.stopCh)
	branches := g.branches
	g.branches = nil
	g.mu.Unlock()

	for _, b := range branches {
		b.reader.Close()
	}
	g.out.Stop()
}

// pump mixes one frame per tick: each branch contributes whatever PCM it has
// buffered, padded with silence, scaled by its gain and saturating-summed.
func (g *Graph) pump() {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()
	acc := make([]int32, frameSamples)
	frame := make([]int16, frameSamples)
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			if g.mixFrame(acc, frame) {
				out := make([]int16, frameSamples)
				copy(out, frame)
				g.out.WritePCM(out)
			}
		}
	}
}

// mixFrame fills frame from all branches and reports whether any branch
// contributed samples this tick.
func (g *Graph) mixFrame(acc []int32, frame []int16) bool {
	g.mu.Lock()
	branches := make([]*branch, len(g.branches))
	copy(branches, g.branches)
	g.mu.Unlock()

	for i := range acc {
		acc[i] = 0
	}
	contributed := false
	for _, b := range branches {
		for len(b.buf) < frameSamples {
			pcm, ok := b.reader.ReadPCM()
			if !ok {
				break
			}
			b.buf = append(b.buf, pcm...)
		}
		n := len(b.buf)
		if n > frameSamples {
			n = frameSamples
		}
		if n > 0 {
			contributed = true
		}
		for i := 0; i < n; i++ {
			acc[i] += int32(float64(b.buf[i]) * b.gain)
		}
		if n > 0 {
			copy(b.buf, b.buf[n:])
			b.buf = b.buf[:len(b.buf)-n]
		}
	}
	if !contributed {
		return false
	}
	for i, v := range acc {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		frame[i] = int16(v)
	}
	return true
}
