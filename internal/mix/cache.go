package mix

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/abegunasekara/openai-realtime-agents/internal/media"
)

// AcquireFunc produces the primary (microphone) stream.
type AcquireFunc func(ctx context.Context) (*media.Stream, error)

// SecondaryFunc supplies the current optional secondary source, or nil.
type SecondaryFunc func() *media.Stream

// Cache memoizes the last successfully built mixed stream, validates its
// liveness on every request and transparently rebuilds it when any
// contributing track has ended. Concurrent callers during a rebuild coalesce
// into one in-flight build. The cache owns the mix graph and the acquired
// primary stream; Close releases both.
type Cache struct {
	acquire   AcquireFunc
	secondary SecondaryFunc

	group singleflight.Group

	mu      sync.Mutex
	primary *media.Stream
	stream  *media.Stream
	graph   *Graph
	sources []*media.Track
}

// NewCache builds a cache over the given acquisition function and secondary
// supplier. secondary may be nil.
func NewCache(acquire AcquireFunc, secondary SecondaryFunc) *Cache {
	if secondary == nil {
		secondary = func() *media.Stream { return nil }
	}
	return &Cache{acquire: acquire, secondary: secondary}
}

// GetOrBuild returns the cached mixed stream while the destination and every
// contributing source track are live, otherwise tears the stale graph down
// and builds a fresh one.
func (c *Cache) GetOrBuild(ctx context.Context) (*media.Stream, error) {
	c.mu.Lock()
	if c.validLocked() {
		stream := c.stream
		c.mu.Unlock()
		return stream, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("mixed", func() (interface{}, error) {
		return c.rebuild(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*media.Stream), nil
}

func (c *Cache) rebuild(ctx context.Context) (*media.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A coalesced caller may arrive after the build already landed.
	if c.validLocked() {
		return c.stream, nil
	}
	c.teardownLocked()

	if c.primary != nil && !c.primary.Valid() {
		c.primary.StopTracks()
		c.primary = nil
	}
	if c.primary == nil {
		primary, err := c.acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPrimaryUnavailable, err)
		}
		c.primary = primary
	}

	secondary := c.secondary()
	stream, graph, err := BuildMixedStream(c.primary, secondary)
	if err != nil {
		return nil, err
	}
	c.stream = stream
	c.graph = graph
	c.sources = append([]*media.Track(nil), c.primary.AudioTracks()...)
	if secondary != nil && secondary.Valid() {
		c.sources = append(c.sources, secondary.AudioTracks()...)
	}
	log.Printf("mix: built mixed stream %s", stream.ID())
	return stream, nil
}

// validLocked reports whether the cached stream can still be served: the
// destination must be live and so must every source track feeding a branch.
// The destination track outlives its sources (the graph keeps pumping
// silence), so checking the output alone would serve a dead mix forever.
func (c *Cache) validLocked() bool {
	if c.stream == nil || !c.stream.Valid() {
		return false
	}
	for _, t := range c.sources {
		if t.ReadyState() != media.Live {
			return false
		}
	}
	return true
}

// Invalidate discards the cached mixed stream so the next request rebuilds,
// e.g. after the secondary source set changes. The primary source is kept.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.teardownLocked()
	c.mu.Unlock()
}

// Close tears down the mixed stream, its graph and the acquired primary
// source. Must be called on full teardown to release device handles.
func (c *Cache) Close() {
	c.mu.Lock()
	c.teardownLocked()
	if c.primary != nil {
		c.primary.StopTracks()
		c.primary = nil
	}
	c.mu.Unlock()
}

func (c *Cache) teardownLocked() {
	if c.stream != nil {
		c.stream.StopTracks()
		c.stream = nil
	}
	if c.graph != nil {
		c.graph.Close()
		c.graph = nil
	}
	c.sources = nil
}
