package media

import (
	"sync"

	"github.com/google/uuid"
)

// ReadyState reports whether a track is actively producing samples.
type ReadyState int

const (
	Live ReadyState = iota
	Ended
)

func (s ReadyState) String() string {
	if s == Live {
		return "live"
	}
	return "ended"
}

// Track kinds.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// Track is a live media source handle carrying 48kHz mono s16le PCM.
// Producers push samples with WritePCM; each consumer attaches its own
// Reader so that multiple graphs can tap the same track without stealing
// samples from each other.
type Track struct {
	id    string
	kind  string
	label string

	mu      sync.Mutex
	state   ReadyState
	onEnded []func()
	readers []*Reader
}

// NewTrack creates a live track of the given kind.
func NewTrack(kind, label string) *Track {
	return &Track{id: uuid.NewString(), kind: kind, label: label, state: Live}
}

func (t *Track) ID() string    { return t.id }
func (t *Track) Kind() string  { return t.kind }
func (t *Track) Label() string { return t.label }

// ReadyState returns the current liveness of the track.
func (t *Track) ReadyState() ReadyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnEnded registers a callback fired once when the track transitions to Ended.
// Callbacks run on their own goroutine so producers are never blocked.
func (t *Track) OnEnded(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	if t.state == Ended {
		t.mu.Unlock()
		go fn()
		return
	}
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

// WritePCM fans a copy of the PCM chunk out to every attached reader.
// Writes on an ended track are dropped.
func (t *Track) WritePCM(pcm []int16) {
	if len(pcm) == 0 {
		return
	}
	t.mu.Lock()
	if t.state == Ended {
		t.mu.Unlock()
		return
	}
	readers := make([]*Reader, len(t.readers))
	copy(readers, t.readers)
	t.mu.Unlock()
	for _, r := range readers {
		r.push(pcm)
	}
}

// NewReader attaches a consumer tap to the track. Readers attached to an
// already-ended track are created closed.
func (t *Track) NewReader() *Reader {
	r := &Reader{ch: make(chan []int16, readerDepth), track: t}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Ended {
		r.closed = true
		close(r.ch)
		return r
	}
	t.readers = append(t.readers, r)
	return r
}

// Stop transitions the track to Ended, detaches readers and fires OnEnded
// observers. Safe to call multiple times.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.state == Ended {
		t.mu.Unlock()
		return
	}
	t.state = Ended
	observers := t.onEnded
	readers := t.readers
	t.onEnded = nil
	t.readers = nil
	t.mu.Unlock()

	for _, r := range readers {
		r.close()
	}
	for _, fn := range observers {
		go fn()
	}
}

func (t *Track) detach(r *Reader) {
	t.mu.Lock()
	for i, cur := range t.readers {
		if cur == r {
			t.readers = append(t.readers[:i], t.readers[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
}

const readerDepth = 64

// Reader is a per-consumer tap on a track's PCM output.
type Reader struct {
	ch    chan []int16
	track *Track

	mu     sync.Mutex
	closed bool
}

func (r *Reader) push(pcm []int16) {
	buf := make([]int16, len(pcm))
	copy(buf, pcm)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- buf:
	default:
		// Consumer fell behind; drop the oldest chunk to stay realtime.
		select {
		case <-r.ch:
		default:
		}
		select {
		case r.ch <- buf:
		default:
		}
	}
}

// ReadPCM returns the next buffered chunk without blocking. ok is false when
// nothing is buffered; after the reader is closed and drained, ok stays false.
func (r *Reader) ReadPCM() (pcm []int16, ok bool) {
	select {
	case pcm, ok = <-r.ch:
		return pcm, ok
	default:
		return nil, false
	}
}

// Close detaches the reader from its track. Idempotent.
func (r *Reader) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	r.track.detach(r)
}

func (r *Reader) close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
}
