package record

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hraban/opus"

	"github.com/abegunasekara/openai-realtime-agents/internal/media"
	"github.com/abegunasekara/openai-realtime-agents/internal/mix"
)

var (
	// ErrNothingRecorded means export was requested with an empty chunk
	// buffer. Non-fatal; surfaced as a user-visible warning only.
	ErrNothingRecorded = errors.New("nothing recorded")
	// ErrConversionFailed wraps a format-conversion error during export.
	ErrConversionFailed = errors.New("recording conversion failed")
)

const (
	frameSamples = 960 // 20ms at 48kHz mono
	// flushInterval is how often buffered encoded audio is committed as a
	// chunk, mirroring a recorder timeslice.
	flushInterval = time.Second
	// flushGrace bounds the wait for a final flush to land during export.
	// The ack channel is drained first; the timer is only the fallback, and
	// a flush slower than this can still drop the tail of a recording.
	flushGrace = 100 * time.Millisecond
)

// MixedStreamProvider hands out the current valid mixed input stream.
type MixedStreamProvider interface {
	GetOrBuild(ctx context.Context) (*media.Stream, error)
}

// encodeFunc encodes one PCM frame into buf, returning the packet length.
type encodeFunc func(pcm []int16, buf []byte) (int, error)

// Recorder captures the conversation: it re-mixes the remote agent stream
// and the mixed user stream into a recording-only graph and accumulates
// encoded chunks for later export. Recording is best-effort and never blocks
// or fails the live conversation.
type Recorder struct {
	provider MixedStreamProvider
	// newEncoder is swappable so tests can run without a codec backend.
	newEncoder func() (encodeFunc, error)
	convert    *Converter

	mu        sync.Mutex
	recording bool
	graph     *mix.Graph
	stopCh    chan struct{}
	flushReq  chan chan struct{}
	chunks    [][]byte
}

// NewRecorder builds an idle recorder over the given mixed-stream provider.
func NewRecorder(provider MixedStreamProvider) *Recorder {
	return &Recorder{
		provider:   provider,
		newEncoder: newOpusEncodeFunc,
		convert:    NewConverter(),
	}
}

func newOpusEncodeFunc() (encodeFunc, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppAudio)
	if err != nil {
		return nil, err
	}
	return enc.Encode, nil
}

// Recording reports whether a session is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start begins a new recording session over the remote agent stream plus the
// current mixed input stream. Failures are logged, never returned: a missing
// mixed stream or encoder must not take the conversation down. A new session
// fully replaces any prior one.
func (r *Recorder) Start(ctx context.Context, remote *media.Stream) {
	r.Stop()

	mixed, err := r.provider.GetOrBuild(ctx)
	if err != nil {
		log.Printf("record: mixed stream unavailable, skipping recording: %v", err)
		return
	}
	encode, err := r.newEncoder()
	if err != nil {
		log.Printf("record: encoder unavailable, skipping recording: %v", err)
		return
	}

	graph := mix.NewGraph()
	if remote != nil {
		for _, t := range remote.AudioTracks() {
			graph.AddBranch(t, 1.0)
		}
	}
	for _, t := range mixed.AudioTracks() {
		graph.AddBranch(t, 1.0)
	}
	reader := graph.Output().AudioTracks()[0].NewReader()

	r.mu.Lock()
	r.recording = true
	r.graph = graph
	r.stopCh = make(chan struct{})
	r.flushReq = make(chan chan struct{}, 4)
	r.chunks = nil
	stopCh, flushReq := r.stopCh, r.flushReq
	r.mu.Unlock()

	go r.encodeLoop(reader, encode, stopCh, flushReq)
	log.Printf("record: session started")
}

// Stop requests a final flush, halts the encoder and releases the recording
// graph. The chunk buffer survives for export. Idempotent from any state.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	r.recording = false
	stopCh := r.stopCh
	flushReq := r.flushReq
	graph := r.graph
	r.stopCh = nil
	r.flushReq = nil
	r.graph = nil
	r.mu.Unlock()

	ack := make(chan struct{}, 1)
	select {
	case flushReq <- ack:
		select {
		case <-ack:
		case <-time.After(flushGrace):
		}
	default:
	}
	close(stopCh)
	if graph != nil {
		graph.Close()
	}
	log.Printf("record: session stopped")
}

// Artifact is an exported recording ready for download.
type Artifact struct {
	Name string
	Data []byte
}

// Export finalizes the accumulated chunks into a WAV artifact. If still
// recording, it requests one more flush and waits a bounded grace period for
// that chunk to land before concatenating. Converter failures are reported,
// never thrown past the caller.
func (r *Recorder) Export(ctx context.Context) (*Artifact, error) {
	r.mu.Lock()
	flushReq := r.flushReq
	recording := r.recording
	r.mu.Unlock()

	if recording && flushReq != nil {
		ack := make(chan struct{}, 1)
		select {
		case flushReq <- ack:
			select {
			case <-ack:
			case <-time.After(flushGrace):
			case <-ctx.Done():
			}
		default:
		}
	}

	r.mu.Lock()
	total := 0
	for _, c := range r.chunks {
		total += len(c)
	}
	blob := make([]byte, 0, total)
	for _, c := range r.chunks {
		blob = append(blob, c...)
	}
	r.mu.Unlock()

	if len(blob) == 0 {
		return nil, ErrNothingRecorded
	}
	wavData, err := r.convert.ToWAV(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	return &Artifact{Name: artifactName(time.Now()), Data: wavData}, nil
}

// encodeLoop drains the recording graph output, packs encoded packets with a
// length prefix and commits them as chunks on each flush.
func (r *Recorder) encodeLoop(reader *media.Reader, encode encodeFunc, stopCh chan struct{}, flushReq chan chan struct{}) {
	defer reader.Close()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var pcmBuf []int16
	var chunk []byte
	packet := make([]byte, 4000)

	drain := func() {
		for {
			pcm, ok := reader.ReadPCM()
			if !ok {
				return
			}
			pcmBuf = append(pcmBuf, pcm...)
			for len(pcmBuf) >= frameSamples {
				n, err := encode(pcmBuf[:frameSamples], packet)
				if err != nil {
					log.Printf("record: encode error: %v", err)
				} else if n > 0 {
					var hdr [2]byte
					binary.BigEndian.PutUint16(hdr[:], uint16(n))
					chunk = append(chunk, hdr[:]...)
					chunk = append(chunk, packet[:n]...)
				}
				copy(pcmBuf, pcmBuf[frameSamples:])
				pcmBuf = pcmBuf[:len(pcmBuf)-frameSamples]
			}
		}
	}
	commit := func() {
		if len(chunk) == 0 {
			return
		}
		out := make([]byte, len(chunk))
		copy(out, chunk)
		chunk = chunk[:0]
		r.mu.Lock()
		r.chunks = append(r.chunks, out)
		r.mu.Unlock()
	}

	for {
		select {
		case <-stopCh:
			drain()
			commit()
			return
		case ack := <-flushReq:
			drain()
			commit()
			select {
			case ack <- struct{}{}:
			default:
			}
		case <-ticker.C:
			drain()
			commit()
		}
	}
}

var filenameSanitizer = strings.NewReplacer(":", "-", ".", "-")

// artifactName derives the download filename from the timestamp; colons and
// periods are illegal in portable filenames.
func artifactName(now time.Time) string {
	stamp := now.UTC().Format("2006-01-02T15:04:05.000Z")
	return "realtime_agents_audio_" + filenameSanitizer.Replace(stamp) + ".wav"
}
