package transport

import (
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

// sampleWriter is the subset of a local WebRTC track the writer needs.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// opusTrackWriter encodes 48kHz mono PCM into opus frames and delivers them
// to the uplink track paced at 20ms so the remote jitter buffer stays happy.
type opusTrackWriter struct {
	enc          *opus.Encoder
	track        sampleWriter
	pcmBuf       []int16
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}
	stopped      bool
	mu           sync.Mutex
}

func newOpusTrackWriter(track sampleWriter) (*opusTrackWriter, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := &opusTrackWriter{
		enc:          enc,
		track:        track,
		frameSamples: 960, // 20ms at 48kHz
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
	}
	go w.pacer()
	return w, nil
}

// WritePCM buffers PCM samples and emits encoded frames to the pacer queue.
func (w *opusTrackWriter) WritePCM(pcm []int16) {
	if len(pcm) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.pcmBuf = append(w.pcmBuf, pcm...)

	opusBuf := make([]byte, 4000)
	for len(w.pcmBuf) >= w.frameSamples {
		n, _ := w.enc.Encode(w.pcmBuf[:w.frameSamples], opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			w.pushFrame(pkt)
		}
		copy(w.pcmBuf, w.pcmBuf[w.frameSamples:])
		w.pcmBuf = w.pcmBuf[:len(w.pcmBuf)-w.frameSamples]
	}
}

// Reset drops queued frames and buffered PCM, for interrupt handling.
func (w *opusTrackWriter) Reset() {
	w.mu.Lock()
	for {
		select {
		case <-w.frames:
		default:
			w.pcmBuf = w.pcmBuf[:0]
			w.mu.Unlock()
			return
		}
	}
}

// Close stops the pacer. Idempotent.
func (w *opusTrackWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *opusTrackWriter) pacer() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: 20 * time.Millisecond})
			default:
			}
		}
	}
}

// pushFrame enqueues a frame without blocking; if the pacer has fallen a
// full queue behind, the oldest frame is sacrificed to stay realtime.
func (w *opusTrackWriter) pushFrame(pkt []byte) {
	select {
	case w.frames <- pkt:
	default:
		select {
		case <-w.frames:
		default:
		}
		select {
		case w.frames <- pkt:
		default:
		}
	}
}
