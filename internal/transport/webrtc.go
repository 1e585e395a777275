package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/abegunasekara/openai-realtime-agents/internal/capture"
	appmedia "github.com/abegunasekara/openai-realtime-agents/internal/media"
)

// DefaultRealtimeURL is the SDP exchange endpoint for the hosted realtime API.
const DefaultRealtimeURL = "https://api.openai.com/v1/realtime"

const eventsChannelLabel = "oai-events"

// WebRTCSession drives a realtime conversation over a WebRTC peer
// connection: uplink audio is acquired through capture.Microphone, encoded
// to opus and paced onto a local track; agent audio and JSON events arrive
// on the remote track and the events data channel.
type WebRTCSession struct {
	model      string
	baseURL    string
	httpClient *http.Client

	remoteTrack  *appmedia.Track
	remoteStream *appmedia.Stream

	muted int32

	mu           sync.Mutex
	pc           *webrtc.PeerConnection
	dc           *webrtc.DataChannel
	writer       *opusTrackWriter
	localReader  *appmedia.Reader
	handlers     map[string][]func(ServerEvent)
	onDisconnect func()
	closed       bool
}

// NewWebRTCSession builds a disconnected session for the given model.
func NewWebRTCSession(model string) *WebRTCSession {
	remote := appmedia.NewTrack(appmedia.KindAudio, "agent")
	return &WebRTCSession{
		model:        model,
		baseURL:      DefaultRealtimeURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		remoteTrack:  remote,
		remoteStream: appmedia.NewStream(remote),
		handlers:     map[string][]func(ServerEvent){},
	}
}

// RemoteStream returns the agent's audio output stream. Its identity is
// stable across the session's lifetime.
func (s *WebRTCSession) RemoteStream() *appmedia.Stream { return s.remoteStream }

// On registers a handler for a server event type ("*" for all).
func (s *WebRTCSession) On(eventType string, handler func(ServerEvent)) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	s.handlers[eventType] = append(s.handlers[eventType], handler)
	s.mu.Unlock()
}

// OnDisconnect registers the unilateral disconnect signal handler.
func (s *WebRTCSession) OnDisconnect(fn func()) {
	s.mu.Lock()
	s.onDisconnect = fn
	s.mu.Unlock()
}

// Connect acquires uplink audio, performs the SDP exchange authorized by the
// ephemeral credential and starts the media pumps.
func (s *WebRTCSession) Connect(ctx context.Context, credential string) error {
	if credential == "" {
		return errors.New("webrtc: missing ephemeral credential")
	}

	local, err := capture.Microphone(ctx, capture.Constraints{Audio: true})
	if err != nil {
		return fmt.Errorf("webrtc: acquire uplink audio: %w", err)
	}
	audio := local.AudioTracks()
	if len(audio) == 0 {
		return errors.New("webrtc: uplink stream has no audio tracks")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}

	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"user-audio", "console",
	)
	if err != nil {
		_ = pc.Close()
		return err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return err
	}

	writer, err := newOpusTrackWriter(outTrack)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("webrtc: opus encoder: %w", err)
	}

	dc, err := pc.CreateDataChannel(eventsChannelLabel, nil)
	if err != nil {
		writer.Close()
		_ = pc.Close()
		return err
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.dispatchRaw(msg.Data)
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("webrtc: remote audio track received: codec=%s", remote.Codec().MimeType)
		dec, derr := opus.NewDecoder(48000, 1)
		if derr != nil {
			log.Printf("webrtc: opus decoder error: %v", derr)
			return
		}
		go s.readRemote(remote, dec)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("webrtc: peer connection state: %s", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			s.signalDisconnect()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		writer.Close()
		_ = pc.Close()
		return err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		writer.Close()
		_ = pc.Close()
		return err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		writer.Close()
		_ = pc.Close()
		return ctx.Err()
	}
	localDesc := pc.LocalDescription()
	if localDesc == nil {
		writer.Close()
		_ = pc.Close()
		return errors.New("webrtc: no local description")
	}

	answerSDP, err := s.exchangeSDP(ctx, credential, localDesc.SDP)
	if err != nil {
		writer.Close()
		_ = pc.Close()
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}); err != nil {
		writer.Close()
		_ = pc.Close()
		return err
	}

	reader := audio[0].NewReader()
	s.mu.Lock()
	s.pc = pc
	s.dc = dc
	s.writer = writer
	s.localReader = reader
	s.closed = false
	s.mu.Unlock()

	go s.pumpUplink(reader, writer)
	return nil
}

// exchangeSDP posts the offer to the realtime endpoint and returns the
// answer SDP.
func (s *WebRTCSession) exchangeSDP(ctx context.Context, credential, offerSDP string) (string, error) {
	url := s.baseURL + "?model=" + s.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(offerSDP))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("webrtc: sdp exchange: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("webrtc: sdp exchange failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return string(body), nil
}

// pumpUplink moves PCM from the acquired stream into the opus writer; while
// muted, frames are read and discarded so the tap never backs up.
func (s *WebRTCSession) pumpUplink(reader *appmedia.Reader, writer *opusTrackWriter) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		for {
			pcm, ok := reader.ReadPCM()
			if !ok {
				break
			}
			if atomic.LoadInt32(&s.muted) == 0 {
				writer.WritePCM(pcm)
			}
		}
	}
}

func (s *WebRTCSession) readRemote(remote *webrtc.TrackRemote, dec *opus.Decoder) {
	pcm := make([]int16, 1920)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.Printf("webrtc: rtp read error: %v", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			log.Printf("webrtc: opus decode error: %v", err)
			continue
		}
		out := make([]int16, n)
		copy(out, pcm[:n])
		s.remoteTrack.WritePCM(out)
	}
}

// SendEvent marshals the event and sends it over the events data channel.
func (s *WebRTCSession) SendEvent(evt any) error {
	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()
	if dc == nil {
		return errors.New("webrtc: not connected")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return dc.SendText(string(payload))
}

// Interrupt cancels the in-flight agent response.
func (s *WebRTCSession) Interrupt() error {
	return s.SendEvent(map[string]string{"type": "response.cancel"})
}

// Mute suppresses the uplink without releasing the stream tap. Muting also
// drops frames already queued in the writer so no buffered audio trails out
// after the user expects silence.
func (s *WebRTCSession) Mute(muted bool) error {
	if muted {
		atomic.StoreInt32(&s.muted, 1)
		s.mu.Lock()
		writer := s.writer
		s.mu.Unlock()
		if writer != nil {
			writer.Reset()
		}
	} else {
		atomic.StoreInt32(&s.muted, 0)
	}
	return nil
}

// Close tears the session down. The acquired uplink stream is attached, not
// owned: its tracks are left to their owner, only our tap is released.
// Idempotent, never panics.
func (s *WebRTCSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pc := s.pc
	writer := s.writer
	reader := s.localReader
	s.pc = nil
	s.dc = nil
	s.writer = nil
	s.localReader = nil
	s.mu.Unlock()

	if writer != nil {
		writer.Close()
	}
	if reader != nil {
		reader.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}
	return nil
}

func (s *WebRTCSession) dispatchRaw(data []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		log.Printf("webrtc: bad server event: %v", err)
		return
	}
	ev := ServerEvent{Type: probe.Type, Raw: json.RawMessage(data)}
	s.mu.Lock()
	handlers := append([]func(ServerEvent){}, s.handlers[probe.Type]...)
	handlers = append(handlers, s.handlers["*"]...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (s *WebRTCSession) signalDisconnect() {
	s.mu.Lock()
	fn := s.onDisconnect
	alreadyClosed := s.closed
	s.mu.Unlock()
	if fn != nil && !alreadyClosed {
		fn()
	}
}
