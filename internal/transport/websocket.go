package transport

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abegunasekara/openai-realtime-agents/internal/capture"
	appmedia "github.com/abegunasekara/openai-realtime-agents/internal/media"
)

// DefaultRealtimeWSURL is the websocket endpoint of the hosted realtime API.
const DefaultRealtimeWSURL = "wss://api.openai.com/v1/realtime"

// WebSocketSession is the websocket rendition of RealtimeSession for hosts
// where a peer connection is unavailable: uplink PCM is base64-framed into
// append events, agent audio arrives as audio delta events.
type WebSocketSession struct {
	model   string
	baseURL string

	remoteTrack  *appmedia.Track
	remoteStream *appmedia.Stream

	muted int32

	mu           sync.Mutex
	conn         *websocket.Conn
	sendCh       chan []byte
	stopCh       chan struct{}
	localReader  *appmedia.Reader
	handlers     map[string][]func(ServerEvent)
	onDisconnect func()
	connected    bool
}

// NewWebSocketSession builds a disconnected websocket session.
func NewWebSocketSession(model string) *WebSocketSession {
	remote := appmedia.NewTrack(appmedia.KindAudio, "agent")
	return &WebSocketSession{
		model:        model,
		baseURL:      DefaultRealtimeWSURL,
		remoteTrack:  remote,
		remoteStream: appmedia.NewStream(remote),
		handlers:     map[string][]func(ServerEvent){},
	}
}

// RemoteStream returns the agent's audio output stream.
func (s *WebSocketSession) RemoteStream() *appmedia.Stream { return s.remoteStream }

// On registers a handler for a server event type ("*" for all).
func (s *WebSocketSession) On(eventType string, handler func(ServerEvent)) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	s.handlers[eventType] = append(s.handlers[eventType], handler)
	s.mu.Unlock()
}

// OnDisconnect registers the unilateral disconnect signal handler.
func (s *WebSocketSession) OnDisconnect(fn func()) {
	s.mu.Lock()
	s.onDisconnect = fn
	s.mu.Unlock()
}

// Connect acquires uplink audio and dials the realtime endpoint.
func (s *WebSocketSession) Connect(ctx context.Context, credential string) error {
	if credential == "" {
		return errors.New("websocket: missing ephemeral credential")
	}
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	local, err := capture.Microphone(ctx, capture.Constraints{Audio: true})
	if err != nil {
		return fmt.Errorf("websocket: acquire uplink audio: %w", err)
	}
	audio := local.AudioTracks()
	if len(audio) == 0 {
		return errors.New("websocket: uplink stream has no audio tracks")
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+credential)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, s.baseURL+"?model="+s.model, headers)
	if err != nil {
		if resp != nil {
			log.Printf("websocket: dial failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("websocket: dial: %w", err)
	}

	reader := audio[0].NewReader()
	s.mu.Lock()
	s.conn = conn
	s.sendCh = make(chan []byte, 256)
	s.stopCh = make(chan struct{})
	s.localReader = reader
	s.connected = true
	stopCh, sendCh := s.stopCh, s.sendCh
	s.mu.Unlock()

	go s.readLoop(conn, stopCh)
	go s.writeLoop(conn, stopCh, sendCh)
	go s.pumpUplink(reader, stopCh)
	return nil
}

func (s *WebSocketSession) readLoop(conn *websocket.Conn, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stopCh:
			default:
				log.Printf("websocket: read error: %v", err)
				s.signalDisconnect()
			}
			return
		}
		s.processMessage(message)
	}
}

func (s *WebSocketSession) writeLoop(conn *websocket.Conn, stopCh chan struct{}, sendCh chan []byte) {
	for {
		select {
		case <-stopCh:
			return
		case payload := <-sendCh:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("websocket: write error: %v", err)
				return
			}
		}
	}
}

// pumpUplink frames PCM into input_audio_buffer.append events.
func (s *WebSocketSession) pumpUplink(reader *appmedia.Reader, stopCh chan struct{}) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			for {
				pcm, ok := reader.ReadPCM()
				if !ok {
					break
				}
				if atomic.LoadInt32(&s.muted) == 1 {
					continue
				}
				raw := make([]byte, len(pcm)*2)
				for i, sample := range pcm {
					binary.LittleEndian.PutUint16(raw[i*2:], uint16(sample))
				}
				evt := map[string]string{
					"type":  "input_audio_buffer.append",
					"audio": base64.StdEncoding.EncodeToString(raw),
				}
				if err := s.SendEvent(evt); err != nil {
					return
				}
			}
		}
	}
}

func (s *WebSocketSession) processMessage(message []byte) {
	var probe struct {
		Type  string `json:"type"`
		Delta string `json:"delta"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		log.Printf("websocket: bad server event: %v", err)
		return
	}
	if probe.Type == "response.audio.delta" && probe.Delta != "" {
		raw, err := base64.StdEncoding.DecodeString(probe.Delta)
		if err == nil && len(raw) >= 2 {
			pcm := make([]int16, len(raw)/2)
			for i := range pcm {
				pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
			}
			s.remoteTrack.WritePCM(pcm)
		}
	}
	ev := ServerEvent{Type: probe.Type, Raw: json.RawMessage(message)}
	s.mu.Lock()
	handlers := append([]func(ServerEvent){}, s.handlers[probe.Type]...)
	handlers = append(handlers, s.handlers["*"]...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// SendEvent queues an event for delivery; full queues drop rather than
// block the caller.
func (s *WebSocketSession) SendEvent(evt any) error {
	s.mu.Lock()
	sendCh := s.sendCh
	connected := s.connected
	s.mu.Unlock()
	if !connected || sendCh == nil {
		return errors.New("websocket: not connected")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	select {
	case sendCh <- payload:
		return nil
	default:
		log.Printf("websocket: send queue full, dropping %T", evt)
		return nil
	}
}

// Interrupt cancels the in-flight agent response.
func (s *WebSocketSession) Interrupt() error {
	return s.SendEvent(map[string]string{"type": "response.cancel"})
}

// Mute suppresses the uplink without releasing the stream tap.
func (s *WebSocketSession) Mute(muted bool) error {
	if muted {
		atomic.StoreInt32(&s.muted, 1)
	} else {
		atomic.StoreInt32(&s.muted, 0)
	}
	return nil
}

// Close tears the session down; the uplink stream's tracks are left to
// their owner. Idempotent, never panics.
func (s *WebSocketSession) Close() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	conn := s.conn
	stopCh := s.stopCh
	reader := s.localReader
	s.conn = nil
	s.sendCh = nil
	s.stopCh = nil
	s.localReader = nil
	s.mu.Unlock()

	close(stopCh)
	if reader != nil {
		reader.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

func (s *WebSocketSession) signalDisconnect() {
	s.mu.Lock()
	fn := s.onDisconnect
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
