package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	appmedia "github.com/abegunasekara/openai-realtime-agents/internal/media"
)

// History-bearing server event types the adapter folds into its transcript.
var historyEventTypes = []string{
	"conversation.item.created",
	"conversation.item.input_audio_transcription.completed",
	"response.output_item.done",
	"response.output_item.added",
}

// Adapter wraps a RealtimeSession with the connection state machine, the
// mixed-stream substitution and history event fan-out. Listeners see each
// (item, status) transition exactly once, and receive the full ordered
// history snapshot on every update.
type Adapter struct {
	session RealtimeSession

	mu        sync.Mutex
	custom    *appmedia.Stream
	status    Status
	onStatus  func(Status)
	onItem    func(HistoryItem)
	onHistory func([]HistoryItem)
	seen      map[string]struct{}
	order     []string
	items     map[string]HistoryItem
	wired     bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithCustomStream supplies the mixed stream the transport should use
// instead of prompting for a device.
func WithCustomStream(stream *appmedia.Stream) Option {
	return func(a *Adapter) { a.custom = stream }
}

// WithStatusHandler registers the connection state listener.
func WithStatusHandler(fn func(Status)) Option {
	return func(a *Adapter) { a.onStatus = fn }
}

// WithItemHandler registers the deduplicated per-transition listener.
func WithItemHandler(fn func(HistoryItem)) Option {
	return func(a *Adapter) { a.onItem = fn }
}

// WithHistoryHandler registers the full-snapshot listener, invoked on every
// history update.
func WithHistoryHandler(fn func([]HistoryItem)) Option {
	return func(a *Adapter) { a.onHistory = fn }
}

// NewAdapter wraps the given session.
func NewAdapter(session RealtimeSession, opts ...Option) *Adapter {
	a := &Adapter{
		session: session,
		status:  StatusDisconnected,
		seen:    map[string]struct{}{},
		items:   map[string]HistoryItem{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetCustomStream replaces the custom stream used on the next connect. If a
// substitution is currently installed it is updated in place.
func (a *Adapter) SetCustomStream(stream *appmedia.Stream) {
	a.mu.Lock()
	a.custom = stream
	a.mu.Unlock()
	subMu.Lock()
	if savedMicrophone != nil {
		activeStream = stream
	}
	subMu.Unlock()
}

// Status returns the current connection state.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Connect installs the substitution (when a custom stream is set), then runs
// the session's connect sequence. On failure the substitution is restored
// before the error is returned.
func (a *Adapter) Connect(ctx context.Context, credential string) error {
	if credential == "" {
		return errors.New("transport: missing credential")
	}
	a.mu.Lock()
	if a.status != StatusDisconnected {
		a.mu.Unlock()
		return errors.New("transport: already connecting or connected")
	}
	custom := a.custom
	if !a.wired {
		a.wired = true
		a.mu.Unlock()
		for _, t := range historyEventTypes {
			a.session.On(t, a.handleHistoryEvent)
		}
		a.session.OnDisconnect(a.handleTransportDisconnect)
	} else {
		a.mu.Unlock()
	}
	a.setStatus(StatusConnecting)

	// The override must be live strictly before the transport's own capture
	// call can run.
	if custom != nil {
		subMu.Lock()
		installSubstitution(custom)
		subMu.Unlock()
	}

	if err := a.session.Connect(ctx, credential); err != nil {
		subMu.Lock()
		restoreSubstitution()
		subMu.Unlock()
		a.setStatus(StatusDisconnected)
		return err
	}
	a.setStatus(StatusConnected)
	return nil
}

// Disconnect closes the session and unconditionally restores the original
// acquisition entry point. Safe to call from any state, any number of times.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	wasDisconnected := a.status == StatusDisconnected
	a.mu.Unlock()

	_ = a.session.Close()
	subMu.Lock()
	restoreSubstitution()
	subMu.Unlock()
	if !wasDisconnected {
		a.setStatus(StatusDisconnected)
	}
}

// SendEvent forwards an arbitrary client event.
func (a *Adapter) SendEvent(evt any) error { return a.session.SendEvent(evt) }

// SendText submits a user text message and asks for a response.
func (a *Adapter) SendText(text string) error {
	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]string{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := a.session.SendEvent(item); err != nil {
		return err
	}
	return a.session.SendEvent(map[string]string{"type": "response.create"})
}

// Interrupt cancels the in-flight agent response.
func (a *Adapter) Interrupt() error { return a.session.Interrupt() }

// Mute toggles the uplink.
func (a *Adapter) Mute(muted bool) error { return a.session.Mute(muted) }

// History returns the ordered transcript snapshot.
func (a *Adapter) History() []HistoryItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// handleTransportDisconnect forwards a transport-emitted disconnect without
// reconnecting; reconnection policy belongs to the orchestration layer.
func (a *Adapter) handleTransportDisconnect() {
	log.Printf("transport: session disconnected by transport")
	subMu.Lock()
	restoreSubstitution()
	subMu.Unlock()
	a.setStatus(StatusDisconnected)
}

// handleHistoryEvent folds a history-bearing server event into the
// transcript. The (id, status) composite key suppresses duplicate
// transition notifications while the snapshot still goes out every time.
func (a *Adapter) handleHistoryEvent(ev ServerEvent) {
	var payload struct {
		Item conversationItem `json:"item"`
	}
	if err := json.Unmarshal(ev.Raw, &payload); err != nil || payload.Item.ID == "" {
		return
	}
	it := payload.Item

	a.mu.Lock()
	key := it.ID + "|" + it.Status
	_, dup := a.seen[key]
	a.seen[key] = struct{}{}

	entry, known := a.items[it.ID]
	if !known {
		a.order = append(a.order, it.ID)
		entry = HistoryItem{ID: it.ID, Role: it.Role}
	}
	if it.Role != "" {
		entry.Role = it.Role
	}
	if it.Status != "" {
		entry.Status = it.Status
	}
	if text := it.text(); text != "" {
		entry.Text = text
	}
	a.items[it.ID] = entry
	snapshot := a.snapshotLocked()
	onItem, onHistory := a.onItem, a.onHistory
	a.mu.Unlock()

	if !dup && onItem != nil {
		onItem(entry)
	}
	if onHistory != nil {
		onHistory(snapshot)
	}
}

func (a *Adapter) snapshotLocked() []HistoryItem {
	out := make([]HistoryItem, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.items[id])
	}
	return out
}

func (a *Adapter) setStatus(s Status) {
	a.mu.Lock()
	if a.status == s {
		a.mu.Unlock()
		return
	}
	a.status = s
	fn := a.onStatus
	a.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
