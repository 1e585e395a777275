package transport

import (
	"context"
	"encoding/json"
)

// Status is the adapter's connection state machine. The transport can also
// emit StatusDisconnected unilaterally (network loss); the adapter forwards
// that signal without attempting reconnection.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	}
	return "disconnected"
}

// ServerEvent is one event received from the realtime agent.
type ServerEvent struct {
	Type string
	Raw  json.RawMessage
}

// RealtimeSession is the external realtime-agent session this package wraps.
// Implementations acquire their uplink audio through the ambient
// capture.Microphone entry point, which is what makes the adapter's stream
// substitution effective.
type RealtimeSession interface {
	Connect(ctx context.Context, credential string) error
	SendEvent(evt any) error
	// On registers a handler for the given server event type; "*" matches
	// every event.
	On(eventType string, handler func(ServerEvent))
	// OnDisconnect registers the unilateral-disconnect signal handler.
	OnDisconnect(fn func())
	Interrupt() error
	Mute(muted bool) error
	Close() error
}

// conversationItem is the wire shape of history-bearing server events.
type conversationItem struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Status  string `json:"status"`
	Content []struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		Transcript string `json:"transcript"`
	} `json:"content"`
}

// HistoryItem is one rendered transcript entry.
type HistoryItem struct {
	ID     string
	Role   string
	Status string
	Text   string
}

func (it conversationItem) text() string {
	for _, c := range it.Content {
		if c.Text != "" {
			return c.Text
		}
		if c.Transcript != "" {
			return c.Transcript
		}
	}
	return ""
}
