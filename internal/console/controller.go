package console

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/abegunasekara/openai-realtime-agents/internal/capture"
	"github.com/abegunasekara/openai-realtime-agents/internal/media"
	"github.com/abegunasekara/openai-realtime-agents/internal/mix"
	"github.com/abegunasekara/openai-realtime-agents/internal/record"
	"github.com/abegunasekara/openai-realtime-agents/internal/transport"
)

// RealtimeSession is the transport the console drives, plus access to the
// agent's downlink audio for recording.
type RealtimeSession interface {
	transport.RealtimeSession
	RemoteStream() *media.Stream
}

// CredentialSource mints ephemeral realtime credentials.
type CredentialSource interface {
	Fetch(ctx context.Context) (string, error)
}

// Controller wires the full voice console together: credential minting, the
// system-audio capturer, the mixed-stream cache, the transport adapter and
// the session recorder. It is the single owner of teardown order.
type Controller struct {
	session   RealtimeSession
	creds     CredentialSource
	system    *capture.System
	cache     *mix.Cache
	adapter   *transport.Adapter
	recorder  *record.Recorder
	outputDir string

	mu        sync.Mutex
	connected bool
	closed    bool
}

// Options configures a Controller.
type Options struct {
	Session     RealtimeSession
	Credentials CredentialSource
	Origin      string
	OutputDir   string
	OnStatus    func(transport.Status)
	OnItem      func(transport.HistoryItem)
	OnHistory   func([]transport.HistoryItem)
	OnCapture   func(capture.Event)
}

// New assembles a controller. The mixed-stream cache acquires its primary
// source from the device backend and folds in the system capturer's stream
// whenever one is held.
func New(opts Options) (*Controller, error) {
	if opts.Session == nil {
		return nil, errors.New("console: session is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("console: credential source is required")
	}

	system := capture.NewSystem(opts.Origin, opts.OnCapture)
	// The cache's output is what the transport substitution serves, so the
	// cache itself must acquire from the real backend, pinned here: going
	// through the swappable capture.Microphone would hand a mid-session
	// rebuild its own stopped mix back as the "microphone".
	microphone := capture.Microphone
	cache := mix.NewCache(
		func(ctx context.Context) (*media.Stream, error) {
			return microphone(ctx, capture.Constraints{
				Audio:            true,
				EchoCancellation: capture.BoolPtr(true),
			})
		},
		system.Stream,
	)

	c := &Controller{
		session:   opts.Session,
		creds:     opts.Credentials,
		system:    system,
		cache:     cache,
		recorder:  record.NewRecorder(cache),
		outputDir: opts.OutputDir,
	}
	c.adapter = transport.NewAdapter(opts.Session,
		transport.WithStatusHandler(opts.OnStatus),
		transport.WithItemHandler(opts.OnItem),
		transport.WithHistoryHandler(opts.OnHistory),
	)
	return c, nil
}

// Connect mints a credential, builds the mixed stream and connects the
// transport with it substituted in.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("console: controller closed")
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	key, err := c.creds.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("console: credential: %w", err)
	}
	mixed, err := c.cache.GetOrBuild(ctx)
	if err != nil {
		return fmt.Errorf("console: mixed stream: %w", err)
	}
	c.adapter.SetCustomStream(mixed)
	if err := c.adapter.Connect(ctx, key); err != nil {
		return err
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect stops any recording and closes the transport. The mixed stream
// and its sources stay alive for a later reconnect.
func (c *Controller) Disconnect() {
	c.recorder.Stop()
	c.adapter.Disconnect()
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// Status returns the transport connection state.
func (c *Controller) Status() transport.Status { return c.adapter.Status() }

// SetSystemAudio starts or stops the secondary share. The mixed stream is
// invalidated either way so the next build reflects the new source set. A
// connected session keeps its uplink tap on the old destination track; the
// rebuilt stream is picked up on the next connect.
func (c *Controller) SetSystemAudio(ctx context.Context, enabled bool) error {
	if enabled {
		if _, err := c.system.Start(ctx); err != nil {
			return err
		}
	} else {
		c.system.Stop()
	}
	c.cache.Invalidate()

	mixed, err := c.cache.GetOrBuild(ctx)
	if err != nil {
		return err
	}
	c.adapter.SetCustomStream(mixed)
	return nil
}

// StartRecording begins capturing the conversation. Best-effort: failures are
// logged by the recorder and never interrupt the session.
func (c *Controller) StartRecording(ctx context.Context) {
	c.recorder.Start(ctx, c.session.RemoteStream())
}

// StopRecording ends the session; accumulated chunks stay exportable.
func (c *Controller) StopRecording() { c.recorder.Stop() }

// SaveRecording exports the captured audio as WAV and writes it under the
// configured output directory. Returns the written path.
func (c *Controller) SaveRecording(ctx context.Context) (string, error) {
	artifact, err := c.recorder.Export(ctx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(c.outputDir, artifact.Name)
	if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
		return "", fmt.Errorf("console: write recording: %w", err)
	}
	log.Printf("console: recording saved to %s (%d bytes)", path, len(artifact.Data))
	return path, nil
}

// SendText submits a typed user message.
func (c *Controller) SendText(text string) error { return c.adapter.SendText(text) }

// Interrupt cancels the in-flight agent response.
func (c *Controller) Interrupt() error { return c.adapter.Interrupt() }

// Mute toggles the uplink.
func (c *Controller) Mute(muted bool) error { return c.adapter.Mute(muted) }

// History returns the ordered transcript snapshot.
func (c *Controller) History() []transport.HistoryItem { return c.adapter.History() }

// Close tears everything down: recorder, transport, system share, then the
// cache so device handles are released last.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.recorder.Stop()
	c.adapter.Disconnect()
	c.system.Stop()
	c.cache.Close()
}
