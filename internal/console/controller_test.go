package console

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/abegunasekara/openai-realtime-agents/internal/capture"
	"github.com/abegunasekara/openai-realtime-agents/internal/media"
	"github.com/abegunasekara/openai-realtime-agents/internal/transport"
)

type fakeSession struct {
	credential   string
	acquired     *media.Stream
	remote       *media.Stream
	sent         []any
	closed       int
	onDisconnect func()
}

func newFakeSession() *fakeSession {
	return &fakeSession{remote: media.NewStream(media.NewTrack(media.KindAudio, "agent"))}
}

func (f *fakeSession) Connect(ctx context.Context, credential string) error {
	f.credential = credential
	stream, err := capture.Microphone(ctx, capture.Constraints{Audio: true})
	if err != nil {
		return err
	}
	f.acquired = stream
	return nil
}

func (f *fakeSession) SendEvent(evt any) error                 { f.sent = append(f.sent, evt); return nil }
func (f *fakeSession) On(string, func(transport.ServerEvent))  {}
func (f *fakeSession) OnDisconnect(fn func())                  { f.onDisconnect = fn }
func (f *fakeSession) Interrupt() error                        { return nil }
func (f *fakeSession) Mute(bool) error                         { return nil }
func (f *fakeSession) Close() error                            { f.closed++; return nil }
func (f *fakeSession) RemoteStream() *media.Stream             { return f.remote }

type fakeCredentials struct {
	key string
	err error
}

func (f *fakeCredentials) Fetch(ctx context.Context) (string, error) { return f.key, f.err }

func withFakeDevices(t *testing.T) {
	t.Helper()
	prevMic := capture.Microphone
	capture.Microphone = func(ctx context.Context, c capture.Constraints) (*media.Stream, error) {
		return media.NewStream(media.NewTrack(media.KindAudio, "device-mic")), nil
	}
	capture.RegisterDisplayBackend(func(ctx context.Context, c capture.Constraints) (*media.Stream, error) {
		return media.NewStream(media.NewTrack(media.KindAudio, "tab-audio")), nil
	})
	t.Cleanup(func() {
		capture.Microphone = prevMic
		capture.RegisterDisplayBackend(nil)
	})
}

func newTestController(t *testing.T, sess *fakeSession, creds *fakeCredentials) *Controller {
	t.Helper()
	c, err := New(Options{
		Session:     sess,
		Credentials: creds,
		Origin:      "https://agents.example.com",
		OutputDir:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestController_ConnectUsesMintedCredentialAndMixedStream(t *testing.T) {
	withFakeDevices(t)
	sess := newFakeSession()
	c := newTestController(t, sess, &fakeCredentials{key: "ek_live"})

	before := reflect.ValueOf(capture.Microphone).Pointer()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if sess.credential != "ek_live" {
		t.Fatalf("expected minted credential, got %q", sess.credential)
	}
	if sess.acquired == nil || !sess.acquired.Valid() {
		t.Fatalf("expected a live mixed stream handed to the transport")
	}
	if len(sess.acquired.AudioTracks()) != 1 {
		t.Fatalf("expected a single mixed audio track")
	}

	c.Disconnect()
	if reflect.ValueOf(capture.Microphone).Pointer() != before {
		t.Fatalf("expected acquisition entry point restored after disconnect")
	}
	if sess.closed == 0 {
		t.Fatalf("expected session closed")
	}
}

func TestController_ConnectFailsWithoutCredential(t *testing.T) {
	withFakeDevices(t)
	c := newTestController(t, newFakeSession(), &fakeCredentials{err: errors.New("mint failed")})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected credential error")
	}
	if c.Status() != transport.StatusDisconnected {
		t.Fatalf("expected disconnected, got %v", c.Status())
	}
}

func TestController_SystemAudioToggle(t *testing.T) {
	withFakeDevices(t)
	c := newTestController(t, newFakeSession(), &fakeCredentials{key: "ek"})

	if err := c.SetSystemAudio(context.Background(), true); err != nil {
		t.Fatalf("enable system audio: %v", err)
	}
	if err := c.SetSystemAudio(context.Background(), false); err != nil {
		t.Fatalf("disable system audio: %v", err)
	}
}

func TestController_SystemAudioRequiresSecureOrigin(t *testing.T) {
	withFakeDevices(t)
	sess := newFakeSession()
	c, err := New(Options{
		Session:     sess,
		Credentials: &fakeCredentials{key: "ek"},
		Origin:      "http://agents.example.com",
		OutputDir:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	defer c.Close()

	if err := c.SetSystemAudio(context.Background(), true); !errors.Is(err, capture.ErrUnsupportedEnvironment) {
		t.Fatalf("expected ErrUnsupportedEnvironment, got %v", err)
	}
}

func TestController_ReacquiresDeviceWhileSubstituted(t *testing.T) {
	var micStreams []*media.Stream
	prevMic := capture.Microphone
	capture.Microphone = func(ctx context.Context, c capture.Constraints) (*media.Stream, error) {
		s := media.NewStream(media.NewTrack(media.KindAudio, "device-mic"))
		micStreams = append(micStreams, s)
		return s, nil
	}
	t.Cleanup(func() { capture.Microphone = prevMic })

	sess := newFakeSession()
	c := newTestController(t, sess, &fakeCredentials{key: "ek"})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	stale := sess.acquired

	// The device dies while the session is connected and the acquisition
	// entry point is substituted. The rebuild must reach the real backend,
	// not be handed the stopped mix back through the substitute.
	micStreams[0].StopTracks()
	if err := c.SetSystemAudio(context.Background(), false); err != nil {
		t.Fatalf("rebuild while substituted: %v", err)
	}
	if len(micStreams) != 2 {
		t.Fatalf("expected the device re-acquired, got %d acquisitions", len(micStreams))
	}
	rebuilt, err := c.cache.GetOrBuild(context.Background())
	if err != nil {
		t.Fatalf("get rebuilt stream: %v", err)
	}
	if rebuilt == stale {
		t.Fatalf("expected a fresh mixed stream after the device died")
	}
}

func TestController_SendTextWhileConnected(t *testing.T) {
	withFakeDevices(t)
	sess := newFakeSession()
	c := newTestController(t, sess, &fakeCredentials{key: "ek"})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.SendText("hello"); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if len(sess.sent) != 2 {
		t.Fatalf("expected item + response events, got %d", len(sess.sent))
	}
}

func TestController_SaveRecordingWithoutSession(t *testing.T) {
	withFakeDevices(t)
	c := newTestController(t, newFakeSession(), &fakeCredentials{key: "ek"})
	if _, err := c.SaveRecording(context.Background()); err == nil {
		t.Fatalf("expected error exporting an empty recording")
	}
}

func TestController_CloseIdempotent(t *testing.T) {
	withFakeDevices(t)
	c := newTestController(t, newFakeSession(), &fakeCredentials{key: "ek"})
	c.Close()
	c.Close()
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect to fail after close")
	}
}
