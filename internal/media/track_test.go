package media

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTrack_StopFiresOnEndedOnce(t *testing.T) {
	tr := NewTrack(KindAudio, "mic")
	var fired int32
	tr.OnEnded(func() { atomic.AddInt32(&fired, 1) })

	tr.Stop()
	tr.Stop() // idempotent

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) && atomic.LoadInt32(&fired) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("expected onEnded to fire exactly once, got %d", got)
	}
	if tr.ReadyState() != Ended {
		t.Fatalf("expected ended state after stop")
	}
}

func TestTrack_OnEndedAfterStopStillFires(t *testing.T) {
	tr := NewTrack(KindAudio, "mic")
	tr.Stop()
	done := make(chan struct{})
	tr.OnEnded(func() { close(done) })
	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("expected late observer to fire on already-ended track")
	}
}

func TestTrack_ReaderFanout(t *testing.T) {
	tr := NewTrack(KindAudio, "mic")
	r1 := tr.NewReader()
	r2 := tr.NewReader()

	tr.WritePCM([]int16{1, 2, 3})

	got1, ok1 := r1.ReadPCM()
	got2, ok2 := r2.ReadPCM()
	if !ok1 || !ok2 {
		t.Fatalf("expected both readers to receive the chunk")
	}
	if len(got1) != 3 || len(got2) != 3 || got1[0] != 1 || got2[2] != 3 {
		t.Fatalf("unexpected chunks: %v %v", got1, got2)
	}

	// Chunks are copies, not shared backing arrays.
	got1[0] = 99
	if got2[0] == 99 {
		t.Fatalf("readers must not share buffers")
	}
}

func TestTrack_WriteAfterStopDropped(t *testing.T) {
	tr := NewTrack(KindAudio, "mic")
	r := tr.NewReader()
	tr.Stop()
	tr.WritePCM([]int16{1})
	if pcm, ok := r.ReadPCM(); ok {
		t.Fatalf("expected no data after stop, got %v", pcm)
	}
}

func TestReader_CloseDetaches(t *testing.T) {
	tr := NewTrack(KindAudio, "mic")
	r := tr.NewReader()
	r.Close()
	r.Close() // idempotent
	tr.WritePCM([]int16{1, 2})
	if _, ok := r.ReadPCM(); ok {
		t.Fatalf("expected closed reader to receive nothing")
	}
}

func TestStream_ValidRequiresLiveAudio(t *testing.T) {
	audio := NewTrack(KindAudio, "mic")
	s := NewStream(audio)
	if !s.Valid() {
		t.Fatalf("expected stream with one live audio track to be valid")
	}

	video := NewTrack(KindVideo, "cam")
	s.AddTrack(video)
	if !s.Valid() {
		t.Fatalf("expected stream to remain valid with live video track")
	}

	video.Stop()
	if s.Valid() {
		t.Fatalf("expected stream invalid once any track ended")
	}

	s.RemoveTrack(video)
	if !s.Valid() {
		t.Fatalf("expected stream valid again after removing ended track")
	}

	audio.Stop()
	if s.Valid() {
		t.Fatalf("expected stream invalid with no live audio")
	}
}

func TestStream_VideoOnlyIsInvalid(t *testing.T) {
	s := NewStream(NewTrack(KindVideo, "cam"))
	if s.Valid() {
		t.Fatalf("expected video-only stream to be invalid")
	}
}

func TestStream_StopTracksIdempotent(t *testing.T) {
	a := NewTrack(KindAudio, "a")
	b := NewTrack(KindAudio, "b")
	s := NewStream(a, b)
	s.StopTracks()
	s.StopTracks()
	for _, tr := range s.Tracks() {
		if tr.ReadyState() != Ended {
			t.Fatalf("expected all tracks ended")
		}
	}
}
