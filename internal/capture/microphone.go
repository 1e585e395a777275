package capture

import (
	"context"
	"fmt"
	"log"

	"github.com/gordonklaus/portaudio"

	"github.com/abegunasekara/openai-realtime-agents/internal/media"
)

const (
	micSampleRate = 48000
	micFrame      = 960 // 20ms at 48kHz
)

// portaudioMicrophone is the default Microphone backend: it opens the host's
// default input device at 48kHz mono and pumps PCM into a live track until
// the track is stopped or the device read fails.
func portaudioMicrophone(ctx context.Context, c Constraints) (*media.Stream, error) {
	if !c.Audio {
		return nil, fmt.Errorf("microphone acquisition requires an audio constraint")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	in := make([]int16, micFrame)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(micSampleRate), len(in), in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start microphone: %w", err)
	}

	track := media.NewTrack(media.KindAudio, "microphone")
	done := make(chan struct{})
	track.OnEnded(func() { close(done) })

	go func() {
		defer func() {
			_ = stream.Stop()
			_ = stream.Close()
			_ = portaudio.Terminate()
		}()
		for {
			select {
			case <-done:
				return
			default:
			}
			if err := stream.Read(); err != nil {
				log.Printf("capture: microphone read error: %v", err)
				track.Stop()
				return
			}
			pcm := make([]int16, len(in))
			copy(pcm, in)
			track.WritePCM(pcm)
		}
	}()

	return media.NewStream(track), nil
}
