package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/abegunasekara/openai-realtime-agents/internal/capture"
	"github.com/abegunasekara/openai-realtime-agents/internal/config"
	"github.com/abegunasekara/openai-realtime-agents/internal/console"
	"github.com/abegunasekara/openai-realtime-agents/internal/credential"
	"github.com/abegunasekara/openai-realtime-agents/internal/transport"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()
	if cfg.SignalBaseURL == "" {
		log.Fatal("SIGNAL_BASE_URL must point at the signal server")
	}

	session := transport.NewWebRTCSession(cfg.RealtimeModel)
	ctrl, err := console.New(console.Options{
		Session:     session,
		Credentials: credential.NewClient(cfg.SignalBaseURL),
		Origin:      cfg.SignalBaseURL,
		OutputDir:   ".",
		OnStatus: func(s transport.Status) {
			log.Printf("console: transport %s", s)
		},
		OnItem: func(it transport.HistoryItem) {
			if it.Text != "" {
				fmt.Printf("[%s] %s\n", it.Role, it.Text)
			}
		},
		OnCapture: func(ev capture.Event) {
			log.Printf("console: system audio %s %s", ev.State, ev.Reason)
		},
	})
	if err != nil {
		log.Fatalf("console setup: %v", err)
	}
	defer ctrl.Close()

	ctx := context.Background()
	if err := ctrl.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	log.Println("connected; commands: say <text> | mute | unmute | interrupt | share on|off | rec start|stop|save | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "quit":
			return
		case strings.HasPrefix(line, "say "):
			if err := ctrl.SendText(strings.TrimPrefix(line, "say ")); err != nil {
				log.Printf("send text: %v", err)
			}
		case line == "mute":
			_ = ctrl.Mute(true)
		case line == "unmute":
			_ = ctrl.Mute(false)
		case line == "interrupt":
			_ = ctrl.Interrupt()
		case line == "share on":
			if err := ctrl.SetSystemAudio(ctx, true); err != nil {
				log.Printf("share: %v", err)
			}
		case line == "share off":
			if err := ctrl.SetSystemAudio(ctx, false); err != nil {
				log.Printf("share: %v", err)
			}
		case line == "rec start":
			ctrl.StartRecording(ctx)
		case line == "rec stop":
			ctrl.StopRecording()
		case line == "rec save":
			path, err := ctrl.SaveRecording(ctx)
			if err != nil {
				log.Printf("save recording: %v", err)
				continue
			}
			log.Printf("recording saved: %s", path)
		case line == "":
		default:
			log.Printf("unknown command %q", line)
		}
	}
}
