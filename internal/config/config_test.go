package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("REALTIME_MODEL", "")
	os.Setenv("REALTIME_VOICE", "")
	os.Setenv("TASKS_FILE", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.RealtimeModel == "" {
		t.Fatalf("expected default realtime model")
	}
	if cfg.RealtimeVoice != "sage" {
		t.Fatalf("expected default voice, got %q", cfg.RealtimeVoice)
	}
	if cfg.TasksFile == "" {
		t.Fatalf("expected default tasks file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", ":9999")
	os.Setenv("REALTIME_MODEL", "gpt-test-model")
	os.Setenv("REALTIME_VOICE", "cedar")
	defer func() {
		os.Unsetenv("HTTP_ADDRESS")
		os.Unsetenv("REALTIME_MODEL")
		os.Unsetenv("REALTIME_VOICE")
	}()
	cfg := Load()
	if cfg.HTTPAddress != ":9999" {
		t.Fatalf("expected override address, got %q", cfg.HTTPAddress)
	}
	if cfg.RealtimeModel != "gpt-test-model" {
		t.Fatalf("expected override model, got %q", cfg.RealtimeModel)
	}
	if cfg.RealtimeVoice != "cedar" {
		t.Fatalf("expected override voice, got %q", cfg.RealtimeVoice)
	}
}
