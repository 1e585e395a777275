package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress   string
	OpenAIAPIKey  string
	RealtimeModel string
	RealtimeVoice string
	SignalBaseURL string
	TasksFile     string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - session minting will not work")
	}

	model := os.Getenv("REALTIME_MODEL")
	if model == "" {
		model = "gpt-4o-realtime-preview-2025-06-03"
	}

	voice := os.Getenv("REALTIME_VOICE")
	if voice == "" {
		voice = "sage"
	}

	signalBase := os.Getenv("SIGNAL_BASE_URL")

	tasksFile := os.Getenv("TASKS_FILE")
	if tasksFile == "" {
		tasksFile = "tasks.json"
	}

	log.Printf("config: HTTP_ADDRESS=%s model=%s voice=%s", addr, model, voice)
	return Config{
		HTTPAddress:   addr,
		OpenAIAPIKey:  apiKey,
		RealtimeModel: model,
		RealtimeVoice: voice,
		SignalBaseURL: signalBase,
		TasksFile:     tasksFile,
	}
}
