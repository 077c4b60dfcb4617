package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log    Log    `yaml:"log"`
	Server Server `yaml:"server"`
	Auth   Auth   `yaml:"auth"`
	Store  Store  `yaml:"store"`
	Google Google `yaml:"google"`
	OpenAI OpenAI `yaml:"openai"`
	Agent  Agent  `yaml:"agent"`
}

type OpenAI struct {
	// OpenAI base url
	BaseURL string `yaml:"base_url" example:"https://api.openai.com/v1"`
	// OpenAI token
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX" validate:"required"`
	// Chat model used by the agent loop
	Model string `yaml:"model" example:"gpt-4.1-mini" validate:"required"`
	// Realtime speech model config
	Realtime Realtime `yaml:"realtime"`
}

type Realtime struct {
	// Realtime websocket base url
	BaseURL string `yaml:"base_url" example:"wss://api.openai.com/v1/realtime"`
	// Realtime speech model
	Model string `yaml:"model" example:"gpt-4o-realtime-preview-2024-12-17" validate:"required"`
	// Voice used for speech output
	Voice string `yaml:"voice" example:"alloy"`
}

type Google struct {
	// ClientID of the google application
	ClientID string `yaml:"client_id" example:"1234567890-abc123def456.apps.googleusercontent.com" validate:"required"`
	// Client secret of the google application
	ClientSecret string `yaml:"client_secret" example:"GOCSPX-abc123def456ghi789jkl012mno" validate:"required"`
}

type Agent struct {
	// Max model round-trips per user message
	MaxIterations int `yaml:"max_iterations" example:"8"`
	// Number of past turns replayed into the prompt
	HistoryWindow int `yaml:"history_window" example:"10"`
}

type Auth struct {
	// Secret used to sign session tokens
	JWTSecret string `yaml:"jwt_secret" example:"dev-secret" validate:"required"`
}

type Server struct {
	// Listen address
	Addr string `yaml:"addr" example:":8080"`
}

type Store struct {
	// Data directory for history and credentials
	Dir string `yaml:"dir" example:"data"`
}

type Log struct {
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

func Load() (*Config, error) {
	var result Config

	data, err := os.ReadFile("config.yaml")
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	if result.Server.Addr == "" {
		result.Server.Addr = ":8080"
	}
	if result.Store.Dir == "" {
		result.Store.Dir = "data"
	}
	if result.OpenAI.BaseURL == "" {
		result.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if result.OpenAI.Realtime.BaseURL == "" {
		result.OpenAI.Realtime.BaseURL = "wss://api.openai.com/v1/realtime"
	}
	if result.OpenAI.Realtime.Voice == "" {
		result.OpenAI.Realtime.Voice = "alloy"
	}
	if result.Agent.MaxIterations <= 0 {
		result.Agent.MaxIterations = 8
	}
	if result.Agent.HistoryWindow <= 0 {
		result.Agent.HistoryWindow = 10
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}
