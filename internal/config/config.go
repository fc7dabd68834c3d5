package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/chadiek/chitti/internal/speech"
)

// Speech providers.
const (
	ProviderBrowser    = "browser"
	ProviderAssemblyAI = "assemblyai"
	ProviderDeepgram   = "deepgram"
	ProviderElevenLabs = "elevenlabs"
	ProviderNone       = "none"
)

// Config holds application configuration.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Voice      VoiceConfig      `mapstructure:"voice"`
	Speech     SpeechConfig     `mapstructure:"speech"`
	AssemblyAI AssemblyAIConfig `mapstructure:"assemblyai"`
	Deepgram   DeepgramConfig   `mapstructure:"deepgram"`
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
	Assistant  AssistantConfig  `mapstructure:"assistant"`
	Log        LogConfig        `mapstructure:"log"`
}

type HTTPConfig struct {
	Address string `mapstructure:"address"`
	// AuthToken guards the widget socket when set.
	AuthToken       string        `mapstructure:"auth_token"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LLMConfig configures the completion endpoint. The key never leaves the
// server.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type VoiceConfig struct {
	Language string  `mapstructure:"language"`
	Rate     float64 `mapstructure:"rate"`
	Pitch    float64 `mapstructure:"pitch"`
	Volume   float64 `mapstructure:"volume"`
}

// Voice returns the configured synthesis parameters.
func (c VoiceConfig) Voice() speech.Voice {
	return speech.Voice{Language: c.Language, Rate: c.Rate, Pitch: c.Pitch, Volume: c.Volume}
}

type SpeechConfig struct {
	Input          string        `mapstructure:"input"`
	Output         string        `mapstructure:"output"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout"`
}

type AssemblyAIConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	URL          string        `mapstructure:"url"`
	Silence      time.Duration `mapstructure:"silence"`
	Continuation time.Duration `mapstructure:"continuation"`
	Grace        time.Duration `mapstructure:"grace"`
}

type DeepgramConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type ElevenLabsConfig struct {
	APIKey  string `mapstructure:"api_key"`
	VoiceID string `mapstructure:"voice_id"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type AssistantConfig struct {
	Name     string `mapstructure:"name"`
	Greeting string `mapstructure:"greeting"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// legacyEnv maps config keys to the environment names the service has
// always read.
var legacyEnv = map[string]string{
	"http.address":        "HTTP_ADDRESS",
	"llm.api_key":         "GROQ_API_KEY",
	"assemblyai.api_key":  "ASSEMBLYAI_API_KEY",
	"deepgram.api_key":    "DEEPGRAM_API_KEY",
	"elevenlabs.api_key":  "ELEVENLABS_API_KEY",
	"elevenlabs.voice_id": "ELEVENLABS_VOICE_ID",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.address", ":8080")
	v.SetDefault("http.auth_token", "")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.max_tokens", 400)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.timeout", "30s")

	v.SetDefault("voice.language", "en-US")
	v.SetDefault("voice.rate", 1.0)
	v.SetDefault("voice.pitch", 1.0)
	v.SetDefault("voice.volume", 0.9)

	v.SetDefault("speech.input", ProviderBrowser)
	v.SetDefault("speech.output", ProviderBrowser)
	v.SetDefault("speech.capture_timeout", "0s")

	v.SetDefault("assemblyai.api_key", "")
	v.SetDefault("assemblyai.url", "wss://streaming.assemblyai.com/v3/ws")
	v.SetDefault("assemblyai.silence", "700ms")
	v.SetDefault("assemblyai.continuation", "1200ms")
	v.SetDefault("assemblyai.grace", "250ms")

	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.model", "aura-2-thalia-en")

	v.SetDefault("elevenlabs.api_key", "")
	v.SetDefault("elevenlabs.voice_id", "")
	v.SetDefault("elevenlabs.model", "eleven_flash_v2_5")
	v.SetDefault("elevenlabs.base_url", "https://api.elevenlabs.io")

	v.SetDefault("assistant.name", "CHITTI")
	v.SetDefault("assistant.greeting", "Hello! I'm CHITTI, your advanced humanoid companion powered by Groq. I can chat via text or voice. Ask me anything!")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads .env when present, then layers defaults, the optional YAML
// file at path and the environment. Environment names are the key with
// dots replaced by underscores (LLM_MODEL, SPEECH_OUTPUT, ...).
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Address == "" {
		errs = append(errs, errors.New("http.address is empty"))
	}
	switch c.Speech.Input {
	case ProviderBrowser, ProviderAssemblyAI, ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("speech.input: unknown provider %q", c.Speech.Input))
	}
	switch c.Speech.Output {
	case ProviderBrowser, ProviderDeepgram, ProviderElevenLabs, ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("speech.output: unknown provider %q", c.Speech.Output))
	}
	if err := c.Voice.Voice().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, errors.New("llm.max_tokens must be positive"))
	}
	if c.Speech.CaptureTimeout < 0 {
		errs = append(errs, errors.New("speech.capture_timeout is negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Warnings lists missing provider keys. Missing keys are not fatal: the
// affected capability reports an error or is disabled at runtime.
func (c *Config) Warnings() []string {
	var w []string
	if c.LLM.APIKey == "" {
		w = append(w, "GROQ_API_KEY not set - replies will report an authentication issue")
	}
	if c.Speech.Input == ProviderAssemblyAI && c.AssemblyAI.APIKey == "" {
		w = append(w, "ASSEMBLYAI_API_KEY not set - transcription will not work")
	}
	if c.Speech.Output == ProviderDeepgram && c.Deepgram.APIKey == "" {
		w = append(w, "DEEPGRAM_API_KEY not set - TTS will not work")
	}
	if c.Speech.Output == ProviderElevenLabs {
		if c.ElevenLabs.APIKey == "" {
			w = append(w, "ELEVENLABS_API_KEY not set - TTS will not work")
		}
		if c.ElevenLabs.VoiceID == "" {
			w = append(w, "ELEVENLABS_VOICE_ID not set - set a concrete voice ID from your ElevenLabs dashboard")
		}
	}
	if c.HTTP.AuthToken == "" && openOrigins(c.HTTP.AllowedOrigins) {
		w = append(w, "http.auth_token is empty and http.allowed_origins allows any site - any page can open /ws and use the completion key")
	}
	return w
}

func openOrigins(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
