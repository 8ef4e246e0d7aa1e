package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider names accepted in llm.provider.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config holds the application configuration
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Offline   OfflineConfig   `mapstructure:"offline"`
	TTS       TTSConfig       `mapstructure:"tts"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LLMConfig holds the online chat backend configuration
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// OfflineConfig holds the local model configuration
type OfflineConfig struct {
	ModelPath   string  `mapstructure:"model_path"`
	ModelsDir   string  `mapstructure:"models_dir"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// TTSConfig holds the text-to-speech endpoint
type TTSConfig struct {
	URL string `mapstructure:"url"`
}

// StorageConfig holds the chat history database location
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host      string  `mapstructure:"host"`
	Port      string  `mapstructure:"port"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// TelemetryConfig enables trace and metric export to rotated files in Dir.
type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// Dir returns the per-user application directory (~/.alice).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".alice"
	}
	return filepath.Join(home, ".alice")
}

func setDefaults(v *viper.Viper) {
	dir := Dir()
	v.SetDefault("llm.provider", ProviderOllama)
	v.SetDefault("llm.base_url", "http://127.0.0.1:11434")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.retry_delay", time.Second)
	v.SetDefault("llm.max_attempts", 2)
	v.SetDefault("offline.model_path", "")
	v.SetDefault("offline.models_dir", filepath.Join(dir, "models"))
	v.SetDefault("offline.max_tokens", 256)
	v.SetDefault("offline.temperature", 0.7)
	v.SetDefault("tts.url", "")
	v.SetDefault("storage.db_path", filepath.Join(dir, "history.db"))
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.burst", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dir", filepath.Join(dir, "telemetry"))
}

// newViper builds a viper instance wired to config.yaml (or CONFIG_PATH) and
// ALICE_* environment overrides.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	v.SetEnvPrefix("ALICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// read loads the config file into v. A missing file is not an error: the
// defaults and environment still apply.
func read(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load loads the configuration from config.yaml, CONFIG_PATH and the environment
func Load() (*Config, error) {
	v := newViper()
	if err := read(v); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
