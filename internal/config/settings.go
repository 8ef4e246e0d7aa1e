package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/comigor/alice-go/internal/logger"
)

// Settings is the persistent store for the values a user changes at runtime:
// server URLs, API key, selected model and offline model path. Writes go back
// to the YAML file the configuration was read from.
type Settings struct {
	writeMu  sync.Mutex
	mu       sync.RWMutex
	v        *viper.Viper
	cfg      Config
	path     string
	watchers []func(prev, next Config)
}

// OpenSettings loads the configuration and keeps it open for updates.
func OpenSettings() (*Settings, error) {
	v := newViper()
	if err := read(v); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	s := &Settings{v: v}
	if err := v.Unmarshal(&s.cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	s.path = v.ConfigFileUsed()
	if s.path == "" {
		s.path = filepath.Join(Dir(), "config.yaml")
	}
	return s, nil
}

// Path is the file settings are written to.
func (s *Settings) Path() string {
	return s.path
}

// Config returns a copy of the current configuration.
func (s *Settings) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Settings) SetServerURL(url string) error {
	return s.update(func(c *Config) { c.LLM.BaseURL = url })
}

func (s *Settings) SetAPIKey(key string) error {
	return s.update(func(c *Config) { c.LLM.APIKey = key })
}

func (s *Settings) SetSelectedModel(name string) error {
	return s.update(func(c *Config) { c.LLM.Model = name })
}

func (s *Settings) SetOfflineModelPath(path string) error {
	return s.update(func(c *Config) { c.Offline.ModelPath = path })
}

func (s *Settings) SetTTSURL(url string) error {
	return s.update(func(c *Config) { c.TTS.URL = url })
}

// OnChange registers fn to run whenever settings change, either through a
// setter or because the file was edited on disk (see Watch).
func (s *Settings) OnChange(fn func(prev, next Config)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// Watch starts watching the settings file for external edits.
func (s *Settings) Watch() {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var next Config
		if err := s.v.Unmarshal(&next); err != nil {
			logger.L.Warn("settings reload failed", "file", e.Name, "error", err)
			return
		}
		logger.L.Info("settings reloaded", "file", e.Name)
		s.apply(next)
	})
	s.v.WatchConfig()
}

func (s *Settings) update(mutate func(*Config)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	next := s.cfg
	s.mu.RUnlock()
	mutate(&next)

	if err := s.write(next); err != nil {
		return err
	}
	s.apply(next)
	return nil
}

func (s *Settings) apply(next Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = next
	watchers := append([]func(prev, next Config){}, s.watchers...)
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(prev, next)
	}
}

// write serialises cfg through a scratch viper so the live instance keeps
// reading the file (viper.Set would pin the keys as overrides).
func (s *Settings) write(cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	out := viper.New()
	out.SetConfigType("yaml")
	if err := out.MergeConfigMap(cfg.toMap()); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	// Replace the file in one rename so the watcher never reads a partial write.
	tmp := filepath.Join(filepath.Dir(s.path), ".tmp-"+filepath.Base(s.path))
	if err := out.WriteConfigAs(tmp); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write settings: %w", err)
	}

	if s.v.ConfigFileUsed() == "" {
		s.v.SetConfigFile(s.path)
	}
	if err := s.v.ReadInConfig(); err != nil {
		logger.L.Warn("settings re-read failed", "file", s.path, "error", err)
	}
	return nil
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"llm": map[string]any{
			"provider":      c.LLM.Provider,
			"base_url":      c.LLM.BaseURL,
			"api_key":       c.LLM.APIKey,
			"model":         c.LLM.Model,
			"system_prompt": c.LLM.SystemPrompt,
			"timeout":       c.LLM.Timeout.String(),
			"retry_delay":   c.LLM.RetryDelay.String(),
			"max_attempts":  c.LLM.MaxAttempts,
		},
		"offline": map[string]any{
			"model_path":  c.Offline.ModelPath,
			"models_dir":  c.Offline.ModelsDir,
			"max_tokens":  c.Offline.MaxTokens,
			"temperature": c.Offline.Temperature,
		},
		"tts": map[string]any{
			"url": c.TTS.URL,
		},
		"storage": map[string]any{
			"db_path": c.Storage.DBPath,
		},
		"server": map[string]any{
			"host":       c.Server.Host,
			"port":       c.Server.Port,
			"rate_limit": c.Server.RateLimit,
			"burst":      c.Server.Burst,
		},
		"log": map[string]any{
			"level": c.Log.Level,
			"file":  c.Log.File,
		},
		"telemetry": map[string]any{
			"enabled": c.Telemetry.Enabled,
			"dir":     c.Telemetry.Dir,
		},
	}
}
