// SPDX-License-Identifier: MIT

// Package config loads AppConfig with precedence ENV > file > defaults, the
// same layering and strict-YAML-parsing approach the rest of the pack uses
// for its own configuration.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk YAML shape. Every field is optional; an unset
// field falls through to AppConfig's default or an environment override.
type FileConfig struct {
	Port     int    `yaml:"port,omitempty"`
	BaseURL  string `yaml:"baseUrl,omitempty"`
	LogLevel string `yaml:"logLevel,omitempty"`

	DBPath string `yaml:"dbPath,omitempty"`

	LLM     LLMConfig     `yaml:"llm,omitempty"`
	TTS     TTSConfig     `yaml:"tts,omitempty"`
	KV      KVConfig      `yaml:"kv,omitempty"`
	Storage StorageConfig `yaml:"storage,omitempty"`

	AdminEmails []string `yaml:"adminEmails,omitempty"`
}

// LLMConfig carries the optional text-generation provider. An empty APIKey
// disables the generation path (§4.5) and the matcher falls through to
// pooled/fallback selection.
type LLMConfig struct {
	APIKey  string `yaml:"apiKey,omitempty"`
	BaseURL string `yaml:"baseUrl,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// TTSConfig carries the optional speech-synthesis provider. An empty
// APIKey disables C6; materialize calls always fail and playlists surface
// null audioUrl segments.
type TTSConfig struct {
	APIKey  string `yaml:"apiKey,omitempty"`
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// KVConfig carries the optional Redis connection. A non-empty Addr enables
// the networked tier of C1 only; an empty or unreachable one leaves C1
// in-memory. cmd/sessiond always runs C2 on the in-memory window limiter
// and does not pass this connection to it.
type KVConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// StorageConfig carries the optional object-storage credentials for C6's
// blob collaborator. An empty Bucket keeps audio on local disk.
type StorageConfig struct {
	Bucket          string `yaml:"bucket,omitempty"`
	Region          string `yaml:"region,omitempty"`
	AccessKeyID     string `yaml:"accessKeyId,omitempty"`
	SecretAccessKey string `yaml:"secretAccessKey,omitempty"`
	LocalDir        string `yaml:"localDir,omitempty"`
}

// AppConfig is the fully resolved, validated configuration handed to
// cmd/sessiond's wiring.
type AppConfig struct {
	Port     int
	BaseURL  string
	LogLevel string

	DBPath string

	LLM     LLMConfig
	TTS     TTSConfig
	KV      KVConfig
	Storage StorageConfig

	AdminEmails []string
}

// HasLLM reports whether the generation path (§4.5) is enabled.
func (c AppConfig) HasLLM() bool { return c.LLM.APIKey != "" }

// HasTTS reports whether the materializer (§4.6) can reach a real provider.
func (c AppConfig) HasTTS() bool { return c.TTS.APIKey != "" }

// HasKV reports whether C1/C2 have a networked backing store configured.
func (c AppConfig) HasKV() bool { return c.KV.Addr != "" }

// HasObjectStorage reports whether C6 persists blobs remotely rather than
// to local disk.
func (c AppConfig) HasObjectStorage() bool { return c.Storage.Bucket != "" }

// Loader resolves an AppConfig from an optional YAML file plus environment
// overrides, in that precedence order (ENV wins).
type Loader struct {
	configPath string
}

// NewLoader builds a Loader for the given (possibly empty) config file path.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load resolves defaults, then file, then environment, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFileConfig(&cfg, fileCfg)
	}

	mergeEnvConfig(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() AppConfig {
	return AppConfig{
		Port:     8080,
		BaseURL:  "http://localhost:8080",
		LogLevel: "info",
		DBPath:   "sessioncore.db",
	}
}

// loadFile parses path with strict YAML decoding: unknown fields are a
// hard error rather than a silently ignored typo.
func loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path via CLI/env
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func mergeFileConfig(dst *AppConfig, src *FileConfig) {
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.DBPath != "" {
		dst.DBPath = src.DBPath
	}
	if src.LLM.APIKey != "" {
		dst.LLM = src.LLM
	}
	if src.TTS.APIKey != "" {
		dst.TTS = src.TTS
	}
	if src.KV.Addr != "" {
		dst.KV = src.KV
	}
	if src.Storage.Bucket != "" || src.Storage.LocalDir != "" {
		dst.Storage = src.Storage
	}
	if len(src.AdminEmails) > 0 {
		dst.AdminEmails = src.AdminEmails
	}
}

func mergeEnvConfig(cfg *AppConfig) {
	cfg.Port = envInt("SESSIONCORE_PORT", cfg.Port)
	cfg.BaseURL = envString("SESSIONCORE_BASE_URL", cfg.BaseURL)
	cfg.LogLevel = envString("SESSIONCORE_LOG_LEVEL", cfg.LogLevel)
	cfg.DBPath = envString("SESSIONCORE_DB_PATH", cfg.DBPath)

	cfg.LLM.APIKey = envString("SESSIONCORE_LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.BaseURL = envString("SESSIONCORE_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = envString("SESSIONCORE_LLM_MODEL", cfg.LLM.Model)

	cfg.TTS.APIKey = envString("SESSIONCORE_TTS_API_KEY", cfg.TTS.APIKey)
	cfg.TTS.BaseURL = envString("SESSIONCORE_TTS_BASE_URL", cfg.TTS.BaseURL)

	cfg.KV.Addr = envString("SESSIONCORE_KV_ADDR", cfg.KV.Addr)
	cfg.KV.Password = envString("SESSIONCORE_KV_PASSWORD", cfg.KV.Password)
	cfg.KV.DB = envInt("SESSIONCORE_KV_DB", cfg.KV.DB)

	cfg.Storage.Bucket = envString("SESSIONCORE_STORAGE_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Region = envString("SESSIONCORE_STORAGE_REGION", cfg.Storage.Region)
	cfg.Storage.AccessKeyID = envString("SESSIONCORE_STORAGE_ACCESS_KEY_ID", cfg.Storage.AccessKeyID)
	cfg.Storage.SecretAccessKey = envString("SESSIONCORE_STORAGE_SECRET_ACCESS_KEY", cfg.Storage.SecretAccessKey)
	cfg.Storage.LocalDir = envString("SESSIONCORE_STORAGE_LOCAL_DIR", cfg.Storage.LocalDir)

	if v, ok := os.LookupEnv("SESSIONCORE_ADMIN_EMAILS"); ok {
		cfg.AdminEmails = parseCommaSeparated(v)
	}
}

func envString(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseCommaSeparated(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate enforces the invariants Load needs beyond per-field defaults.
func Validate(cfg AppConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port out of range: %d", cfg.Port)
	}
	if cfg.DBPath == "" {
		return fmt.Errorf("dbPath must not be empty")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("invalid log level: %q", cfg.LogLevel)
	}
	return nil
}

// RequestTimeout bounds any single downstream HTTP call cmd/ wires into
// the LLM/TTS clients; not file/env configurable because it is an
// algorithmic safety margin, not an operator-tunable knob.
const RequestTimeout = 20 * time.Second
