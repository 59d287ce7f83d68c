package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/meetscribe/internal/common"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Media       MediaConfig       `yaml:"media"`
	ASR         ASRConfig         `yaml:"asr"`
	Diarization DiarizationConfig `yaml:"diarization"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxUploadSize ByteSize      `yaml:"maxUploadSize"`
	StorageDir    string        `yaml:"storageDir"`
	APIKey        string        `yaml:"apiKey"` // optional static API key header (X-API-Key)
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
	LogLevel      string        `yaml:"logLevel"` // debug|info|warn|error
}

// StoreConfig selects the job store driver.
type StoreConfig struct {
	Driver       string `yaml:"driver"`       // sqlite|redis|memory
	DatabasePath string `yaml:"databasePath"` // sqlite; defaults to storageDir/meetscribe.db
	RedisAddr    string `yaml:"redisAddr"`    // redis
	RedisPass    string `yaml:"redisPassword"`
	RedisDB      int    `yaml:"redisDb"`
}

// MediaConfig locates the transcoding binaries.
type MediaConfig struct {
	FFmpegPath  string `yaml:"ffmpegPath"`
	FFprobePath string `yaml:"ffprobePath"`
}

// ASRConfig configures the speech-to-text service.
type ASRConfig struct {
	BaseURL       string   `yaml:"baseUrl"`
	APIKey        string   `yaml:"apiKey"`
	Model         string   `yaml:"model"`
	MaxUploadSize ByteSize `yaml:"maxUploadSize"` // hard upload ceiling of the service
}

// DiarizationConfig configures the speaker-diarization service.
type DiarizationConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Token   string `yaml:"token"`
}

// ByteSize represents a size in bytes that unmarshals from strings like
// "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseByteSize(strings.TrimSpace(value.Value))
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var MEETSCRIBE_CONFIG, then
// default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("MEETSCRIBE_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
		return nil, fmt.Errorf("ensure storage dir: %w", err)
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.DatabasePath == "" {
		cfg.Store.DatabasePath = filepath.Join(cfg.Server.StorageDir, "meetscribe.db")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// SSE progress streams stay open for the length of a job.
		cfg.Server.WriteTimeout = 2 * time.Hour
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(common.DefaultMaxUploadBytes)
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.RedisAddr == "" {
		cfg.Store.RedisAddr = "localhost:6379"
	}

	if cfg.Media.FFmpegPath == "" {
		cfg.Media.FFmpegPath = "ffmpeg"
	}
	if cfg.Media.FFprobePath == "" {
		cfg.Media.FFprobePath = "ffprobe"
	}

	if cfg.ASR.BaseURL == "" {
		cfg.ASR.BaseURL = "https://api.openai.com"
	}
	if cfg.ASR.Model == "" {
		cfg.ASR.Model = "whisper-1"
	}
	if cfg.ASR.MaxUploadSize == 0 {
		cfg.ASR.MaxUploadSize = ByteSize(common.DefaultASRMaxBytes)
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("store.driver must be sqlite, redis or memory, got %q", cfg.Store.Driver)
	}
	if strings.TrimSpace(cfg.ASR.APIKey) == "" {
		return errors.New("asr.apiKey is required")
	}
	if strings.TrimSpace(cfg.Diarization.BaseURL) == "" {
		return errors.New("diarization.baseUrl is required")
	}
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.logLevel must be debug, info, warn or error, got %q", cfg.Server.LogLevel)
	}
	return nil
}
