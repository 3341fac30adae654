package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults in main.
type Config struct {
	Addr          string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir       string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	UploadDir     string `json:"upload_dir" yaml:"upload_dir" toml:"upload_dir"`
	ModelCacheDir string `json:"model_cache_dir" yaml:"model_cache_dir" toml:"model_cache_dir"`

	// DBPath is the sqlite database holding the model catalog.
	DBPath string `json:"db_path" yaml:"db_path" toml:"db_path"`

	DefaultLanguage    string `json:"default_language" yaml:"default_language" toml:"default_language"`
	DashboardRefreshMS int    `json:"dashboard_refresh_ms" yaml:"dashboard_refresh_ms" toml:"dashboard_refresh_ms"`

	// EngineURL is the base URL of the transcription sidecar.
	EngineURL string `json:"engine_url" yaml:"engine_url" toml:"engine_url"`
	// EngineTimeoutS bounds one engine invocation. 0 means no timeout.
	EngineTimeoutS int `json:"engine_timeout_s" yaml:"engine_timeout_s" toml:"engine_timeout_s"`

	FFmpegPath string `json:"ffmpeg_path" yaml:"ffmpeg_path" toml:"ffmpeg_path"`

	QueueDepth       int `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth"`
	SampleIntervalMS int `json:"sample_interval_ms" yaml:"sample_interval_ms" toml:"sample_interval_ms"`
	CallbackTimeoutS int `json:"callback_timeout_s" yaml:"callback_timeout_s" toml:"callback_timeout_s"`
	DownloadAttempts int `json:"download_attempts" yaml:"download_attempts" toml:"download_attempts"`
	DownloadTimeoutS int `json:"download_timeout_s" yaml:"download_timeout_s" toml:"download_timeout_s"`

	// FakeGPUs forces a synthetic device set of the given size. Dev only;
	// 0 uses real NVML detection.
	FakeGPUs int `json:"fake_gpus" yaml:"fake_gpus" toml:"fake_gpus"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Defaults returns the configuration used when nothing is specified.
func Defaults() Config {
	return Config{
		Addr:               ":8000",
		DataDir:            "data",
		UploadDir:          "data/uploads",
		ModelCacheDir:      "data/whisper_models",
		DBPath:             "data/catalog.db",
		DefaultLanguage:    "Russian",
		DashboardRefreshMS: 2000,
		EngineURL:          "http://127.0.0.1:8388",
		FFmpegPath:         "ffmpeg",
		QueueDepth:         256,
		SampleIntervalMS:   500,
		CallbackTimeoutS:   30,
		DownloadAttempts:   3,
		DownloadTimeoutS:   600,
		LogLevel:           "info",
	}
}

// SampleInterval returns the metrics sampling interval as a duration.
func (c Config) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMS) * time.Millisecond
}

// CallbackTimeout returns the callback POST timeout as a duration.
func (c Config) CallbackTimeout() time.Duration {
	return time.Duration(c.CallbackTimeoutS) * time.Second
}

// EngineTimeout returns the engine invocation bound, 0 meaning unbounded.
func (c Config) EngineTimeout() time.Duration {
	return time.Duration(c.EngineTimeoutS) * time.Second
}

// DownloadTimeout returns the per-attempt model fetch bound.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutS) * time.Second
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Merge overlays non-zero fields of over onto c and returns the result.
func Merge(c, over Config) Config {
	if over.Addr != "" {
		c.Addr = over.Addr
	}
	if over.DataDir != "" {
		c.DataDir = over.DataDir
	}
	if over.UploadDir != "" {
		c.UploadDir = over.UploadDir
	}
	if over.ModelCacheDir != "" {
		c.ModelCacheDir = over.ModelCacheDir
	}
	if over.DBPath != "" {
		c.DBPath = over.DBPath
	}
	if over.DefaultLanguage != "" {
		c.DefaultLanguage = over.DefaultLanguage
	}
	if over.DashboardRefreshMS != 0 {
		c.DashboardRefreshMS = over.DashboardRefreshMS
	}
	if over.EngineURL != "" {
		c.EngineURL = over.EngineURL
	}
	if over.EngineTimeoutS != 0 {
		c.EngineTimeoutS = over.EngineTimeoutS
	}
	if over.FFmpegPath != "" {
		c.FFmpegPath = over.FFmpegPath
	}
	if over.QueueDepth != 0 {
		c.QueueDepth = over.QueueDepth
	}
	if over.SampleIntervalMS != 0 {
		c.SampleIntervalMS = over.SampleIntervalMS
	}
	if over.CallbackTimeoutS != 0 {
		c.CallbackTimeoutS = over.CallbackTimeoutS
	}
	if over.DownloadAttempts != 0 {
		c.DownloadAttempts = over.DownloadAttempts
	}
	if over.DownloadTimeoutS != 0 {
		c.DownloadTimeoutS = over.DownloadTimeoutS
	}
	if over.FakeGPUs != 0 {
		c.FakeGPUs = over.FakeGPUs
	}
	if over.LogLevel != "" {
		c.LogLevel = over.LogLevel
	}
	return c
}

// FromEnv reads WHISPERD_* overrides. Unset variables leave zero values
// so the result can be merged over file config.
func FromEnv() Config {
	var cfg Config
	cfg.Addr = os.Getenv("WHISPERD_ADDR")
	cfg.DataDir = os.Getenv("WHISPERD_DATA_DIR")
	cfg.UploadDir = os.Getenv("WHISPERD_UPLOAD_DIR")
	cfg.ModelCacheDir = os.Getenv("WHISPERD_MODEL_CACHE_DIR")
	cfg.DBPath = os.Getenv("WHISPERD_DB_PATH")
	cfg.DefaultLanguage = os.Getenv("WHISPERD_DEFAULT_LANGUAGE")
	cfg.EngineURL = os.Getenv("WHISPERD_ENGINE_URL")
	cfg.FFmpegPath = os.Getenv("WHISPERD_FFMPEG_PATH")
	cfg.LogLevel = os.Getenv("WHISPERD_LOG_LEVEL")
	cfg.DashboardRefreshMS = envInt("WHISPERD_DASHBOARD_REFRESH_MS")
	cfg.EngineTimeoutS = envInt("WHISPERD_ENGINE_TIMEOUT_S")
	cfg.QueueDepth = envInt("WHISPERD_QUEUE_DEPTH")
	cfg.SampleIntervalMS = envInt("WHISPERD_SAMPLE_INTERVAL_MS")
	cfg.CallbackTimeoutS = envInt("WHISPERD_CALLBACK_TIMEOUT_S")
	cfg.DownloadAttempts = envInt("WHISPERD_DOWNLOAD_ATTEMPTS")
	cfg.DownloadTimeoutS = envInt("WHISPERD_DOWNLOAD_TIMEOUT_S")
	cfg.FakeGPUs = envInt("WHISPERD_FAKE_GPUS")
	return cfg
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
