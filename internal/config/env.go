package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envVarPrefix = "MULTIPARTUS"

// Env holds deployment configuration read from the environment.
type Env struct {
	// APIBase serves track info and stream keys.
	APIBase string `envconfig:"API_BASE" default:"https://lex.crux-bphc.com/api"`

	// RemoteSources are stream origins reachable from anywhere. They are
	// always kept as the last-resort candidates of automatic selection.
	RemoteSources []string `envconfig:"REMOTE_SOURCES" default:"https://bitshyd.impartus.com"`

	// LocalSources are origins only reachable from the campus network.
	LocalSources []string `envconfig:"LOCAL_SOURCES" default:"http://172.16.3.20"`

	ProbeTimeout time.Duration `envconfig:"PROBE_TIMEOUT" default:"5s"`

	MaxRetries    int           `envconfig:"MAX_RETRY_COUNT" default:"3"`
	RetryCooldown time.Duration `envconfig:"RETRY_COOLDOWN" default:"500ms"`
	RetryExponent float64       `envconfig:"RETRY_EXPONENT" default:"2"`

	// Concurrency bounds the number of videos processed at once.
	Concurrency int `envconfig:"CONCURRENCY" default:"3"`

	// RequestsPerSecond limits requests per host; 0 disables limiting.
	RequestsPerSecond float64 `envconfig:"REQUESTS_PER_SECOND" default:"0"`

	FFmpegPath string `envconfig:"FFMPEG" default:"ffmpeg"`

	// CacheDir defaults to <tmp>/multipartus-downloader/videos.
	CacheDir string `envconfig:"CACHE_DIR"`

	// LogDir defaults to <tmp>/multipartus-downloader/logs.
	LogDir string `envconfig:"LOG_DIR"`

	// PurgeOnSuccess removes a cache entry once its video was transcoded.
	PurgeOnSuccess bool `envconfig:"PURGE_ON_SUCCESS" default:"false"`
}

// LoadEnv parses MULTIPARTUS_* environment variables and fills in
// directory defaults.
func LoadEnv() (*Env, error) {
	var e Env
	if err := envconfig.Process(envVarPrefix, &e); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	if e.CacheDir == "" {
		e.CacheDir = filepath.Join(os.TempDir(), appName, "videos")
	}
	if e.LogDir == "" {
		e.LogDir = filepath.Join(os.TempDir(), appName, "logs")
	}
	if e.Concurrency < 1 {
		e.Concurrency = 1
	}
	if e.MaxRetries < 1 {
		e.MaxRetries = 1
	}
	if len(e.RemoteSources) == 0 && len(e.LocalSources) == 0 {
		return nil, fmt.Errorf("at least one of %s_REMOTE_SOURCES or %s_LOCAL_SOURCES is required", envVarPrefix, envVarPrefix)
	}

	return &e, nil
}
