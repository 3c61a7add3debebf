package download

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/handiism/multipartus-downloader/internal/cache"
	"github.com/handiism/multipartus-downloader/internal/config"
	"github.com/handiism/multipartus-downloader/internal/fetch"
	"github.com/handiism/multipartus-downloader/internal/http"
	"github.com/handiism/multipartus-downloader/internal/source"
	"github.com/handiism/multipartus-downloader/internal/transcode"
)

// CheckFFmpeg reports an error when the ffmpeg binary configured in env
// cannot be found. Downloads need it; cache maintenance does not.
func CheckFFmpeg(env *config.Env) error {
	if err := transcode.New(env.FFmpegPath, nil).Available(); err != nil {
		return fmt.Errorf("ffmpeg not found at %q: %w", env.FFmpegPath, err)
	}
	return nil
}

// NewFromEnv wires a Manager with the production resolver, fetcher and
// ffmpeg invoker described by env. Call CheckFFmpeg first when the Manager
// will run jobs.
func NewFromEnv(env *config.Env, logger logrus.FieldLogger) *Manager {
	invoker := transcode.New(env.FFmpegPath, logger.WithField("stage", "transcode"))

	client := http.NewClient(http.Options{RequestsPerSecond: env.RequestsPerSecond})

	resolver := source.NewResolver(
		env.RemoteSources,
		env.LocalSources,
		source.HTTPProber{Client: client, Timeout: env.ProbeTimeout},
		logger.WithField("stage", "resolve"),
	)

	retry := fetch.DefaultRetryPolicy()
	retry.Attempts = env.MaxRetries
	retry.Cooldown = env.RetryCooldown
	retry.Exponent = env.RetryExponent
	fetcher := fetch.New(client, env.APIBase, retry, logger.WithField("stage", "fetch"))

	artifacts := cache.New(env.CacheDir, logger.WithField("stage", "cache"))

	return NewManager(artifacts, resolver, fetcher, invoker, Options{
		Concurrency:    env.Concurrency,
		PurgeOnSuccess: env.PurgeOnSuccess,
		Logger:         logger,
	})
}
