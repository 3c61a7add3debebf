// Package config provides configuration management for multipartus-downloader.
//
// Two layers of configuration exist:
//   - Settings: user preferences (quality, source preference, naming format)
//     persisted as JSON and read once when a job is submitted
//   - Env: deployment configuration (API base URL, candidate sources, retry
//     budget, concurrency, media tool path) read from MULTIPARTUS_* variables
//
// # Default Settings
//
//	settings := config.DefaultSettings()
//	// High quality, automatic source selection,
//	// files named "{number}_{topic}_{resolution}.mp4"
//
// # Loading and Saving
//
//	settings, err := config.Load(config.DefaultSettingsPath())
//	settings.Quality = model.QualityLow
//	err = settings.Save(config.DefaultSettingsPath())
//
// Load understands the settings file written by earlier desktop releases
// ({"resolution": "HighRes", "base": null}).
//
// # Validation
//
// Validate is the only place a naming format is checked. The download engine
// assumes it receives a validated format.
//
// # Environment
//
//	env, err := config.LoadEnv()
//	// MULTIPARTUS_API_BASE, MULTIPARTUS_REMOTE_SOURCES, MULTIPARTUS_LOCAL_SOURCES,
//	// MULTIPARTUS_MAX_RETRY_COUNT, MULTIPARTUS_CONCURRENCY, MULTIPARTUS_FFMPEG, ...
package config
