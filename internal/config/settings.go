package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/handiism/multipartus-downloader/internal/model"
)

const appName = "multipartus-downloader"

// Settings holds the user preferences consumed at job submission.
type Settings struct {
	Quality          model.Quality          `json:"quality"`
	SourcePreference model.SourcePreference `json:"source_preference"`
	NamingFormat     model.NamingFormat     `json:"naming_format"`
}

// legacySettings is the layout written by the desktop releases.
type legacySettings struct {
	Resolution string  `json:"resolution"`
	Base       *string `json:"base"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	return &Settings{
		Quality:          model.QualityHigh,
		SourcePreference: model.SourceAuto,
		NamingFormat:     model.DefaultNamingFormat,
	}
}

// DefaultSettingsPath returns <user config dir>/multipartus-downloader/settings.json.
func DefaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, appName, "settings.json")
}

// Load reads settings from a JSON file. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	var legacy legacySettings
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, err
	}
	if legacy.Resolution != "" {
		q, err := model.ParseQuality(legacy.Resolution)
		if err != nil {
			return nil, err
		}
		settings.Quality = q
	}
	if legacy.Base != nil && *legacy.Base != "" {
		settings.SourcePreference = model.SourcePreference(*legacy.Base)
	}

	return settings, nil
}

// Save writes settings to a JSON file, creating parent directories.
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the engine cannot run with.
func (s *Settings) Validate() error {
	if !s.Quality.Valid() {
		return fmt.Errorf("invalid quality %q", s.Quality)
	}
	if !s.NamingFormat.HasPlaceholder() {
		return errors.New("naming format must contain at least one of {topic}, {number}, {date}, {resolution}")
	}
	if !s.SourcePreference.IsAuto() {
		u, err := url.Parse(string(s.SourcePreference))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("source preference must be %q or an http(s) URL, got %q", model.SourceAuto, s.SourcePreference)
		}
	}
	return nil
}

// Job assembles a DownloadJob from the settings and per-job inputs.
func (s *Settings) Job(token, destination string, videos []model.VideoRequest) *model.DownloadJob {
	return &model.DownloadJob{
		AuthToken:         token,
		DestinationFolder: destination,
		Videos:            videos,
		Quality:           s.Quality,
		SourcePreference:  s.SourcePreference,
		NamingFormat:      s.NamingFormat,
	}
}
