package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/handiism/multipartus-downloader/internal/model"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *settings != *DefaultSettings() {
		t.Errorf("Load() = %+v, want defaults", settings)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	want := &Settings{
		Quality:          model.QualityLow,
		SourcePreference: "http://172.16.3.20",
		NamingFormat:     "{date} {topic}",
	}

	if err := want.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *got != *want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestLoad_LegacySettings(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantQuality model.Quality
		wantSource  model.SourcePreference
	}{
		{"low res no base", `{"resolution":"LowRes","base":null}`, model.QualityLow, model.SourceAuto},
		{"high res pinned base", `{"resolution":"HighRes","base":"https://origin.example"}`, model.QualityHigh, "https://origin.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got.Quality != tt.wantQuality {
				t.Errorf("Quality = %q, want %q", got.Quality, tt.wantQuality)
			}
			if got.SourcePreference != tt.wantSource {
				t.Errorf("SourcePreference = %q, want %q", got.SourcePreference, tt.wantSource)
			}
			if got.NamingFormat != model.DefaultNamingFormat {
				t.Errorf("NamingFormat = %q, want default", got.NamingFormat)
			}
		})
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"no placeholder", func(s *Settings) { s.NamingFormat = "lecture" }, true},
		{"bad quality", func(s *Settings) { s.Quality = "8k" }, true},
		{"pinned url", func(s *Settings) { s.SourcePreference = "https://origin.example" }, false},
		{"pinned garbage", func(s *Settings) { s.SourcePreference = "origin" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			if err := s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("MULTIPARTUS_REMOTE_SOURCES", "https://a.example,https://b.example")
	t.Setenv("MULTIPARTUS_LOCAL_SOURCES", "")
	t.Setenv("MULTIPARTUS_MAX_RETRY_COUNT", "5")
	t.Setenv("MULTIPARTUS_RETRY_COOLDOWN", "2s")
	t.Setenv("MULTIPARTUS_CACHE_DIR", "/var/cache/mp")

	env, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	if len(env.RemoteSources) != 2 || env.RemoteSources[1] != "https://b.example" {
		t.Errorf("RemoteSources = %v", env.RemoteSources)
	}
	if env.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", env.MaxRetries)
	}
	if env.RetryCooldown != 2*time.Second {
		t.Errorf("RetryCooldown = %v, want 2s", env.RetryCooldown)
	}
	if env.CacheDir != "/var/cache/mp" {
		t.Errorf("CacheDir = %q", env.CacheDir)
	}
	if env.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want default 3", env.Concurrency)
	}
	if env.LogDir == "" {
		t.Error("LogDir should default to a temp directory")
	}
}
