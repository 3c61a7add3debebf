package model

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ioutils "github.com/handiism/multipartus-downloader/internal/io"
)

// Quality is the requested resolution tier of a lecture stream.
type Quality string

const (
	// QualityHigh selects the 1280x720 track.
	QualityHigh Quality = "high"

	// QualityLow selects the 854x480 track.
	QualityLow Quality = "low"
)

// ParseQuality accepts the canonical names as well as the spellings used by
// older settings files ("HighRes", "LowRes") and plain resolutions.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "highres", "high_res", "720p", "720":
		return QualityHigh, nil
	case "low", "lowres", "low_res", "480p", "480":
		return QualityLow, nil
	}
	return "", fmt.Errorf("unknown quality %q", s)
}

// Valid reports whether q is one of the known tiers.
func (q Quality) Valid() bool {
	return q == QualityHigh || q == QualityLow
}

// TrackName returns the key of the track list in the lecture's track info.
func (q Quality) TrackName() string {
	if q == QualityLow {
		return "854x480"
	}
	return "1280x720"
}

// Resolution returns the display resolution used for {resolution}.
func (q Quality) Resolution() string {
	if q == QualityLow {
		return "480p"
	}
	return "720p"
}

func (q Quality) String() string {
	return string(q)
}

// SourcePreference selects the origin to fetch streams from. SourceAuto lets
// the resolver probe every configured endpoint; any other value is the base
// URL of a pinned endpoint.
type SourcePreference string

// SourceAuto probes all configured endpoints.
const SourceAuto SourcePreference = "auto"

// IsAuto reports whether the preference asks for probing.
func (p SourcePreference) IsAuto() bool {
	return p == "" || p == SourceAuto
}

// VideoRequest identifies one lecture video together with the metadata
// needed to name its output file.
type VideoRequest struct {
	// VideoID is the lecture-capture identifier of the video (ttid).
	// It must be unique within a job.
	VideoID string `yaml:"videoId" json:"videoId"`

	SubjectID   string `yaml:"subjectId" json:"subjectId"`
	SubjectName string `yaml:"subjectName" json:"subjectName"`
	LectureID   string `yaml:"lectureId" json:"lectureId"`

	// DisplayTopic is the lecture topic as shown in the catalog.
	DisplayTopic string `yaml:"topic" json:"topic"`

	// LectureNumber is the ordinal of the lecture within its section.
	LectureNumber int `yaml:"number" json:"number"`

	// RecordedDate is when the lecture was captured. Zero if unknown.
	RecordedDate time.Time `yaml:"date" json:"date"`
}

// NamingFormat is a file name template. Recognized placeholders are
// {topic}, {number}, {date} and {resolution}.
type NamingFormat string

// DefaultNamingFormat mirrors the names produced by the desktop app.
const DefaultNamingFormat NamingFormat = "{number}_{topic}_{resolution}"

var placeholders = []string{"{topic}", "{number}", "{date}", "{resolution}"}

// HasPlaceholder reports whether f contains at least one recognized placeholder.
func (f NamingFormat) HasPlaceholder() bool {
	for _, p := range placeholders {
		if strings.Contains(string(f), p) {
			return true
		}
	}
	return false
}

// Render substitutes the placeholders of f for the given video and quality.
// The result is sanitized for use as a file name and carries no extension.
func (f NamingFormat) Render(v *VideoRequest, q Quality) string {
	date := ""
	if !v.RecordedDate.IsZero() {
		date = v.RecordedDate.Format("2006-01-02")
	}

	name := string(f)
	name = strings.ReplaceAll(name, "{topic}", v.DisplayTopic)
	name = strings.ReplaceAll(name, "{number}", strconv.Itoa(v.LectureNumber))
	name = strings.ReplaceAll(name, "{date}", date)
	name = strings.ReplaceAll(name, "{resolution}", q.Resolution())
	return ioutils.SanitizeFileName(name)
}

// OutputDir returns the directory a subject's lectures are written to:
// destination/<subject>, unless destination already is the subject folder.
func OutputDir(destination, subjectName string) string {
	subject := ioutils.SanitizeFileName(subjectName)
	if subject == "" || filepath.Base(filepath.Clean(destination)) == subject {
		return destination
	}
	return filepath.Join(destination, subject)
}

// OutputPath returns the full path of the final .mp4 for v.
func OutputPath(destination string, format NamingFormat, v *VideoRequest, q Quality) string {
	fileName := format.Render(v, q) + ".mp4"
	dir := OutputDir(destination, v.SubjectName)
	filePath := filepath.Join(dir, fileName)

	// Limit total path length for Windows compatibility (MAX_PATH = 260)
	if len(filePath) >= 260 {
		keep := 259 - len(dir) - len(string(filepath.Separator)) - len(".mp4")
		if keep > 0 && keep < len(fileName) {
			filePath = filepath.Join(dir, fileName[:keep]+".mp4")
		}
	}

	return filePath
}

// OutputPaths returns the output path of every video of a batch, in order.
// Videos rendering to the same file get their id appended, so no two tasks
// of a batch write one file. Paths are compared case-insensitively.
func OutputPaths(destination string, format NamingFormat, videos []VideoRequest, q Quality) []string {
	paths := make([]string, len(videos))
	used := make(map[string]bool, len(videos))
	for i := range videos {
		path := OutputPath(destination, format, &videos[i], q)
		suffix := "_" + ioutils.SanitizeFileName(videos[i].VideoID)
		for used[strings.ToLower(path)] {
			path = strings.TrimSuffix(path, ".mp4") + suffix + ".mp4"
		}
		used[strings.ToLower(path)] = true
		paths[i] = path
	}
	return paths
}
