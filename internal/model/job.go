package model

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DownloadJob is one batch download request. It is created once per
// user-initiated download and must not be modified after submission.
type DownloadJob struct {
	// AuthToken is the bearer token used for every request of the job.
	AuthToken string

	// DestinationFolder is where subject folders and output files are created.
	DestinationFolder string

	// Videos are the lectures to download; VideoID must be unique.
	Videos []VideoRequest

	Quality          Quality
	SourcePreference SourcePreference
	NamingFormat     NamingFormat
}

// ErrDuplicateVideo is returned by Validate when two requests share a VideoID.
var ErrDuplicateVideo = errors.New("duplicate video id in job")

// Validate checks the structural invariants the engine relies on. The
// naming format is validated by the settings layer, not here.
func (j *DownloadJob) Validate() error {
	if j.DestinationFolder == "" {
		return errors.New("destination folder is required")
	}
	if !j.Quality.Valid() {
		return fmt.Errorf("invalid quality %q", j.Quality)
	}

	seen := make(map[string]struct{}, len(j.Videos))
	for _, v := range j.Videos {
		if v.VideoID == "" {
			return errors.New("video id is required")
		}
		if _, ok := seen[v.VideoID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateVideo, v.VideoID)
		}
		seen[v.VideoID] = struct{}{}
	}
	return nil
}

// Manifest is the on-disk description of a batch, as produced by a catalog
// browser and consumed by the command line tools.
//
// Example:
//
//	destination: /home/user/Lectures
//	videos:
//	  - videoId: "7031"
//	    subjectName: "CS F111 Computer Programming"
//	    topic: "Pointers"
//	    number: 12
//	    date: 2024-02-13T00:00:00Z
type Manifest struct {
	Destination string         `yaml:"destination"`
	Videos      []VideoRequest `yaml:"videos"`
}

// LoadManifest reads a YAML manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &m, nil
}
