package cache

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/grafov/m3u8"
	"github.com/sirupsen/logrus"

	ioutils "github.com/handiism/multipartus-downloader/internal/io"
	"github.com/handiism/multipartus-downloader/internal/model"
)

// Manifest describes a fully fetched stream for MarkComplete.
type Manifest struct {
	// Key is the AES-128 key of the stream; nil for clear streams.
	Key []byte

	// KeyIV is the IV attribute of the source playlist, if any.
	KeyIV string

	// Views holds the segment durations of each view, view 1 first.
	// Segment i of view v was written with WriteSegment(v, i, ...).
	Views [][]float64

	// MediaSequence holds the media sequence number of the first segment of
	// each view in the source playlist. Missing entries mean 0.
	MediaSequence []uint64
}

// Writer stages one cache entry. It must be finished with MarkComplete or
// Release.
type Writer struct {
	cache *Cache
	key   Key
	dir   string
	done  bool
}

// HasSegment reports whether segment index of view is already staged.
func (w *Writer) HasSegment(view, index int) bool {
	return ioutils.FileExists(filepath.Join(w.dir, segmentName(view, index)))
}

// WriteSegment stages a segment by calling fill with a writer. The segment
// only becomes visible under its final name once fill returns nil.
func (w *Writer) WriteSegment(view, index int, fill func(io.Writer) error) error {
	aw, err := ioutils.NewAtomicWriter(filepath.Join(w.dir, segmentName(view, index)))
	if err != nil {
		return w.cacheErr(err)
	}
	if err := fill(aw); err != nil {
		aw.Abort()
		return err
	}
	if err := aw.Commit(); err != nil {
		return w.cacheErr(err)
	}
	return nil
}

// MarkComplete writes the key and the local playlists, then promotes the
// staged directory to a complete entry.
func (w *Writer) MarkComplete(m Manifest) error {
	if w.done {
		return w.cacheErr(fmt.Errorf("writer already finished"))
	}
	if len(m.Views) == 0 {
		return w.cacheErr(fmt.Errorf("manifest has no views"))
	}

	if m.Key != nil {
		if err := ioutils.WriteFileAtomic(filepath.Join(w.dir, keyFile), m.Key); err != nil {
			return w.cacheErr(err)
		}
	}

	for i, durations := range m.Views {
		view := i + 1
		for index := range durations {
			if !w.HasSegment(view, index) {
				return w.cacheErr(fmt.Errorf("segment %s missing", segmentName(view, index)))
			}
		}

		data, err := encodePlaylist(view, durations, m)
		if err != nil {
			return w.cacheErr(err)
		}
		if err := ioutils.WriteFileAtomic(filepath.Join(w.dir, playlistName(view)), data); err != nil {
			return w.cacheErr(err)
		}
	}

	final := w.cache.entryPath(w.key)
	// A stale complete entry can only exist if it was re-fetched on purpose.
	if err := os.RemoveAll(final); err != nil {
		return w.cacheErr(err)
	}
	if err := os.Rename(w.dir, final); err != nil {
		return w.cacheErr(fmt.Errorf("promoting entry: %w", err))
	}

	w.finish()
	w.cache.logger.WithFields(logrus.Fields{"key": w.key.String(), "views": len(m.Views)}).Debug("cache entry complete")
	return nil
}

// Release gives up the key without completing the entry. Staged segments
// stay on disk so a later writer resumes from them.
func (w *Writer) Release() {
	w.finish()
}

func (w *Writer) finish() {
	if w.done {
		return
	}
	w.done = true
	w.cache.release(w.key.String())
}

func (w *Writer) cacheErr(err error) error {
	return &model.CacheError{Key: w.key.String(), Err: err}
}

func encodePlaylist(view int, durations []float64, m Manifest) ([]byte, error) {
	if len(durations) == 0 {
		return nil, fmt.Errorf("view %d has no segments", view)
	}

	p, err := m3u8.NewMediaPlaylist(0, uint(len(durations)))
	if err != nil {
		return nil, err
	}
	p.MediaType = m3u8.VOD
	if i := view - 1; i < len(m.MediaSequence) {
		p.SeqNo = m.MediaSequence[i]
	}
	if m.Key != nil {
		if err := p.SetDefaultKey("AES-128", keyFile, m.KeyIV, "", ""); err != nil {
			return nil, err
		}
	}
	for index, d := range durations {
		if err := p.Append(segmentName(view, index), d, ""); err != nil {
			return nil, err
		}
	}
	p.Close()

	return p.Encode().Bytes(), nil
}

// playlistDuration sums the segment durations of a local playlist.
func playlistDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoded, listType, err := m3u8.DecodeFrom(bufio.NewReader(f), true)
	if err != nil {
		return 0, err
	}
	if listType != m3u8.MEDIA {
		return 0, fmt.Errorf("%s is not a media playlist", path)
	}

	var seconds float64
	for _, seg := range decoded.(*m3u8.MediaPlaylist).Segments {
		if seg != nil {
			seconds += seg.Duration
		}
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
