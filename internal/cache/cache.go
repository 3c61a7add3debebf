package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	ioutils "github.com/handiism/multipartus-downloader/internal/io"
	"github.com/handiism/multipartus-downloader/internal/model"
)

const (
	stagingDir = ".partial"
	keyFile    = "key.key"
)

// ErrBusy is wrapped by OpenWriter when another writer holds the key.
var ErrBusy = errors.New("entry busy")

// Key addresses a cache entry.
type Key struct {
	VideoID string
	Quality model.Quality
}

// String returns the directory name of the entry.
func (k Key) String() string {
	return ioutils.SanitizeFileName(k.VideoID) + "_" + string(k.Quality)
}

// Entry describes a complete cache entry.
type Entry struct {
	Key       string
	Path      string
	SizeBytes int64
	Complete  bool

	// Playlists are the local per-view playlists, view 1 first.
	Playlists []string

	// Duration is the playback length of view 1.
	Duration time.Duration
}

// Cache is the artifact cache rooted at a directory.
type Cache struct {
	root   string
	logger logrus.FieldLogger

	mu   sync.Mutex
	busy map[string]struct{}
}

// New returns a cache rooted at root. The directory is created lazily.
func New(root string, logger logrus.FieldLogger) *Cache {
	return &Cache{
		root:   root,
		logger: logger,
		busy:   make(map[string]struct{}),
	}
}

// Root returns the cache directory.
func (c *Cache) Root() string { return c.root }

func (c *Cache) entryPath(key Key) string {
	return filepath.Join(c.root, key.String())
}

func (c *Cache) stagingPath(key Key) string {
	return filepath.Join(c.root, stagingDir, key.String())
}

// Has reports whether a complete entry exists for key.
func (c *Cache) Has(key Key) bool {
	return ioutils.FileExists(filepath.Join(c.entryPath(key), playlistName(1)))
}

// Entry returns the complete entry for key.
func (c *Cache) Entry(key Key) (Entry, bool) {
	if !c.Has(key) {
		return Entry{}, false
	}
	return loadEntry(key.String(), c.entryPath(key)), true
}

// Entries lists complete entries sorted by key.
func (c *Cache) Entries() ([]Entry, error) {
	dirs, err := os.ReadDir(c.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, d := range dirs {
		if !d.IsDir() || d.Name() == stagingDir {
			continue
		}
		path := filepath.Join(c.root, d.Name())
		if !ioutils.FileExists(filepath.Join(path, playlistName(1))) {
			continue
		}
		entries = append(entries, loadEntry(d.Name(), path))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// loadEntry describes the complete entry at path.
func loadEntry(name, path string) Entry {
	entry := Entry{Key: name, Path: path, Complete: true}
	for view := 1; ; view++ {
		playlist := filepath.Join(path, playlistName(view))
		if !ioutils.FileExists(playlist) {
			break
		}
		entry.Playlists = append(entry.Playlists, playlist)
	}
	entry.SizeBytes, _ = ioutils.DirSize(path)
	if len(entry.Playlists) > 0 {
		entry.Duration, _ = playlistDuration(entry.Playlists[0])
	}
	return entry
}

// OpenWriter stages a new entry for key. Segments staged by an earlier,
// interrupted writer are kept and reported by HasSegment. Only one writer
// per key may be open at a time.
func (c *Cache) OpenWriter(key Key) (*Writer, error) {
	name := key.String()

	c.mu.Lock()
	if _, ok := c.busy[name]; ok {
		c.mu.Unlock()
		return nil, &model.CacheError{Key: name, Err: ErrBusy}
	}
	c.busy[name] = struct{}{}
	c.mu.Unlock()

	dir := c.stagingPath(key)
	if err := ioutils.EnsureDir(dir); err != nil {
		c.release(name)
		return nil, &model.CacheError{Key: name, Err: err}
	}

	return &Writer{cache: c, key: key, dir: dir}, nil
}

func (c *Cache) release(name string) {
	c.mu.Lock()
	delete(c.busy, name)
	c.mu.Unlock()
}

// Remove deletes the complete entry and any staged data for key.
func (c *Cache) Remove(key Key) error {
	for _, path := range []string{c.entryPath(key), c.stagingPath(key)} {
		if err := os.RemoveAll(path); err != nil {
			return &model.CacheError{Key: key.String(), Err: err}
		}
	}
	return nil
}

// Size returns the bytes used by complete entries and staged data.
func (c *Cache) Size() (int64, error) {
	size, err := ioutils.DirSize(c.root)
	if err != nil {
		return 0, fmt.Errorf("measuring cache: %w", err)
	}
	return size, nil
}

// SizeHuman returns Size formatted for display, e.g. "1.2 GB".
func (c *Cache) SizeHuman() (string, error) {
	size, err := c.Size()
	if err != nil {
		return "", err
	}
	return humanize.Bytes(uint64(size)), nil
}

// Clear removes every entry, complete or staged. Writers still open on the
// cleared entries fail their next write.
func (c *Cache) Clear() error {
	if err := os.RemoveAll(c.root); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	c.logger.WithField("root", c.root).Info("cache cleared")
	return nil
}

func playlistName(view int) string {
	return fmt.Sprintf("view_%d.m3u8", view)
}

func segmentName(view, index int) string {
	return fmt.Sprintf("view_%d_%05d.ts", view, index)
}
