package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"
	"github.com/sirupsen/logrus"

	"github.com/handiism/multipartus-downloader/internal/cache"
	"github.com/handiism/multipartus-downloader/internal/http"
	"github.com/handiism/multipartus-downloader/internal/model"
)

// TrackInfo is the track listing of a lecture video.
type TrackInfo struct {
	// Tracks maps a resolution such as "1280x720" to playlist addresses.
	Tracks map[string][]string `json:"tracks"`
	Views  Views               `json:"views"`
}

// Views tells which camera views were recorded.
type Views struct {
	Left  bool `json:"left"`
	Right bool `json:"right"`
}

// Request describes one fetch.
type Request struct {
	VideoID string
	Quality model.Quality

	// Source is the base URL of the stream origin.
	Source string

	// Token authenticates every request.
	Token string

	// Stop is closed when the job is cancelled. May be nil.
	Stop <-chan struct{}
}

// ProgressFunc receives the staged fraction of the stream, in [0, 1].
// Successive values never decrease.
type ProgressFunc func(fraction float64)

// Fetcher downloads lecture streams into the cache.
type Fetcher struct {
	client  *http.Client
	apiBase string
	retry   RetryPolicy
	logger  logrus.FieldLogger
}

// New creates a Fetcher. apiBase serves track info and keys.
func New(client *http.Client, apiBase string, retry RetryPolicy, logger logrus.FieldLogger) *Fetcher {
	return &Fetcher{
		client:  client,
		apiBase: strings.TrimRight(apiBase, "/"),
		retry:   retry,
		logger:  logger,
	}
}

// Fetch stages the whole stream of req into w and marks the entry complete.
// On error the writer is left open; the caller releases it.
func (f *Fetcher) Fetch(ctx context.Context, req Request, w *cache.Writer, progress ProgressFunc) error {
	client := f.client.WithToken(req.Token)
	log := f.logger.WithFields(logrus.Fields{"video": req.VideoID, "source": req.Source})

	info, err := f.trackInfo(ctx, client, req)
	if err != nil {
		return err
	}

	playlistURL, err := mediaPlaylistURL(req.Source, info, req.Quality)
	if err != nil {
		return &model.FetchError{Err: err}
	}

	playlist, err := f.mediaPlaylist(ctx, client, req, playlistURL)
	if err != nil {
		return err
	}

	views, err := splitViews(playlist, playlistURL, info.Views)
	if err != nil {
		return &model.FetchError{URL: playlistURL, Err: err}
	}

	manifest := cache.Manifest{
		Views:         make([][]float64, len(views)),
		MediaSequence: make([]uint64, len(views)),
	}
	for v, segs := range views {
		manifest.MediaSequence[v] = segs[0].seq
	}
	if key := playlistKey(playlist); key != nil && key.Method != "NONE" {
		if manifest.Key, err = f.key(ctx, client, req); err != nil {
			return err
		}
		manifest.KeyIV = key.IV
	}

	total := 0
	for _, segs := range views {
		total += len(segs)
	}
	log.WithFields(logrus.Fields{"views": len(views), "segments": total}).Info("fetching segments")

	report := newReporter(total, progress)
	for v, segs := range views {
		view := v + 1
		for index, seg := range segs {
			manifest.Views[v] = append(manifest.Views[v], seg.duration)

			if stopped(req.Stop) {
				return model.ErrCancelled
			}
			if !w.HasSegment(view, index) {
				err := f.retry.Do(ctx, req.Stop, seg.url, func(ctx context.Context) error {
					return w.WriteSegment(view, index, func(dst io.Writer) error {
						_, err := client.DownloadTo(ctx, seg.url, dst, report.bytes)
						return err
					})
				})
				if err != nil {
					return err
				}
			}
			report.segmentDone()
		}
	}

	return w.MarkComplete(manifest)
}

func (f *Fetcher) trackInfo(ctx context.Context, client *http.Client, req Request) (*TrackInfo, error) {
	infoURL := fmt.Sprintf("%s/impartus/ttid/%s/m3u8/info", f.apiBase, url.PathEscape(req.VideoID))

	var info TrackInfo
	err := f.retry.Do(ctx, req.Stop, infoURL, func(ctx context.Context) error {
		return client.GetJSON(ctx, infoURL, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (f *Fetcher) mediaPlaylist(ctx context.Context, client *http.Client, req Request, playlistURL string) (*m3u8.MediaPlaylist, error) {
	var body []byte
	err := f.retry.Do(ctx, req.Stop, playlistURL, func(ctx context.Context) error {
		var err error
		body, err = client.Get(ctx, playlistURL)
		return err
	})
	if err != nil {
		return nil, err
	}

	decoded, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return nil, &model.FetchError{URL: playlistURL, Err: fmt.Errorf("decoding playlist: %w", err)}
	}
	if listType != m3u8.MEDIA {
		return nil, &model.FetchError{URL: playlistURL, Err: fmt.Errorf("expected a media playlist")}
	}
	return decoded.(*m3u8.MediaPlaylist), nil
}

func (f *Fetcher) key(ctx context.Context, client *http.Client, req Request) ([]byte, error) {
	keyURL := fmt.Sprintf("%s/impartus/ttid/%s/key", f.apiBase, url.PathEscape(req.VideoID))

	var key []byte
	err := f.retry.Do(ctx, req.Stop, keyURL, func(ctx context.Context) error {
		var err error
		key, err = client.Get(ctx, keyURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, &model.FetchError{URL: keyURL, Err: fmt.Errorf("empty key")}
	}
	return key, nil
}

// mediaPlaylistURL picks the last address listed for the quality's track.
func mediaPlaylistURL(source string, info *TrackInfo, q model.Quality) (string, error) {
	addrs := info.Tracks[q.TrackName()]
	if len(addrs) == 0 {
		return "", fmt.Errorf("no %s track", q.TrackName())
	}
	addr := addrs[len(addrs)-1]
	return strings.TrimRight(source, "/") + "/api/fetchvideo?tag=LC&inm3u8=" + url.QueryEscape(addr), nil
}

type segment struct {
	url      string
	duration float64
	seq      uint64
}

// splitViews divides the playlist at its first discontinuity and keeps the
// views the track info says were recorded.
func splitViews(p *m3u8.MediaPlaylist, playlistURL string, recorded Views) ([][]segment, error) {
	base, err := url.Parse(playlistURL)
	if err != nil {
		return nil, err
	}

	views := [][]segment{nil}
	seq := p.SeqNo
	for _, seg := range p.Segments {
		if seg == nil {
			continue
		}
		if seg.Discontinuity && len(views) == 1 && len(views[0]) > 0 {
			views = append(views, nil)
		}

		ref, err := url.Parse(seg.URI)
		if err != nil {
			return nil, fmt.Errorf("segment uri %q: %w", seg.URI, err)
		}
		last := len(views) - 1
		views[last] = append(views[last], segment{url: base.ResolveReference(ref).String(), duration: seg.Duration, seq: seq})
		seq++
	}

	if len(views[0]) == 0 {
		return nil, fmt.Errorf("playlist has no segments")
	}

	if len(views) == 2 && (recorded.Left || recorded.Right) {
		switch {
		case !recorded.Right:
			views = views[:1]
		case !recorded.Left:
			views = views[1:]
		}
	}
	return views, nil
}

// reporter turns segment and byte counts into a non-decreasing fraction.
type reporter struct {
	total    int
	done     int
	last     float64
	progress ProgressFunc
}

func newReporter(total int, progress ProgressFunc) *reporter {
	return &reporter{total: total, progress: progress}
}

// bytes reports progress inside the current segment. A retried segment
// restarts from zero bytes, so the fraction is clamped to the last value.
func (r *reporter) bytes(written, total int64) {
	if total <= 0 {
		return
	}
	r.report((float64(r.done) + min(float64(written)/float64(total), 1)) / float64(r.total))
}

func (r *reporter) segmentDone() {
	r.done++
	r.report(float64(r.done) / float64(r.total))
}

func (r *reporter) report(fraction float64) {
	if r.progress == nil || fraction <= r.last {
		return
	}
	r.last = fraction
	r.progress(fraction)
}

// playlistKey returns the encryption key declared by the playlist, either
// at playlist level or on its first segment.
func playlistKey(p *m3u8.MediaPlaylist) *m3u8.Key {
	if p.Key != nil {
		return p.Key
	}
	for _, seg := range p.Segments {
		if seg != nil && seg.Key != nil {
			return seg.Key
		}
	}
	return nil
}
