package download

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/handiism/multipartus-downloader/internal/cache"
	"github.com/handiism/multipartus-downloader/internal/fetch"
	"github.com/handiism/multipartus-downloader/internal/model"
	"github.com/handiism/multipartus-downloader/internal/source"
	"github.com/handiism/multipartus-downloader/internal/transcode"
)

// Resolver yields candidate origins for a source preference.
type Resolver interface {
	Resolve(ctx context.Context, pref model.SourcePreference) ([]source.Endpoint, error)
}

// Fetcher stages a video's stream into a cache writer.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request, w *cache.Writer, progress fetch.ProgressFunc) error
}

// Transcoder produces the final output file from cached playlists.
type Transcoder interface {
	Run(ctx context.Context, req transcode.Request, progress func(float64)) error
}

// Options tunes a Manager.
type Options struct {
	// Concurrency bounds the videos processed at once. Defaults to 3.
	Concurrency int

	// EventBuffer is the capacity of a job's event channel. Defaults to 16.
	EventBuffer int

	// PurgeOnSuccess removes a video's cache entry after it was transcoded.
	PurgeOnSuccess bool

	Logger logrus.FieldLogger
}

// Manager coordinates batch downloads. It is safe to submit several jobs
// concurrently; they share the cache but never a cache entry at the same
// time.
type Manager struct {
	cache      *cache.Cache
	resolver   Resolver
	fetcher    Fetcher
	transcoder Transcoder
	opts       Options
	logger     logrus.FieldLogger
}

// NewManager creates a new download Manager.
func NewManager(artifacts *cache.Cache, resolver Resolver, fetcher Fetcher, transcoder Transcoder, opts Options) *Manager {
	if opts.Concurrency < 1 {
		opts.Concurrency = 3
	}
	if opts.EventBuffer < 1 {
		opts.EventBuffer = 16
	}
	if opts.Logger == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.PanicLevel)
		opts.Logger = logger
	}

	return &Manager{
		cache:      artifacts,
		resolver:   resolver,
		fetcher:    fetcher,
		transcoder: transcoder,
		opts:       opts,
		logger:     opts.Logger,
	}
}

// Submit validates job and starts it in the background. ctx bounds the
// network I/O of the job; cancelling it cancels the job.
func (m *Manager) Submit(ctx context.Context, job *model.DownloadJob) (*Job, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	// The job is owned by the engine from here on.
	snapshot := *job
	snapshot.Videos = append([]model.VideoRequest(nil), job.Videos...)
	if snapshot.NamingFormat == "" {
		snapshot.NamingFormat = model.DefaultNamingFormat
	}

	j := newJob(uuid.NewString(), m.opts.EventBuffer)
	jobCtx, cancelJob := context.WithCancel(ctx)
	j.cancelCtx = cancelJob
	stopWatch := context.AfterFunc(ctx, j.Cancel)

	log := m.logger.WithFields(logrus.Fields{"job": j.ID, "videos": len(snapshot.Videos)})
	log.WithFields(logrus.Fields{"quality": snapshot.Quality, "source": snapshot.SourcePreference}).Info("job submitted")

	go func() {
		defer stopWatch()
		defer cancelJob()
		m.run(ctx, jobCtx, j, &snapshot, log)
	}()

	return j, nil
}

// CacheDir returns the directory of the artifact cache.
func (m *Manager) CacheDir() string {
	return m.cache.Root()
}

// CacheSizeBytes reports the bytes held by the artifact cache.
func (m *Manager) CacheSizeBytes() (int64, error) {
	return m.cache.Size()
}

// CacheSizeHuman reports CacheSizeBytes formatted for display.
func (m *Manager) CacheSizeHuman() (string, error) {
	return m.cache.SizeHuman()
}

// CacheEntries lists the complete entries of the artifact cache.
func (m *Manager) CacheEntries() ([]cache.Entry, error) {
	return m.cache.Entries()
}

// ClearCache empties the artifact cache. Cancel running jobs first; their
// fetches fail otherwise.
func (m *Manager) ClearCache() error {
	return m.cache.Clear()
}

func (m *Manager) run(ioCtx, jobCtx context.Context, j *Job, job *model.DownloadJob, log logrus.FieldLogger) {
	tasks := make([]*model.VideoTask, len(job.Videos))
	for i, v := range job.Videos {
		key := cache.Key{VideoID: v.VideoID, Quality: job.Quality}
		tasks[i] = model.NewVideoTask(v, key.String())
	}

	updates := make(chan update, len(tasks)+1)
	go newAggregator(j, tasks).run(updates)

	r := &runner{
		manager: m,
		job:     job,
		outputs: model.OutputPaths(job.DestinationFolder, job.NamingFormat, job.Videos, job.Quality),
		ioCtx:   ioCtx,
		jobCtx:  jobCtx,
		stop:    j.stop,
		updates: updates,
		logger:  log,
	}
	r.resolve = sync.OnceValues(func() ([]source.Endpoint, error) {
		return m.resolver.Resolve(ioCtx, job.SourcePreference)
	})

	g := new(errgroup.Group)
	g.SetLimit(m.opts.Concurrency)
	for i, task := range tasks {
		g.Go(func() error {
			r.runTask(i, task)
			return nil // failures are reported, never propagated
		})
	}
	_ = g.Wait()

	close(updates)

	result := j.Wait()
	log.WithFields(logrus.Fields{
		"succeeded": len(result.Succeeded),
		"failed":    len(result.Failed),
		"cancelled": result.Cancelled,
	}).Info("job finished")
}
