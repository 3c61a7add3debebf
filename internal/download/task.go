package download

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/handiism/multipartus-downloader/internal/cache"
	"github.com/handiism/multipartus-downloader/internal/fetch"
	ioutils "github.com/handiism/multipartus-downloader/internal/io"
	"github.com/handiism/multipartus-downloader/internal/model"
	"github.com/handiism/multipartus-downloader/internal/source"
	"github.com/handiism/multipartus-downloader/internal/transcode"
)

// Shares of a video's weight.
const (
	fetchShare     = 0.5
	transcodeShare = 1 - fetchShare

	// Smallest progress change worth an update.
	progressStep = 0.005
)

// runner executes the tasks of one job.
type runner struct {
	manager *Manager
	job     *model.DownloadJob

	// ioCtx bounds network requests. Cancel does not interrupt it; an
	// in-flight request completes before the stop flag is seen.
	ioCtx context.Context

	// jobCtx is cancelled by Cancel and terminates subprocesses.
	jobCtx context.Context

	// outputs holds the collision-free output path of each task.
	outputs []string

	stop    <-chan struct{}
	resolve func() ([]source.Endpoint, error)
	updates chan<- update
	logger  logrus.FieldLogger
}

// taskRun carries the per-task state while a task executes.
type taskRun struct {
	*runner
	index    int
	task     *model.VideoTask
	log      logrus.FieldLogger
	reported float64
}

func (r *runner) runTask(index int, task *model.VideoTask) {
	t := &taskRun{
		runner: r,
		index:  index,
		task:   task,
		log:    r.logger.WithField("video", task.Request.VideoID),
	}
	t.execute()
}

func (t *taskRun) execute() {
	req := &t.task.Request
	output := t.outputs[t.index]

	if ioutils.FileExists(output) {
		t.log.WithField("output", output).Info("output exists, skipping")
		t.finish(model.TaskDone, nil)
		return
	}
	if t.cancelled(nil) {
		t.finish(model.TaskCancelled, nil)
		return
	}

	t.enter(model.TaskResolving, 0)
	key := cache.Key{VideoID: req.VideoID, Quality: t.job.Quality}

	if t.manager.cache.Has(key) {
		t.log.Info("cache hit, skipping fetch")
	} else {
		candidates, err := t.resolve()
		if err != nil {
			t.fail(wrapResolve(err))
			return
		}
		if t.cancelled(nil) {
			t.finish(model.TaskCancelled, nil)
			return
		}

		t.enter(model.TaskFetching, 0)
		if err := t.fetch(key, candidates); err != nil {
			t.fail(err)
			return
		}
	}

	if t.cancelled(nil) {
		t.finish(model.TaskCancelled, nil)
		return
	}
	t.enter(model.TaskTranscoding, fetchShare)

	entry, ok := t.manager.cache.Entry(key)
	if !ok {
		t.fail(&model.CacheError{Key: key.String(), Err: errors.New("entry vanished before transcode")})
		return
	}

	err := t.manager.transcoder.Run(t.jobCtx, transcode.Request{
		Inputs:   entry.Playlists,
		Output:   output,
		Quality:  t.job.Quality,
		Duration: entry.Duration,
	}, func(f float64) {
		t.progress(fetchShare + transcodeShare*f)
	})
	if err != nil {
		t.fail(err)
		return
	}

	if t.manager.opts.PurgeOnSuccess {
		if err := t.manager.cache.Remove(key); err != nil {
			t.log.WithError(err).Warn("purging cache entry failed")
		}
	}

	t.log.WithField("output", output).Info("video done")
	t.finish(model.TaskDone, nil)
}

// fetch walks the candidate origins. Each one gets the full retry budget;
// the next is only tried after a transient failure.
func (t *taskRun) fetch(key cache.Key, candidates []source.Endpoint) error {
	w, err := t.manager.cache.OpenWriter(key)
	if err != nil {
		return err
	}
	defer w.Release()

	for i, ep := range candidates {
		if t.cancelled(nil) {
			return model.ErrCancelled
		}

		log := t.log.WithFields(logrus.Fields{"source": ep.URL, "candidate": i + 1})
		log.Debug("fetching")

		err = t.manager.fetcher.Fetch(t.ioCtx, fetch.Request{
			VideoID: key.VideoID,
			Quality: key.Quality,
			Source:  ep.URL,
			Token:   t.job.AuthToken,
			Stop:    t.stop,
		}, w, func(f float64) {
			t.progress(fetchShare * f)
		})
		if err == nil || t.cancelled(err) || !model.IsTransient(err) {
			return err
		}
		log.WithError(err).Warn("source failed, trying next")
	}
	return err
}

// cancelled reports whether the job was cancelled, or err stems from it.
func (t *taskRun) cancelled(err error) bool {
	if errors.Is(err, model.ErrCancelled) {
		return true
	}
	select {
	case <-t.stop:
		return true
	default:
	}
	return t.ioCtx.Err() != nil
}

// enter transitions the task and reports it.
func (t *taskRun) enter(state model.TaskState, fraction float64) {
	if err := t.task.Transition(state); err != nil {
		t.log.WithError(err).Error("task state")
		return
	}
	t.task.Progress = max(t.task.Progress, fraction)
	t.send(update{index: t.index, state: state, fraction: t.task.Progress})
}

func (t *taskRun) progress(fraction float64) {
	if fraction-t.reported < progressStep {
		return
	}
	t.task.Progress = max(t.task.Progress, fraction)
	t.send(update{index: t.index, state: t.task.State, fraction: t.task.Progress})
}

func (t *taskRun) fail(err error) {
	if t.cancelled(err) {
		t.finish(model.TaskCancelled, nil)
		return
	}
	t.log.WithFields(logrus.Fields{"stage": model.StageOf(err), "state": t.task.State}).WithError(err).Error("video failed")
	t.finish(model.TaskFailed, err)
}

func (t *taskRun) finish(state model.TaskState, err error) {
	if terr := t.task.Transition(state); terr != nil {
		t.log.WithError(terr).Error("task state")
		return
	}
	t.task.LastErr = err
	t.send(update{index: t.index, state: state, fraction: t.task.Progress, err: err})
}

func (t *taskRun) send(u update) {
	t.reported = u.fraction
	t.updates <- u
}

func wrapResolve(err error) error {
	var resolveErr *model.ResolveError
	if errors.As(err, &resolveErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return &model.ResolveError{Err: err}
}
