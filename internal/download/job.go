package download

import (
	"context"
	"sync"

	"github.com/handiism/multipartus-downloader/internal/model"
)

// Job is the handle of a submitted DownloadJob.
type Job struct {
	// ID identifies the job in logs and user interfaces.
	ID string

	events chan model.Event

	stop      chan struct{}
	stopOnce  sync.Once
	cancelCtx context.CancelFunc

	done   chan struct{}
	result model.BatchResult
}

func newJob(id string, buffer int) *Job {
	return &Job{
		ID:     id,
		events: make(chan model.Event, buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Events yields ProgressEvent and ErrorEvent values and is closed after the
// last one. Drain it until closed. A slow consumer never stalls the videos:
// progress is coalesced meanwhile and Wait returns regardless.
func (j *Job) Events() <-chan model.Event {
	return j.events
}

// Cancel requests cooperative cancellation. Calling it more than once, or
// after the job finished, has no further effect.
func (j *Job) Cancel() {
	j.stopOnce.Do(func() {
		close(j.stop)
		if j.cancelCtx != nil {
			j.cancelCtx()
		}
	})
}

// Cancelled reports whether Cancel was called.
func (j *Job) Cancelled() bool {
	select {
	case <-j.stop:
		return true
	default:
		return false
	}
}

// Done is closed once every video reached a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is finished and returns its tally.
func (j *Job) Wait() model.BatchResult {
	<-j.done
	return j.result
}
