package download

import (
	"github.com/handiism/multipartus-downloader/internal/model"
)

// maxPartial caps the fraction of a video that is not Done or Failed, so a
// batch only reaches 100 when every video finished.
const maxPartial = 0.999

// update is sent by a task to the aggregator.
type update struct {
	index    int
	state    model.TaskState
	fraction float64
	err      error
}

// taskView is the aggregator's record of one task.
type taskView struct {
	videoID  string
	state    model.TaskState
	progress float64
	err      error
}

// aggregator is the single owner of a job's progress state and the only
// sender on its event channel.
type aggregator struct {
	job   *Job
	tasks []taskView

	percent float64 // last value queued or sent

	pendingProgress bool
	pendingErrors   []model.ErrorEvent
}

func newAggregator(job *Job, tasks []*model.VideoTask) *aggregator {
	views := make([]taskView, len(tasks))
	for i, t := range tasks {
		views[i] = taskView{videoID: t.Request.VideoID, state: t.State}
	}
	return &aggregator{job: job, tasks: views}
}

// run consumes updates until the channel is closed, then publishes the
// result and flushes the remaining events.
func (a *aggregator) run(updates <-chan update) {
	if len(a.tasks) == 0 {
		a.percent = 100
		a.pendingProgress = true
	}

	for updates != nil {
		out, next := a.next()
		select {
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			a.apply(u)
		case out <- next:
			a.pop()
		}
	}

	a.job.result = a.result()
	close(a.job.done)

	for {
		out, next := a.next()
		if out == nil {
			break
		}
		out <- next
		a.pop()
	}
	close(a.job.events)
}

// next returns the event to deliver, errors first. out is nil when nothing
// is pending, which disables the send case of the select.
func (a *aggregator) next() (chan<- model.Event, model.Event) {
	switch {
	case len(a.pendingErrors) > 0:
		return a.job.events, a.pendingErrors[0]
	case a.pendingProgress:
		return a.job.events, model.ProgressEvent{Percent: a.percent}
	}
	return nil, nil
}

func (a *aggregator) pop() {
	if len(a.pendingErrors) > 0 {
		a.pendingErrors = a.pendingErrors[1:]
		return
	}
	a.pendingProgress = false
}

func (a *aggregator) apply(u update) {
	task := &a.tasks[u.index]
	if task.state.IsTerminal() {
		return
	}

	task.state = u.state
	task.err = u.err
	switch u.state {
	case model.TaskDone, model.TaskFailed:
		task.progress = 1
	default:
		task.progress = max(task.progress, min(u.fraction, maxPartial))
	}

	if u.state == model.TaskFailed {
		a.pendingErrors = append(a.pendingErrors, model.ErrorEvent{
			VideoID: task.videoID,
			Stage:   model.StageOf(u.err),
			Message: u.err.Error(),
		})
	}

	if percent := a.compute(); percent > a.percent {
		a.percent = percent
		a.pendingProgress = true
	}
}

// compute returns the batch percentage. It is exactly 100 only when every
// task is Done or Failed.
func (a *aggregator) compute() float64 {
	finished := 0
	var sum float64
	for _, t := range a.tasks {
		if t.state == model.TaskDone || t.state == model.TaskFailed {
			finished++
		}
		sum += t.progress
	}
	if finished == len(a.tasks) {
		return 100
	}
	return sum / float64(len(a.tasks)) * 100
}

// result tallies the tasks in job order.
func (a *aggregator) result() model.BatchResult {
	res := model.BatchResult{Cancelled: a.job.Cancelled()}
	for _, t := range a.tasks {
		switch t.state {
		case model.TaskDone:
			res.Succeeded = append(res.Succeeded, t.videoID)
		case model.TaskFailed:
			res.Failed = append(res.Failed, model.FailedVideo{
				VideoID: t.videoID,
				Stage:   model.StageOf(t.err),
				Message: t.err.Error(),
			})
		}
	}
	return res
}
