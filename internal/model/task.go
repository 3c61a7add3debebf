package model

import "fmt"

// TaskState is the lifecycle state of a VideoTask.
type TaskState int

const (
	TaskQueued TaskState = iota
	TaskResolving
	TaskFetching
	TaskTranscoding
	TaskDone
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskResolving:
		return "resolving"
	case TaskFetching:
		return "fetching"
	case TaskTranscoding:
		return "transcoding"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no transition may leave s.
func (s TaskState) IsTerminal() bool {
	return s == TaskDone || s == TaskFailed || s == TaskCancelled
}

// CanTransition reports whether the state machine allows s -> next.
func (s TaskState) CanTransition(next TaskState) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case TaskCancelled:
		return true
	case TaskFailed:
		return s == TaskResolving || s == TaskFetching || s == TaskTranscoding
	case TaskResolving:
		return s == TaskQueued
	case TaskFetching:
		return s == TaskResolving
	case TaskTranscoding:
		// Fetching is skipped entirely on a cache hit.
		return s == TaskFetching || s == TaskResolving
	case TaskDone:
		// Queued -> Done skips a video whose output file is already on disk
		// from an earlier run. Nothing is resolved, fetched or transcoded.
		return s == TaskTranscoding || s == TaskQueued
	}
	return false
}

// VideoTask is the runtime state of one VideoRequest within a job.
// It is mutated only by the goroutine executing the task.
type VideoTask struct {
	Request  VideoRequest
	State    TaskState
	Progress float64 // fraction of this task's share, 0..1
	LastErr  error
	CacheKey string
}

// NewVideoTask returns a queued task for req.
func NewVideoTask(req VideoRequest, cacheKey string) *VideoTask {
	return &VideoTask{Request: req, State: TaskQueued, CacheKey: cacheKey}
}

// Transition moves the task to next, rejecting moves the state machine does
// not allow.
func (t *VideoTask) Transition(next TaskState) error {
	if !t.State.CanTransition(next) {
		return fmt.Errorf("video %s: invalid transition %s -> %s", t.Request.VideoID, t.State, next)
	}
	t.State = next
	return nil
}
