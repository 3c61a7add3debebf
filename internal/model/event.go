package model

// Event is a notification emitted to the caller of a job: either a
// ProgressEvent or an ErrorEvent.
type Event interface {
	isEvent()
}

// ProgressEvent carries the batch completion percentage (0..100). Within a
// job successive values never decrease.
type ProgressEvent struct {
	Percent float64
}

// ErrorEvent reports that one video failed at Stage.
type ErrorEvent struct {
	VideoID string
	Stage   Stage
	Message string
}

func (ProgressEvent) isEvent() {}
func (ErrorEvent) isEvent()    {}

// FailedVideo pairs a video with the message it failed with.
type FailedVideo struct {
	VideoID string
	Stage   Stage
	Message string
}

// BatchResult is the terminal tally of a job. Cancelled videos appear in
// neither Succeeded nor Failed.
type BatchResult struct {
	Succeeded []string
	Failed    []FailedVideo
	Cancelled bool
}
