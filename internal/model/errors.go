package model

import (
	"errors"
	"fmt"
)

// Stage names the step of a VideoTask an error originated from.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StageFetch     Stage = "fetch"
	StageCache     Stage = "cache"
	StageTranscode Stage = "transcode"
)

// ErrCancelled marks work abandoned because the job was cancelled. It is not
// a failure and never appears in BatchResult.Failed.
var ErrCancelled = errors.New("cancelled")

// ErrNoReachableSource is wrapped by ResolveError when every candidate
// endpoint failed its probe.
var ErrNoReachableSource = errors.New("no reachable source")

// ResolveError reports that no endpoint could serve the video.
type ResolveError struct {
	Err error
}

func (e *ResolveError) Error() string { return "resolving source: " + e.Err.Error() }
func (e *ResolveError) Unwrap() error { return e.Err }

// FetchError is a network or I/O failure while retrieving stream data.
// Transient errors are retried by the fetcher before escalating.
type FetchError struct {
	URL       string
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.URL == "" {
		return "fetching: " + e.Err.Error()
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TranscodeError is a non-zero exit, spawn failure or missing output of the
// external media tool.
type TranscodeError struct {
	Err error
}

func (e *TranscodeError) Error() string { return "transcoding: " + e.Err.Error() }
func (e *TranscodeError) Unwrap() error { return e.Err }

// CacheError is a disk I/O failure in the artifact cache.
type CacheError struct {
	Key string
	Err error
}

func (e *CacheError) Error() string { return fmt.Sprintf("cache entry %s: %v", e.Key, e.Err) }
func (e *CacheError) Unwrap() error { return e.Err }

// StageOf classifies err into the stage reported to the caller.
func StageOf(err error) Stage {
	var (
		resolveErr   *ResolveError
		fetchErr     *FetchError
		transcodeErr *TranscodeError
		cacheErr     *CacheError
	)
	switch {
	case errors.As(err, &resolveErr):
		return StageResolve
	case errors.As(err, &transcodeErr):
		return StageTranscode
	case errors.As(err, &cacheErr):
		return StageCache
	case errors.As(err, &fetchErr):
		return StageFetch
	}
	return StageFetch
}

// IsTransient reports whether err is a FetchError worth retrying.
func IsTransient(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) && fetchErr.Transient
}
