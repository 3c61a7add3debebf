// Package download orchestrates batch downloads of lecture videos.
//
// # Manager
//
// The Manager runs every video of a DownloadJob through the task state
// machine:
//
//	Queued -> Resolving -> Fetching -> Transcoding -> Done
//
//  1. Resolving asks the source resolver for candidate origins. A complete
//     cache entry skips straight to Transcoding.
//  2. Fetching streams the video into the artifact cache, walking the
//     candidate origins while failures are transient.
//  3. Transcoding muxes the cached views into the final file with ffmpeg.
//
// Failed and Cancelled are reachable from every non-terminal state. A video
// whose output file already exists is Done without any work.
//
// # Basic Usage
//
//	manager := download.NewManager(artifacts, resolver, fetcher, invoker, download.Options{
//	    Concurrency: 3,
//	    Logger:      logger,
//	})
//
//	job, err := manager.Submit(ctx, downloadJob)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for event := range job.Events() {
//	    switch e := event.(type) {
//	    case model.ProgressEvent:
//	        fmt.Printf("%.1f%%\n", e.Percent)
//	    case model.ErrorEvent:
//	        fmt.Printf("%s failed at %s: %s\n", e.VideoID, e.Stage, e.Message)
//	    }
//	}
//	result := job.Wait()
//
// # Concurrency
//
// At most Options.Concurrency videos run at once. Tasks never touch shared
// progress state; they send updates to a single aggregator goroutine that
// owns the percentages and the event channel.
//
// # Progress Tracking
//
// Each video weighs 1/n of the batch. Fetching covers the first half of a
// video's share and transcoding the second. Emitted percentages never
// decrease and reach exactly 100 once every video is Done or Failed.
//
// The event channel is bounded. When the consumer falls behind, progress
// events are coalesced into the latest value while error events are queued
// and always delivered.
//
// # Cancellation
//
// Job.Cancel is cooperative and idempotent. Tasks check for it before each
// stage, request and retry; a segment download in flight completes first.
// A running ffmpeg is interrupted and its partial output removed.
package download
