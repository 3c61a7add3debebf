// Package model defines the core data structures shared by every stage of
// the multipartus-downloader engine.
//
// # Jobs
//
// A DownloadJob is one user-initiated batch. It is immutable once submitted:
//
//	job := &model.DownloadJob{
//	    AuthToken:         token,
//	    DestinationFolder: "/home/user/Lectures",
//	    Quality:           model.QualityHigh,
//	    SourcePreference:  model.SourceAuto,
//	    NamingFormat:      "{number}_{topic}_{resolution}",
//	    Videos:            []model.VideoRequest{...},
//	}
//
// # Tasks
//
// Every VideoRequest becomes a VideoTask that moves through the TaskState
// machine:
//
//	Queued -> Resolving -> Fetching -> Transcoding -> Done
//
// Failed is reachable from Resolving, Fetching and Transcoding; Cancelled is
// reachable from any non-terminal state.
//
// # Events
//
// Progress and error notifications are values implementing Event:
// ProgressEvent carries the batch percentage, ErrorEvent carries the failing
// video, its Stage and a human-readable message.
//
// # File naming
//
// NamingFormat placeholders: {topic}, {number}, {date}, {resolution}
package model
