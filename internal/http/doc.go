// Package http provides the HTTP client used to talk to the lecture-capture
// API and its stream origins.
//
// The Client in this package handles:
//   - Bearer token authentication, bound per job with WithToken
//   - Per-host request pacing (golang.org/x/time/rate)
//   - Streaming downloads with progress tracking
//   - Reachability probes via HEAD requests
//   - Classification of failures into transient and permanent
//
// # Basic Usage
//
//	client := http.NewClient(http.Options{UserAgent: "multipartus-downloader"})
//	authed := client.WithToken(token)
//
//	// Decode a JSON document
//	var info TrackInfo
//	err := authed.GetJSON(ctx, infoURL, &info)
//
//	// Stream a segment to disk
//	n, err := authed.DownloadTo(ctx, segmentURL, file, nil)
//
// # Errors
//
// Non-2xx responses are returned as *StatusError. IsTransient reports whether
// an error is worth retrying: network failures, truncated bodies, 429 and 5xx
// responses are; context cancellation and other 4xx responses are not.
package http
