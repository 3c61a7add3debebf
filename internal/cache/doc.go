// Package cache implements the on-disk artifact cache of fetched lecture
// streams.
//
// Entries are keyed by video and quality. An entry lives in its own
// directory under the cache root:
//
//	<root>/
//	    7031_high/             complete entry
//	        key.key
//	        view_1.m3u8
//	        view_1_00000.ts
//	        ...
//	        view_2.m3u8
//	    .partial/
//	        7032_high/         staged, not yet complete
//
// A Writer stages segments under .partial and only MarkComplete promotes the
// directory to its final name with a single rename. A crash or cancellation
// mid-fetch therefore leaves no complete entry behind; the staged segments are
// reused by the next Writer for the same key.
//
// The cache is an explicitly owned value. Tests create one per t.TempDir().
package cache
