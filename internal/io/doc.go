// Package ioutils provides file system utilities shared by the cache and the
// transcoder.
//
// This package contains functions for:
//   - Filename sanitization for cross-platform compatibility
//   - Directory creation and size accounting
//   - Atomic file writes (temp file + rename)
//
// # File Operations
//
//	// Ensure directory exists
//	err := ioutils.EnsureDir("/path/to/new/directory")
//
//	// Total bytes under a directory
//	n, err := ioutils.DirSize("/tmp/multipartus-downloader/videos")
//
// # Atomic Writes
//
// AtomicWriter never leaves the target partially written. Readers either see
// the old file, no file, or the complete new one:
//
//	w, err := ioutils.NewAtomicWriter("/cache/7031_high/view_1_00003.ts")
//	if err != nil {
//	    return err
//	}
//	if _, err := io.Copy(w, body); err != nil {
//	    w.Abort()
//	    return err
//	}
//	return w.Commit()
//
// # Filename Sanitization
//
// Use SanitizeFileName to remove invalid characters from filenames:
//
//	safe := ioutils.SanitizeFileName("Pointers: Part 1/2") // Returns "Pointers_ Part 1_2"
package ioutils
