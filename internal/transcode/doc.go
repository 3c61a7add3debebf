// Package transcode muxes cached lecture streams into the final .mp4 with
// ffmpeg.
//
// The Invoker copies the streams without re-encoding:
//
//	ffmpeg -y -hide_banner -loglevel error -nostats -progress pipe:1 \
//	    -allowed_extensions ALL -i view_1.m3u8 \
//	    [-allowed_extensions ALL -i view_2.m3u8 -map 0 -map 1] \
//	    -c copy -f mp4 <output>.part
//
// ffmpeg decrypts the AES-128 segments itself using the key referenced by
// the cached playlists. Output goes to <output>.part and is renamed once
// ffmpeg exits cleanly, so a file with the final name is always complete.
//
// Cancelling the context passed to Run interrupts ffmpeg, waits a grace
// period, kills it if it is still running and removes the partial file.
package transcode
