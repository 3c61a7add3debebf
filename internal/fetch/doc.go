// Package fetch retrieves the raw stream of one lecture video into the
// artifact cache.
//
// A fetch runs in four steps:
//
//  1. Track info: GET {api}/impartus/ttid/{id}/m3u8/info lists the playlist
//     addresses per resolution and which camera views are recorded.
//  2. Media playlist: GET {source}/api/fetchvideo?tag=LC&inm3u8={addr}
//     returns an HLS media playlist. Segments before the first
//     EXT-X-DISCONTINUITY belong to view 1, the rest to view 2.
//  3. Key: GET {api}/impartus/ttid/{id}/key returns the AES-128 key when the
//     playlist is encrypted. Decryption is left to the media tool.
//  4. Segments are downloaded one by one into the cache writer. Segments
//     staged by an earlier attempt are skipped.
//
// Every request is retried with exponential backoff while its error is
// transient. Cancellation is cooperative: the Stop channel of a Request is
// checked before each request and each retry, and an in-flight segment
// download is allowed to finish.
package fetch
