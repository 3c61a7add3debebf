// Package source decides which stream origin a video is fetched from.
//
// Origins come in two kinds: remote endpoints reachable from anywhere and
// local endpoints only reachable from the campus network. With an automatic
// preference the Resolver probes every configured endpoint concurrently and
// returns the reachable ones fastest first. Remote endpoints that failed their
// probe are still appended as last-resort candidates, so a transient probe
// failure never strands a download that could have succeeded.
//
// A pinned preference skips probing and yields exactly that endpoint.
//
// # Pluggable policy
//
// Reachability is decided by a Prober and ordering by a Policy. Both are
// interfaces so tests and alternate heuristics can replace them:
//
//	resolver := source.NewResolver(remote, local,
//	    source.HTTPProber{Client: client, Timeout: 5 * time.Second},
//	    logger)
//	resolver.Policy = source.LatencyPolicy{TieWindow: 20 * time.Millisecond}
//
//	candidates, err := resolver.Resolve(ctx, model.SourceAuto)
package source
