package source

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/handiism/multipartus-downloader/internal/http"
	"github.com/handiism/multipartus-downloader/internal/model"
)

// Kind distinguishes origins reachable from anywhere from campus-only ones.
type Kind int

const (
	Remote Kind = iota
	Local
)

func (k Kind) String() string {
	if k == Local {
		return "local"
	}
	return "remote"
}

// Endpoint is a stream origin base URL.
type Endpoint struct {
	URL  string
	Kind Kind
}

// Probe is the outcome of probing one endpoint.
type Probe struct {
	Endpoint
	Latency time.Duration
	Err     error
}

// Reachable reports whether the probe succeeded.
func (p Probe) Reachable() bool { return p.Err == nil }

// Prober measures whether an endpoint answers.
type Prober interface {
	Probe(ctx context.Context, url string) (time.Duration, error)
}

// HTTPProber probes with a HEAD request bounded by Timeout.
type HTTPProber struct {
	Client  *http.Client
	Timeout time.Duration
}

func (p HTTPProber) Probe(ctx context.Context, url string) (time.Duration, error) {
	return p.Client.Probe(ctx, url, p.Timeout)
}

// Policy orders probe results into the candidate list.
type Policy interface {
	Order(probes []Probe) []Endpoint
}

// LatencyPolicy puts reachable endpoints first, fastest first. Latencies
// are compared in TieWindow buckets; within a bucket local endpoints win.
// Unreachable remote endpoints follow in configuration order; unreachable
// local endpoints are dropped.
type LatencyPolicy struct {
	TieWindow time.Duration
}

func (p LatencyPolicy) Order(probes []Probe) []Endpoint {
	var reachable, fallback []Probe
	for _, pr := range probes {
		switch {
		case pr.Reachable():
			reachable = append(reachable, pr)
		case pr.Kind == Remote:
			fallback = append(fallback, pr)
		}
	}

	window := p.TieWindow
	if window <= 0 {
		window = time.Millisecond
	}
	sort.SliceStable(reachable, func(i, j int) bool {
		bi, bj := reachable[i].Latency/window, reachable[j].Latency/window
		if bi != bj {
			return bi < bj
		}
		return reachable[i].Kind == Local && reachable[j].Kind == Remote
	})

	out := make([]Endpoint, 0, len(reachable)+len(fallback))
	for _, pr := range reachable {
		out = append(out, pr.Endpoint)
	}
	for _, pr := range fallback {
		out = append(out, pr.Endpoint)
	}
	return out
}

// Resolver turns a source preference into an ordered candidate list.
type Resolver struct {
	// Policy defaults to LatencyPolicy with a 10ms tie window.
	Policy Policy

	endpoints []Endpoint
	prober    Prober
	logger    logrus.FieldLogger
}

// NewResolver creates a Resolver over the configured endpoints.
func NewResolver(remote, local []string, prober Prober, logger logrus.FieldLogger) *Resolver {
	r := &Resolver{
		Policy: LatencyPolicy{TieWindow: 10 * time.Millisecond},
		prober: prober,
		logger: logger,
	}
	for _, u := range local {
		r.endpoints = append(r.endpoints, Endpoint{URL: normalize(u), Kind: Local})
	}
	for _, u := range remote {
		r.endpoints = append(r.endpoints, Endpoint{URL: normalize(u), Kind: Remote})
	}
	return r
}

// Resolve returns a non-empty ordered candidate list for pref. It fails with
// a *model.ResolveError wrapping model.ErrNoReachableSource only when every
// probed endpoint is unreachable.
func (r *Resolver) Resolve(ctx context.Context, pref model.SourcePreference) ([]Endpoint, error) {
	if !pref.IsAuto() {
		return []Endpoint{r.pinned(string(pref))}, nil
	}
	if len(r.endpoints) == 0 {
		return nil, &model.ResolveError{Err: model.ErrNoReachableSource}
	}

	probes := r.probeAll(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	anyReachable := false
	for _, p := range probes {
		if p.Reachable() {
			anyReachable = true
			break
		}
	}
	if !anyReachable {
		return nil, &model.ResolveError{Err: model.ErrNoReachableSource}
	}

	return r.Policy.Order(probes), nil
}

func (r *Resolver) probeAll(ctx context.Context) []Probe {
	probes := make([]Probe, len(r.endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range r.endpoints {
		g.Go(func() error {
			latency, err := r.prober.Probe(gctx, ep.URL)
			probes[i] = Probe{Endpoint: ep, Latency: latency, Err: err}

			entry := r.logger.WithFields(logrus.Fields{"source": ep.URL, "kind": ep.Kind})
			if err != nil {
				entry.WithError(err).Debug("probe failed")
			} else {
				entry.WithField("latency", latency).Debug("probe ok")
			}
			// Failed probes are data, not errors; never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	return probes
}

func (r *Resolver) pinned(u string) Endpoint {
	u = normalize(u)
	for _, ep := range r.endpoints {
		if ep.URL == u {
			return ep
		}
	}
	return Endpoint{URL: u, Kind: Remote}
}

func normalize(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
