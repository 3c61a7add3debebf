package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/handiism/multipartus-downloader/internal/cache"
	"github.com/handiism/multipartus-downloader/internal/fetch"
	"github.com/handiism/multipartus-downloader/internal/logging"
	"github.com/handiism/multipartus-downloader/internal/model"
	"github.com/handiism/multipartus-downloader/internal/source"
	"github.com/handiism/multipartus-downloader/internal/transcode"
)

type staticResolver struct {
	endpoints []source.Endpoint
	err       error
}

func (r staticResolver) Resolve(ctx context.Context, pref model.SourcePreference) ([]source.Endpoint, error) {
	return r.endpoints, r.err
}

// mapProber reports endpoints listed in up as reachable.
type mapProber struct {
	up map[string]bool
}

func (p mapProber) Probe(ctx context.Context, url string) (time.Duration, error) {
	if p.up[url] {
		return time.Millisecond, nil
	}
	return 0, errors.New("connection refused")
}

type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	sources  []string
	inFlight int
	peak     int
	fail     func(req fetch.Request) error

	// delay holds every fetch open for a while.
	delay time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request, w *cache.Writer, progress fetch.ProgressFunc) error {
	f.mu.Lock()
	f.calls[req.VideoID]++
	f.sources = append(f.sources, req.Source)
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if f.fail != nil {
		if err := f.fail(req); err != nil {
			return err
		}
	}

	for i := 0; i < 2; i++ {
		err := w.WriteSegment(1, i, func(dst io.Writer) error {
			_, err := io.WriteString(dst, "segment")
			return err
		})
		if err != nil {
			return err
		}
		progress(float64(i+1) / 2)
	}
	return w.MarkComplete(cache.Manifest{Views: [][]float64{{6, 6}}})
}

func (f *fakeFetcher) callCount(videoID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[videoID]
}

func (f *fakeFetcher) peakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// fakeTranscoder identifies videos by output name; tests use "{topic}" as
// naming format and the video id as topic.
type fakeTranscoder struct {
	fail  map[string]bool
	block map[string]chan struct{}
}

func (f *fakeTranscoder) Run(ctx context.Context, req transcode.Request, progress func(float64)) error {
	id := strings.TrimSuffix(filepath.Base(req.Output), ".mp4")

	if started, ok := f.block[id]; ok {
		close(started)
		<-ctx.Done()
		return model.ErrCancelled
	}
	if f.fail[id] {
		return &model.TranscodeError{Err: &transcode.ExitError{Code: 1, Stderr: "Invalid data found"}}
	}
	if len(req.Inputs) == 0 {
		return &model.TranscodeError{Err: errors.New("no inputs")}
	}

	progress(0.5)
	if err := os.MkdirAll(filepath.Dir(req.Output), 0755); err != nil {
		return err
	}
	return os.WriteFile(req.Output, []byte("mp4"), 0644)
}

type harness struct {
	dest       string
	cache      *cache.Cache
	fetcher    *fakeFetcher
	transcoder *fakeTranscoder
	resolver   Resolver
	opts       Options
}

func newHarness(t *testing.T) *harness {
	return &harness{
		dest:       t.TempDir(),
		cache:      cache.New(t.TempDir(), logging.Discard()),
		fetcher:    newFakeFetcher(),
		transcoder: &fakeTranscoder{},
		resolver:   staticResolver{endpoints: []source.Endpoint{{URL: "https://origin.example"}}},
		opts:       Options{Concurrency: 2, Logger: logging.Discard()},
	}
}

func (h *harness) manager() *Manager {
	return NewManager(h.cache, h.resolver, h.fetcher, h.transcoder, h.opts)
}

func (h *harness) job(ids ...string) *model.DownloadJob {
	videos := make([]model.VideoRequest, len(ids))
	for i, id := range ids {
		videos[i] = model.VideoRequest{VideoID: id, SubjectName: "Subject", DisplayTopic: id, LectureNumber: i + 1}
	}
	return &model.DownloadJob{
		AuthToken:         "tok",
		DestinationFolder: h.dest,
		Videos:            videos,
		Quality:           model.QualityHigh,
		SourcePreference:  model.SourceAuto,
		NamingFormat:      "{topic}",
	}
}

func (h *harness) output(id string) string {
	return filepath.Join(h.dest, "Subject", id+".mp4")
}

type collected struct {
	percents []float64
	errors   []model.ErrorEvent
}

// collect reads events until the channel closes.
func collect(job *Job) collected {
	var c collected
	for ev := range job.Events() {
		switch e := ev.(type) {
		case model.ProgressEvent:
			c.percents = append(c.percents, e.Percent)
		case model.ErrorEvent:
			c.errors = append(c.errors, e)
		}
	}
	return c
}

func drain(t *testing.T, job *Job) collected {
	t.Helper()
	done := make(chan collected, 1)
	go func() { done <- collect(job) }()
	select {
	case c := <-done:
		return c
	case <-time.After(10 * time.Second):
		t.Fatal("event channel not closed in time")
		return collected{}
	}
}

func assertMonotonic(t *testing.T, percents []float64) {
	t.Helper()
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress decreased: %v", percents)
		}
	}
}

func submit(t *testing.T, m *Manager, job *model.DownloadJob) *Job {
	t.Helper()
	j, err := m.Submit(context.Background(), job)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return j
}

func TestManager_AllSucceed(t *testing.T) {
	h := newHarness(t)
	job := submit(t, h.manager(), h.job("a", "b", "c"))

	events := drain(t, job)
	result := job.Wait()

	if !reflect.DeepEqual(result.Succeeded, []string{"a", "b", "c"}) {
		t.Errorf("Succeeded = %v", result.Succeeded)
	}
	if len(result.Failed) != 0 || result.Cancelled {
		t.Errorf("result = %+v, want clean success", result)
	}
	assertMonotonic(t, events.percents)
	if last := events.percents[len(events.percents)-1]; last != 100 {
		t.Errorf("last percent = %v, want 100", last)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := os.Stat(h.output(id)); err != nil {
			t.Errorf("output for %s missing: %v", id, err)
		}
	}
	if job.ID == "" {
		t.Error("job has no ID")
	}
}

func TestManager_TranscodeFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.transcoder.fail = map[string]bool{"B": true}

	job := submit(t, h.manager(), h.job("A", "B"))
	events := drain(t, job)
	result := job.Wait()

	if !reflect.DeepEqual(result.Succeeded, []string{"A"}) {
		t.Errorf("Succeeded = %v, want [A]", result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0].VideoID != "B" || result.Failed[0].Stage != model.StageTranscode {
		t.Fatalf("Failed = %+v, want B at transcode", result.Failed)
	}
	if !strings.Contains(result.Failed[0].Message, "Invalid data found") {
		t.Errorf("message = %q, want the tool's stderr", result.Failed[0].Message)
	}
	if len(events.errors) != 1 || events.errors[0].VideoID != "B" {
		t.Errorf("error events = %+v", events.errors)
	}
	assertMonotonic(t, events.percents)
	if last := events.percents[len(events.percents)-1]; last != 100 {
		t.Errorf("last percent = %v, want 100", last)
	}
}

func TestManager_SecondJobHitsCache(t *testing.T) {
	h := newHarness(t)
	m := h.manager()

	first := submit(t, m, h.job("a", "b"))
	drain(t, first)
	if got := first.Wait(); len(got.Succeeded) != 2 {
		t.Fatalf("first job = %+v", got)
	}

	// Remove the outputs so the second job has work to do.
	for _, id := range []string{"a", "b"} {
		os.Remove(h.output(id))
	}

	second := submit(t, m, h.job("a", "b"))
	drain(t, second)
	if got := second.Wait(); len(got.Succeeded) != 2 {
		t.Fatalf("second job = %+v", got)
	}

	for _, id := range []string{"a", "b"} {
		if n := h.fetcher.callCount(id); n != 1 {
			t.Errorf("video %s fetched %d times, want 1", id, n)
		}
	}
}

func TestManager_PurgeOnSuccess(t *testing.T) {
	h := newHarness(t)
	h.opts.PurgeOnSuccess = true

	job := submit(t, h.manager(), h.job("a"))
	drain(t, job)
	job.Wait()

	if h.cache.Has(cache.Key{VideoID: "a", Quality: model.QualityHigh}) {
		t.Error("cache entry should be purged after success")
	}
}

func TestManager_SkipsExistingOutput(t *testing.T) {
	h := newHarness(t)
	if err := os.MkdirAll(filepath.Join(h.dest, "Subject"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(h.output("a"), []byte("done"), 0644); err != nil {
		t.Fatal(err)
	}

	job := submit(t, h.manager(), h.job("a"))
	drain(t, job)
	result := job.Wait()

	if !reflect.DeepEqual(result.Succeeded, []string{"a"}) {
		t.Errorf("Succeeded = %v", result.Succeeded)
	}
	if n := h.fetcher.callCount("a"); n != 0 {
		t.Errorf("fetched %d times, want 0", n)
	}
}

func TestManager_UnreachableEndpointFallsToReachable(t *testing.T) {
	h := newHarness(t)
	h.resolver = source.NewResolver(
		[]string{"https://remote.example"},
		[]string{"http://campus.example"},
		mapProber{up: map[string]bool{"https://remote.example": true}},
		logging.Discard(),
	)

	job := submit(t, h.manager(), h.job("a", "b", "c"))
	events := drain(t, job)
	result := job.Wait()

	if len(result.Succeeded) != 3 {
		t.Fatalf("result = %+v, want 3 successes", result)
	}
	for _, ev := range events.errors {
		if ev.Stage == model.StageResolve {
			t.Errorf("unexpected resolve error: %+v", ev)
		}
	}
	for _, src := range h.fetcher.sources {
		if src != "https://remote.example" {
			t.Errorf("fetched from %s, want the reachable endpoint only", src)
		}
	}
}

func TestManager_NoReachableSource(t *testing.T) {
	h := newHarness(t)
	h.resolver = source.NewResolver(
		[]string{"https://remote.example"}, nil,
		mapProber{}, logging.Discard(),
	)

	job := submit(t, h.manager(), h.job("a", "b"))
	events := drain(t, job)
	result := job.Wait()

	if len(result.Failed) != 2 {
		t.Fatalf("Failed = %+v, want both videos", result.Failed)
	}
	for _, f := range result.Failed {
		if f.Stage != model.StageResolve {
			t.Errorf("%s failed at %s, want resolve", f.VideoID, f.Stage)
		}
	}
	if last := events.percents[len(events.percents)-1]; last != 100 {
		t.Errorf("last percent = %v, want 100 after all failures", last)
	}
}

func TestManager_SwitchesSourceOnTransientFailure(t *testing.T) {
	h := newHarness(t)
	h.resolver = staticResolver{endpoints: []source.Endpoint{{URL: "https://a"}, {URL: "https://b"}}}
	h.fetcher.fail = func(req fetch.Request) error {
		if req.Source == "https://a" {
			return &model.FetchError{URL: req.Source, Transient: true, Err: errors.New("503")}
		}
		return nil
	}

	job := submit(t, h.manager(), h.job("a"))
	drain(t, job)
	result := job.Wait()

	if len(result.Succeeded) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if !reflect.DeepEqual(h.fetcher.sources, []string{"https://a", "https://b"}) {
		t.Errorf("sources = %v, want a then b", h.fetcher.sources)
	}
}

func TestManager_PermanentFetchErrorDoesNotSwitch(t *testing.T) {
	h := newHarness(t)
	h.resolver = staticResolver{endpoints: []source.Endpoint{{URL: "https://a"}, {URL: "https://b"}}}
	h.fetcher.fail = func(req fetch.Request) error {
		return &model.FetchError{URL: req.Source, Transient: false, Err: errors.New("HTTP 401")}
	}

	job := submit(t, h.manager(), h.job("a"))
	drain(t, job)
	result := job.Wait()

	if len(result.Failed) != 1 || result.Failed[0].Stage != model.StageFetch {
		t.Fatalf("Failed = %+v, want fetch failure", result.Failed)
	}
	if len(h.fetcher.sources) != 1 {
		t.Errorf("sources = %v, want a single attempt", h.fetcher.sources)
	}
}

func TestManager_CancelKeepsCompletedVideos(t *testing.T) {
	h := newHarness(t)
	h.opts.Concurrency = 1
	started := make(chan struct{})
	h.transcoder.block = map[string]chan struct{}{"v3": started}

	job := submit(t, h.manager(), h.job("v1", "v2", "v3", "v4"))

	var events collected
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		events = collect(job)
	}()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("third video never reached transcoding")
	}
	job.Cancel()
	job.Cancel()

	result := job.Wait()
	<-drained

	if !reflect.DeepEqual(result.Succeeded, []string{"v1", "v2"}) {
		t.Errorf("Succeeded = %v, want [v1 v2]", result.Succeeded)
	}
	if len(result.Failed) != 0 {
		t.Errorf("Failed = %+v, want none", result.Failed)
	}
	if !result.Cancelled {
		t.Error("Cancelled = false")
	}
	assertMonotonic(t, events.percents)
	for _, p := range events.percents {
		if p >= 100 {
			t.Errorf("percent reached %v on a cancelled job", p)
		}
	}
	if n := h.fetcher.callCount("v4"); n != 0 {
		t.Errorf("v4 fetched %d times after cancel", n)
	}
	if _, err := os.Stat(h.output("v3")); !os.IsNotExist(err) {
		t.Error("cancelled video should have no output")
	}
}

func TestManager_ContextCancelCancelsJob(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.transcoder.block = map[string]chan struct{}{"a": started}

	ctx, cancel := context.WithCancel(context.Background())
	job, err := h.manager().Submit(ctx, h.job("a"))
	if err != nil {
		t.Fatal(err)
	}
	go collect(job)

	<-started
	cancel()

	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not stop after context cancel")
	}
	if result := job.Wait(); !result.Cancelled || len(result.Succeeded) != 0 {
		t.Errorf("result = %+v, want cancelled with no successes", result)
	}
}

func TestManager_SlowConsumerKeepsAllErrors(t *testing.T) {
	h := newHarness(t)
	h.opts.EventBuffer = 1
	h.opts.Concurrency = 4

	var ids []string
	fail := make(map[string]bool)
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("v%02d", i)
		ids = append(ids, id)
		if i%2 == 0 {
			fail[id] = true
		}
	}
	h.transcoder.fail = fail

	job := submit(t, h.manager(), h.job(ids...))

	// Nobody reads until the job is finished.
	result := job.Wait()
	events := drain(t, job)

	if len(result.Failed) != 6 || len(result.Succeeded) != 6 {
		t.Fatalf("result = %d ok / %d failed, want 6 / 6", len(result.Succeeded), len(result.Failed))
	}
	if len(events.errors) != 6 {
		t.Errorf("got %d error events, want all 6", len(events.errors))
	}
	if len(events.percents) == 0 || events.percents[len(events.percents)-1] != 100 {
		t.Errorf("percents = %v, want the coalesced final 100", events.percents)
	}
	assertMonotonic(t, events.percents)
}

func TestManager_EmptyJob(t *testing.T) {
	h := newHarness(t)
	job := submit(t, h.manager(), h.job())

	events := drain(t, job)
	if !reflect.DeepEqual(events.percents, []float64{100}) {
		t.Errorf("percents = %v, want [100]", events.percents)
	}
	if result := job.Wait(); len(result.Succeeded)+len(result.Failed) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestManager_SubmitRejectsInvalidJob(t *testing.T) {
	h := newHarness(t)
	job := h.job("a", "a")

	if _, err := h.manager().Submit(context.Background(), job); !errors.Is(err, model.ErrDuplicateVideo) {
		t.Errorf("Submit() error = %v, want ErrDuplicateVideo", err)
	}
}

func TestManager_CacheIntrospection(t *testing.T) {
	h := newHarness(t)
	m := h.manager()

	job := submit(t, m, h.job("a"))
	drain(t, job)
	job.Wait()

	size, err := m.CacheSizeBytes()
	if err != nil || size == 0 {
		t.Fatalf("CacheSizeBytes() = %d, %v; want > 0", size, err)
	}
	if err := m.ClearCache(); err != nil {
		t.Fatal(err)
	}
	if size, err := m.CacheSizeBytes(); err != nil || size != 0 {
		t.Errorf("CacheSizeBytes() after clear = %d, %v; want 0", size, err)
	}
}

func TestManager_ConcurrencyLimit(t *testing.T) {
	tests := []struct {
		name        string
		concurrency int
	}{
		{name: "one at a time", concurrency: 1},
		{name: "two at a time", concurrency: 2},
		{name: "three at a time", concurrency: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.fetcher.delay = 30 * time.Millisecond
			h.opts.Concurrency = tt.concurrency

			job := submit(t, h.manager(), h.job("a", "b", "c", "d", "e", "f"))
			drain(t, job)
			result := job.Wait()

			if len(result.Succeeded) != 6 {
				t.Fatalf("Succeeded = %v, want all 6", result.Succeeded)
			}
			peak := h.fetcher.peakInFlight()
			if peak > tt.concurrency {
				t.Errorf("peak in-flight fetches = %d, want at most %d", peak, tt.concurrency)
			}
			if tt.concurrency > 1 && peak < 2 {
				t.Errorf("peak in-flight fetches = %d, want videos processed in parallel", peak)
			}
		})
	}
}

func TestManager_SameTopicOutputsDoNotCollide(t *testing.T) {
	h := newHarness(t)
	h.opts.Concurrency = 1

	job := h.job("A", "B")
	for i := range job.Videos {
		job.Videos[i].DisplayTopic = "Tutorial"
	}

	j := submit(t, h.manager(), job)
	drain(t, j)
	result := j.Wait()

	if !reflect.DeepEqual(result.Succeeded, []string{"A", "B"}) || len(result.Failed) != 0 {
		t.Fatalf("result = %+v, want both videos to succeed", result)
	}
	for _, id := range []string{"A", "B"} {
		if got := h.fetcher.callCount(id); got != 1 {
			t.Errorf("%s fetched %d times, want 1", id, got)
		}
	}
	for _, name := range []string{"Tutorial.mp4", "Tutorial_B.mp4"} {
		if _, err := os.Stat(filepath.Join(h.dest, "Subject", name)); err != nil {
			t.Errorf("output %s missing: %v", name, err)
		}
	}
}
