package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DTeam-Top/docpilot/internal/cache"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	sets    int
}

type memEntry struct {
	artifact string
	meta     cache.Metadata
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]memEntry{}}
}

func (m *memCache) Get(kind, sourceID string) (string, cache.Metadata, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[kind+"|"+sourceID]
	return e.artifact, e.meta, ok, nil
}

func (m *memCache) Set(kind, sourceID, artifact string, meta cache.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[kind+"|"+sourceID] = memEntry{artifact: artifact, meta: meta}
	m.sets++
	return nil
}

type recordingWatcher struct {
	mu      sync.Mutex
	watched []string
}

func (w *recordingWatcher) Watch(sourceID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched = append(w.watched, sourceID)
	return nil
}

func newTestService(client *fakeClient, store ArtifactCache, w SourceWatcher) *Service {
	log := slog.New(slog.DiscardHandler)
	return NewService(NewProcessor(log, WithRetryBase(1)), client, store, w, log)
}

func TestAnalyze_UnknownKind(t *testing.T) {
	svc := newTestService(&fakeClient{maxTokens: 8192}, newMemCache(), nil)
	_, err := svc.Analyze(context.Background(), Request{SourceID: "/tmp/a.txt", Kind: Kind("poem")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown artifact kind")
}

func TestAnalyze_MissThenHit(t *testing.T) {
	client := &fakeClient{maxTokens: 8192, handler: func(int, string) (string, error) {
		return "the summary", nil
	}}
	store := newMemCache()
	watch := &recordingWatcher{}
	svc := newTestService(client, store, watch)

	req := Request{SourceID: "/docs/report.txt", DisplayName: "report.txt", Text: "Quarterly numbers.", Kind: KindSummary}

	first, err := svc.Analyze(context.Background(), req, nil)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "the summary", first.Text)
	assert.Equal(t, 1, client.calls())
	assert.Equal(t, []string{"/docs/report.txt"}, watch.watched)

	second, err := svc.Analyze(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "the summary", second.Text)
	assert.Equal(t, StrategyEnhanced, second.StrategyUsed)
	assert.Equal(t, len(req.Text), second.TextLength)
	assert.Equal(t, 1, client.calls(), "cache hit must not reprocess")
}

// Artifact kinds cache independently: a cached summary never answers an
// outline request for the same source.
func TestAnalyze_KindsAreIndependent(t *testing.T) {
	client := &fakeClient{maxTokens: 8192, handler: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, "mermaid") {
			return "```mermaid\nmindmap\n  root((R))\n```", nil
		}
		return "prose summary", nil
	}}
	store := newMemCache()
	svc := newTestService(client, store, nil)

	base := Request{SourceID: "/docs/r.txt", DisplayName: "r.txt", Text: "Body text here."}

	sum := base
	sum.Kind = KindSummary
	res, err := svc.Analyze(context.Background(), sum, nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)

	out := base
	out.Kind = KindOutline
	res, err = svc.Analyze(context.Background(), out, nil)
	require.NoError(t, err)
	assert.False(t, res.Cached, "outline request must not be served by the cached summary")
	assert.Equal(t, "mindmap\n  root((R))", res.Text)
	assert.Equal(t, 2, client.calls())

	res, err = svc.Analyze(context.Background(), out, nil)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 2, client.calls())
}

func TestAnalyze_CancelledRunIsNotCached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{maxTokens: 8192, handler: func(int, string) (string, error) {
		return "never used", nil
	}}
	store := newMemCache()
	svc := newTestService(client, store, nil)

	res, err := svc.Analyze(ctx, Request{SourceID: "/docs/x.txt", Text: "content", Kind: KindSummary}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Kind)
	assert.Equal(t, 0, store.sets)
}

func TestAnalyze_ExcerptResultIsNotCached(t *testing.T) {
	client := &fakeClient{maxTokens: 8192, handler: func(call int, prompt string) (string, error) {
		if call == 0 {
			return "I cannot assist with that request.", nil
		}
		return "excerpt take", nil
	}}
	store := newMemCache()
	svc := newTestService(client, store, nil)

	res, err := svc.Analyze(context.Background(), Request{SourceID: "/docs/x.txt", Text: "content body", Kind: KindSummary}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExcerpt, res.Kind)
	assert.Equal(t, 0, store.sets, "excerpt-tier results must be regenerated next time")
}

func TestAnalyze_RemoteSourceSkipsNilWatcher(t *testing.T) {
	client := &fakeClient{maxTokens: 8192, handler: func(int, string) (string, error) {
		return "ok", nil
	}}
	svc := newTestService(client, newMemCache(), nil)

	_, err := svc.Analyze(context.Background(), Request{SourceID: "https://example.com/doc", Text: "body", Kind: KindSummary}, nil)
	require.NoError(t, err)
}

// Concurrent identical requests share one pipeline run.
func TestAnalyze_SingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	client := &fakeClient{maxTokens: 8192, handler: func(int, string) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return "shared result", nil
	}}
	store := newMemCache()
	svc := newTestService(client, store, nil)
	req := Request{SourceID: "/docs/big.txt", DisplayName: "big.txt", Text: "shared body", Kind: KindSummary}

	const callers = 4
	results := make(chan Response, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Analyze(context.Background(), req, nil)
			results <- res
			errs <- err
		}()
		if i == 0 {
			<-started // leader is in flight before joiners arrive
		}
	}
	close(release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for res := range results {
		assert.Equal(t, "shared result", res.Text)
	}
	assert.Equal(t, 1, client.calls(), "joiners must not trigger extra model calls")
	assert.Equal(t, 1, store.sets)
}
