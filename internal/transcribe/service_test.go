package transcribe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/hap/internal/metrics"
	"github.com/mantonx/hap/internal/model"
)

// fakeStore is an in-memory cache.Store stand-in so Transcribe's cache-hit
// path can be exercised without a real database.
type fakeStore struct {
	entries map[string]model.TranscriptionCacheEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[string]model.TranscriptionCacheEntry{}}
}

func (f *fakeStore) Get(_ context.Context, sourceURL string, ttl time.Duration) (model.TranscriptionCacheEntry, bool, error) {
	e, ok := f.entries[sourceURL]
	if !ok {
		return model.TranscriptionCacheEntry{}, false, nil
	}
	if time.Since(e.CreatedAt) > ttl {
		return model.TranscriptionCacheEntry{}, false, nil
	}
	return e, true, nil
}

func (f *fakeStore) Put(_ context.Context, entry model.TranscriptionCacheEntry, _ int) error {
	entry.CreatedAt = time.Now()
	f.entries[entry.SourceURL] = entry
	return nil
}

func (f *fakeStore) Count(context.Context) (int, error) { return len(f.entries), nil }
func (f *fakeStore) Clear(context.Context) error        { f.entries = map[string]model.TranscriptionCacheEntry{}; return nil }
func (f *fakeStore) Close() error                       { return nil }

func discardLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{Output: nil, Level: hclog.Off})
}

func TestTranscribe_CacheHitSkipsProvidersAndFetcher(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Put(context.Background(), model.TranscriptionCacheEntry{
		SourceURL: "https://example.com/clip.mp4",
		Words:     []model.Word{{Text: "play", Start: 0, End: 0.3, Confidence: 1}},
		Duration:  9,
	}, 0))

	svc := New(discardLogger(), nil, store, nil, nil, Config{})

	res, err := svc.Transcribe(context.Background(), "https://example.com/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, 9.0, res.Duration)
	require.Len(t, res.Words, 1)
	assert.Equal(t, "play", res.Words[0].Text)
}

func TestTranscribe_RecordsCacheHitAndMissMetrics(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Put(context.Background(), model.TranscriptionCacheEntry{
		SourceURL: "https://example.com/clip.mp4",
		Words:     []model.Word{{Text: "play", Start: 0, End: 0.3, Confidence: 1}},
		Duration:  9,
	}, 0))

	m := metrics.New(prometheus.NewRegistry())
	svc := New(discardLogger(), nil, store, nil, nil, Config{}, WithMetrics(m))

	_, err := svc.Transcribe(context.Background(), "https://example.com/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheMisses))

	svc.recordCacheMiss()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))
}

// stubProvider lets tests control success/failure per call without a real
// transcription backend.
type stubProvider struct {
	name    string
	calls   int32
	fail    int32 // number of leading calls that fail
	resp    ProviderResponse
	failErr error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Transcribe(context.Context, []byte, string, string) (ProviderResponse, error) {
	n := atomic.AddInt32(&p.calls, 1)
	if n <= p.fail {
		return ProviderResponse{}, p.failErr
	}
	return p.resp, nil
}

func TestSubmitToProviders_UsesPrimaryOnSuccess(t *testing.T) {
	primary := &stubProvider{name: "primary", resp: ProviderResponse{Duration: 5}}
	fallback := &stubProvider{name: "fallback", resp: ProviderResponse{Duration: 99}}

	svc := New(discardLogger(), []Provider{primary, fallback}, newFakeStore(), nil, nil, Config{})

	resp, name, err := svc.submitToProviders(context.Background(), []byte("audio"))
	require.NoError(t, err)
	assert.Equal(t, "primary", name)
	assert.Equal(t, 5.0, resp.Duration)
	assert.EqualValues(t, 0, fallback.calls, "fallback should never be called when primary succeeds")
}

func TestSubmitToProviders_RetriesPrimaryOnceBeforeFallback(t *testing.T) {
	primary := &stubProvider{name: "primary", fail: 2, failErr: errors.New("primary down")}
	fallback := &stubProvider{name: "fallback", resp: ProviderResponse{Duration: 3}}

	svc := New(discardLogger(), []Provider{primary, fallback}, newFakeStore(), nil, nil, Config{})

	resp, name, err := svc.submitToProviders(context.Background(), []byte("audio"))
	require.NoError(t, err)
	assert.Equal(t, "fallback", name)
	assert.Equal(t, 3.0, resp.Duration)
	assert.EqualValues(t, 2, primary.calls, "primary should be tried, then retried once, before falling back")
}

func TestSubmitToProviders_AllProvidersFailReturnsError(t *testing.T) {
	primary := &stubProvider{name: "primary", fail: 2, failErr: errors.New("down")}
	svc := New(discardLogger(), []Provider{primary}, newFakeStore(), nil, nil, Config{})

	_, _, err := svc.submitToProviders(context.Background(), []byte("audio"))
	assert.Error(t, err)
}

func TestSubmitToProviders_NoProvidersConfiguredIsAnError(t *testing.T) {
	svc := New(discardLogger(), nil, newFakeStore(), nil, nil, Config{})
	_, _, err := svc.submitToProviders(context.Background(), []byte("audio"))
	assert.Error(t, err)
}

func TestNormalizeWords_PrefersExplicitConfidenceOverLogProb(t *testing.T) {
	conf := 0.42
	logProb := -0.1
	words := normalizeWords([]ProviderWord{
		{Text: "a", Confidence: &conf, LogProb: &logProb},
	})
	require.Len(t, words, 1)
	assert.Equal(t, 0.42, words[0].Confidence)
}

func TestNormalizeWords_DerivesConfidenceFromLogProb(t *testing.T) {
	logProb := -0.2
	words := normalizeWords([]ProviderWord{{Text: "b", LogProb: &logProb}})
	require.Len(t, words, 1)
	assert.InDelta(t, logProbToConfidence(-0.2), words[0].Confidence, 1e-9)
}

func TestNormalizeWords_DefaultsToFullConfidenceWhenUnspecified(t *testing.T) {
	words := normalizeWords([]ProviderWord{{Text: "c"}})
	require.Len(t, words, 1)
	assert.Equal(t, 1.0, words[0].Confidence)
}

func TestLogProbToConfidence_ClampsPositiveLogProbToZero(t *testing.T) {
	assert.Equal(t, 1.0, logProbToConfidence(0.5))
}

func TestLogProbToConfidence_MonotonicWithMagnitude(t *testing.T) {
	assert.Greater(t, logProbToConfidence(-0.1), logProbToConfidence(-2.0))
}

func TestClamp01_BoundsInput(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-1))
	assert.Equal(t, 1.0, clamp01(2))
	assert.Equal(t, 0.5, clamp01(0.5))
}

func TestShortHash_DeterministicAndDistinct(t *testing.T) {
	a := shortHash("https://example.com/a.mp4")
	b := shortHash("https://example.com/b.mp4")
	again := shortHash("https://example.com/a.mp4")

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 8)
}
