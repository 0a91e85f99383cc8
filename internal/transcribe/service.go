// Package transcribe implements the Transcription Service (spec §4.C): it
// turns a clip's source URL into a time-aligned word list and duration,
// backed by a durable cache and coalescing concurrent callers for the same
// URL through a single-flight table.
package transcribe

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	"golang.org/x/text/unicode/norm"

	"github.com/mantonx/hap/internal/cache"
	"github.com/mantonx/hap/internal/fetch"
	"github.com/mantonx/hap/internal/haperrors"
	"github.com/mantonx/hap/internal/mediatool"
	"github.com/mantonx/hap/internal/metrics"
	"github.com/mantonx/hap/internal/model"
)

// DefaultTimeout bounds a single transcription call end to end (spec §5).
const DefaultTimeout = 120 * time.Second

// Result is the Transcription Service's output for one clip.
type Result struct {
	Words    []model.Word
	Duration float64
}

// Service is the Transcription Service. One Service instance is shared
// across an entire process (its cache and single-flight group are the only
// mutable shared state in the system, per spec §5).
type Service struct {
	logger    hclog.Logger
	providers []Provider // first is primary, rest are fallbacks in order
	store     cache.Store
	ttl       time.Duration
	maxEntries int

	fetcher   *fetch.Fetcher
	media     *mediatool.Adapter
	workDir   string

	sf       singleflight.Group
	limiters map[string]*rate.Limiter // per-provider submission rate limit

	metrics *metrics.Metrics
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithMetrics attaches the process-wide Metrics instance so cache hits and
// misses are recorded (SPEC_FULL.md §C).
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Config configures a Service.
type Config struct {
	TTL              time.Duration
	MaxEntries       int
	WorkDir          string          // scratch dir for audio extraction; caller-owned
	ProviderRateHz   float64         // sustained submissions/sec per provider; 0 disables limiting
}

// New creates a Transcription Service. providers[0] is primary; the rest
// are tried in order as fallbacks.
func New(logger hclog.Logger, providers []Provider, store cache.Store, fetcher *fetch.Fetcher, media *mediatool.Adapter, cfg Config, opts ...Option) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = cache.DefaultMaxEntries
	}

	limiters := make(map[string]*rate.Limiter, len(providers))
	for _, p := range providers {
		if cfg.ProviderRateHz > 0 {
			limiters[p.Name()] = rate.NewLimiter(rate.Limit(cfg.ProviderRateHz), 1)
		}
	}

	svc := &Service{
		logger:     logger.Named("transcribe"),
		providers:  providers,
		store:      store,
		ttl:        ttl,
		maxEntries: maxEntries,
		fetcher:    fetcher,
		media:      media,
		workDir:    cfg.WorkDir,
		limiters:   limiters,
	}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// Transcribe returns the word-level transcription and duration for
// sourceURL, consulting the cache first and coalescing concurrent callers
// for the same URL so at most one provider submission is in flight at a
// time (spec §4.C, §8 invariant 7).
func (s *Service) Transcribe(ctx context.Context, sourceURL string) (Result, error) {
	if entry, ok, err := s.store.Get(ctx, sourceURL, s.ttl); err != nil {
		return Result{}, haperrors.Internal("transcribe.cache_get", err)
	} else if ok {
		s.recordCacheHit()
		return Result{Words: entry.Words, Duration: entry.Duration}, nil
	}
	s.recordCacheMiss()

	v, err, _ := s.sf.Do(sourceURL, func() (interface{}, error) {
		return s.transcribeUncached(ctx, sourceURL)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (s *Service) transcribeUncached(ctx context.Context, sourceURL string) (Result, error) {
	// Re-check: another caller may have populated the cache while we waited
	// to acquire the single-flight slot under contention on a slightly
	// different key ordering.
	if entry, ok, err := s.store.Get(ctx, sourceURL, s.ttl); err == nil && ok {
		s.recordCacheHit()
		return Result{Words: entry.Words, Duration: entry.Duration}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	localPath, err := s.fetcher.Fetch(ctx, sourceURL, s.workDir)
	if err != nil {
		return Result{}, err
	}

	audioPath := filepath.Join(s.workDir, fmt.Sprintf("audio-%s.wav", shortHash(sourceURL)))
	if err := s.media.ExtractAudio(ctx, localPath, audioPath); err != nil {
		return Result{}, err
	}
	defer os.Remove(audioPath)

	probe, err := s.media.Probe(ctx, audioPath)
	if err != nil {
		return Result{}, err
	}

	audioBytes, err := os.ReadFile(audioPath)
	if err != nil {
		return Result{}, haperrors.Internal("transcribe.read_audio", err)
	}

	resp, providerName, err := s.submitToProviders(ctx, audioBytes)
	if err != nil {
		return Result{}, err
	}

	words := normalizeWords(resp.Words)
	duration := resp.Duration
	if duration <= 0 {
		duration = probe.Duration
	}

	s.logger.Info("transcribed clip", "provider", providerName, "words", len(words), "duration", duration)

	if err := s.store.Put(ctx, model.TranscriptionCacheEntry{
		SourceURL: sourceURL,
		Words:     words,
		Duration:  duration,
	}, s.maxEntries); err != nil {
		s.logger.Warn("failed to persist transcription cache entry", "url", sourceURL, "error", err)
	}

	return Result{Words: words, Duration: duration}, nil
}

// submitToProviders tries each configured provider in order (primary then
// fallbacks), retrying each at most once, per spec §4.C step 4.
func (s *Service) submitToProviders(ctx context.Context, audio []byte) (ProviderResponse, string, error) {
	if len(s.providers) == 0 {
		return ProviderResponse{}, "", haperrors.Transcription("submit", haperrors.ErrBothProvidersFailed)
	}

	var lastErr error
	for _, p := range s.providers {
		if limiter, ok := s.limiters[p.Name()]; ok {
			if err := limiter.Wait(ctx); err != nil {
				lastErr = err
				continue
			}
		}

		resp, err := p.Transcribe(ctx, audio, "audio/wav", "en")
		if err == nil {
			return resp, p.Name(), nil
		}
		s.logger.Warn("provider submission failed, retrying once", "provider", p.Name(), "error", err)

		resp, err = p.Transcribe(ctx, audio, "audio/wav", "en")
		if err == nil {
			return resp, p.Name(), nil
		}
		s.logger.Warn("provider failed after retry, falling back", "provider", p.Name(), "error", err)
		lastErr = err
	}

	return ProviderResponse{}, "", haperrors.Transcription("submit", fmt.Errorf("%w: %v", haperrors.ErrBothProvidersFailed, lastErr))
}

// normalizeWords converts provider words to model.Word: NFC-normalizes text
// and derives confidence from log-probability when confidence wasn't given
// directly (spec §4.C step 5).
func normalizeWords(words []ProviderWord) []model.Word {
	out := make([]model.Word, 0, len(words))
	for _, w := range words {
		conf := 1.0
		switch {
		case w.Confidence != nil:
			conf = clamp01(*w.Confidence)
		case w.LogProb != nil:
			conf = clamp01(logProbToConfidence(*w.LogProb))
		}
		out = append(out, model.Word{
			Text:       norm.NFC.String(w.Text),
			Start:      w.Start,
			End:        w.End,
			Confidence: conf,
		})
	}
	return out
}

// logProbToConfidence maps a natural-log probability (<=0) onto [0,1] via
// exp, the standard conversion when a provider reports log-likelihood
// instead of a calibrated confidence score.
func logProbToConfidence(logProb float64) float64 {
	if logProb > 0 {
		logProb = 0
	}
	return math.Exp(logProb)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func (s *Service) recordCacheHit() {
	if s.metrics != nil {
		s.metrics.CacheHits.Inc()
	}
}

func (s *Service) recordCacheMiss() {
	if s.metrics != nil {
		s.metrics.CacheMisses.Inc()
	}
}

func shortHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}
