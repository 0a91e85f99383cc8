// Package fetch resolves clip and title-card source URLs and downloads them
// into a run's scoped working directory (spec §4.B).
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/hap/internal/haperrors"
)

// DefaultTimeout bounds a single fetch (spec §5).
const DefaultTimeout = 60 * time.Second

// Headers sent on every upstream request. The upstream media host rejects
// requests lacking a browser-like UA and matching origin/referer.
var headers = map[string]string{
	"User-Agent": "Mozilla/5.0 (compatible; HAP/1.0; +highlight-assembly-pipeline)",
	"Origin":     "https://www.mlb.com",
	"Referer":    "https://www.mlb.com/",
}

// Fetcher downloads source URLs into a scoped temp directory, caching by
// URL hash within that directory so repeated references to the same clip
// in one run don't re-download.
type Fetcher struct {
	logger     hclog.Logger
	httpClient *http.Client
	timeout    time.Duration

	mu    sync.Mutex
	cache map[string]string // url -> local path, scoped to one Fetcher instance
}

// New creates a Fetcher. One Fetcher should be scoped to a single run's
// working directory.
func New(logger hclog.Logger) *Fetcher {
	return &Fetcher{
		logger:     logger.Named("fetch"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		cache:      make(map[string]string),
	}
}

// Fetch resolves sourceURL (decoding a video-proxy wrapper if present),
// downloads it into destDir, and returns the local path. Writes are atomic
// (temp name, then rename) via renameio.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL, destDir string) (string, error) {
	resolved := normalizeURL(sourceURL)

	key := cacheKey(resolved)
	f.mu.Lock()
	if cached, ok := f.cache[key]; ok {
		f.mu.Unlock()
		return cached, nil
	}
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return "", haperrors.Network("fetch", err).WithDetail("url", resolved)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", haperrors.Network("fetch", err).WithDetail("url", resolved)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", haperrors.Upstream("fetch", resp.StatusCode).WithDetail("url", resolved)
	}

	ext := filepath.Ext(resolved)
	if ext == "" || len(ext) > 5 {
		ext = ".mp4"
	}
	destPath := filepath.Join(destDir, key+ext)

	if err := writeAtomic(destPath, resp.Body); err != nil {
		return "", haperrors.Network("fetch", err).WithDetail("url", resolved)
	}

	f.mu.Lock()
	f.cache[key] = destPath
	f.mu.Unlock()

	f.logger.Debug("fetched asset", "url", resolved, "path", destPath)
	return destPath, nil
}

// normalizeURL decodes a *video-proxy?url=<encoded> wrapper, returning the
// input URL unchanged otherwise.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if !strings.Contains(u.Path, "video-proxy") {
		return raw
	}
	inner := u.Query().Get("url")
	if inner == "" {
		return raw
	}
	decoded, err := url.QueryUnescape(inner)
	if err != nil {
		return raw
	}
	return decoded
}

func cacheKey(u string) string {
	sum := sha256.Sum256([]byte(u))
	return hex.EncodeToString(sum[:])[:32]
}

func writeAtomic(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	t, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, r); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return t.CloseAtomicallyReplace()
}
