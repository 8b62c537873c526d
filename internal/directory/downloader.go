package directory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"

	"github.com/impactledger/impact-ingest/internal/httpclient"
)

const (
	// CacheFileName is the cached payload inside the cache directory
	CacheFileName = "corpCode.zip"

	// DefaultCacheTTL is how long a cached payload is used without downloading
	DefaultCacheTTL = 7 * 24 * time.Hour

	// DefaultAttempts is the total number of download attempts
	DefaultAttempts = 3

	// DefaultBaseDelay is the first pause between download attempts
	DefaultBaseDelay = 2 * time.Second

	// DefaultMaxDelay caps the pause between download attempts
	DefaultMaxDelay = 15 * time.Second

	directoryPath = "/api/corpCode.xml"
)

// Downloader fetches the directory over HTTP and keeps the last good payload on disk
type Downloader struct {
	client     httpclient.Client
	baseURL    string
	apiKey     string
	memberName string
	cacheDir   string
	cacheTTL   time.Duration
	attempts   int
	baseDelay  time.Duration
	maxDelay   time.Duration
	now        func() time.Time
}

// DownloaderOption configures a Downloader
type DownloaderOption func(*Downloader)

// WithCacheDir enables the on-disk payload cache in dir
func WithCacheDir(dir string) DownloaderOption {
	return func(d *Downloader) {
		d.cacheDir = dir
	}
}

// WithCacheTTL sets how long a cached payload stays fresh
func WithCacheTTL(ttl time.Duration) DownloaderOption {
	return func(d *Downloader) {
		d.cacheTTL = ttl
	}
}

// WithMemberName sets the expected member name inside the archive
func WithMemberName(name string) DownloaderOption {
	return func(d *Downloader) {
		if name != "" {
			d.memberName = name
		}
	}
}

// WithRetry sets the attempt count and the exponential delay bounds
func WithRetry(attempts int, baseDelay, maxDelay time.Duration) DownloaderOption {
	return func(d *Downloader) {
		if attempts > 0 {
			d.attempts = attempts
		}
		d.baseDelay = baseDelay
		d.maxDelay = maxDelay
	}
}

// WithClock overrides the time source used for cache freshness
func WithClock(now func() time.Time) DownloaderOption {
	return func(d *Downloader) {
		d.now = now
	}
}

// NewDownloader creates a Downloader for the directory at baseURL
func NewDownloader(client httpclient.Client, baseURL, apiKey string, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client:     client,
		baseURL:    baseURL,
		apiKey:     apiKey,
		memberName: DefaultMemberName,
		cacheTTL:   DefaultCacheTTL,
		attempts:   DefaultAttempts,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FetchEntities returns the directory, preferring a fresh cache, then a download,
// then a stale cache
func (d *Downloader) FetchEntities(ctx context.Context) ([]Entity, error) {
	if cached, modTime, ok := d.readCache(); ok && d.now().Sub(modTime) < d.cacheTTL {
		result, err := Parse(cached, d.memberName)
		if err == nil {
			slog.InfoContext(ctx, "Using cached entity directory",
				"path", d.cachePath(),
				"entities", len(result.Entities),
				"age", d.now().Sub(modTime).Round(time.Second).String(),
			)
			return result.Entities, nil
		}
		slog.WarnContext(ctx, "Cached entity directory is unusable, downloading", "error", err)
	}

	result, downloadErr := d.downloadAndParse(ctx)
	if downloadErr == nil {
		return result.Entities, nil
	}

	if cached, modTime, ok := d.readCache(); ok {
		if stale, err := Parse(cached, d.memberName); err == nil {
			slog.WarnContext(ctx, "Directory download failed, using stale cache",
				"error", downloadErr,
				"path", d.cachePath(),
				"cached_at", modTime,
			)
			return stale.Entities, nil
		}
	}

	return nil, fetchError(downloadErr, "failed to fetch entity directory")
}

func (d *Downloader) downloadAndParse(ctx context.Context) (*ParseResult, error) {
	body, err := d.download(ctx)
	if err != nil {
		return nil, err
	}

	result, err := Parse(body, d.memberName)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Downloaded entity directory",
		"bytes", len(body),
		"entities", len(result.Entities),
		"skipped", result.Skipped,
	)

	if err := d.writeCache(body); err != nil {
		slog.WarnContext(ctx, "Failed to cache entity directory", "error", err)
	}
	return result, nil
}

func (d *Downloader) download(ctx context.Context) ([]byte, error) {
	endpoint := d.baseURL + directoryPath + "?" + url.Values{"crtfc_key": {d.apiKey}}.Encode()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.baseDelay
	policy.MaxInterval = d.maxDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.2

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		body, err := d.client.Get(ctx, endpoint)
		if err != nil {
			if !isRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return body, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(d.attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.WarnContext(ctx, "Directory download failed, retrying",
				"attempt", attempt,
				"max_attempts", d.attempts,
				"wait", wait.String(),
				"error", err,
			)
		}),
	)
}

// isRetryable rejects client errors other than timeouts and throttling
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		code := httpErr.StatusCode
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return false
		}
	}
	return true
}

func (d *Downloader) cachePath() string {
	if d.cacheDir == "" {
		return ""
	}
	return filepath.Join(d.cacheDir, CacheFileName)
}

func (d *Downloader) readCache() ([]byte, time.Time, bool) {
	p := d.cachePath()
	if p == "" {
		return nil, time.Time{}, false
	}
	info, err := os.Stat(p)
	if err != nil || info.Size() == 0 {
		return nil, time.Time{}, false
	}
	// #nosec G304 -- path is the configured cache directory plus a constant file name
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, time.Time{}, false
	}
	return data, info.ModTime(), true
}

func (d *Downloader) writeCache(data []byte) error {
	p := d.cachePath()
	if p == "" {
		return nil
	}
	if err := os.MkdirAll(d.cacheDir, 0750); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tempPath := p + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary cache file: %w", err)
	}
	if err := os.Rename(tempPath, p); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}
