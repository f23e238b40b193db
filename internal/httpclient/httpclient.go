// Package httpclient implements the concurrent, cache-aware, breaker-protected
// HTTP fetcher used to crawl OParl endpoints.
package httpclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/mandari/ingestor/internal/breaker"
	"github.com/mandari/ingestor/internal/metrics"
)

var tracer = otel.Tracer("github.com/mandari/ingestor/internal/httpclient")

// FetchResult carries the outcome of a single fetch.
type FetchResult struct {
	URL        string
	Data       map[string]any
	StatusCode int
	FromCache  bool
	Error      error
	Elapsed    time.Duration
}

// Page is one page of an OParl list response.
type Page struct {
	Items []map[string]any
	Err   error
}

// Config configures a Client.
type Config struct {
	MaxConcurrent  int
	RequestTimeout time.Duration
	WaitTime       time.Duration
	MaxRetries     int
	RetryBackoff   float64
	UserAgent      string
	BreakerEnabled bool
	BreakerConfig  breaker.Config
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 20
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 300 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2.0
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mandari-Ingestor/1.0 (+https://github.com/mandari)"
	}
	return c
}

// Client is a connection-pooled, concurrency-bounded OParl fetcher. One
// instance is created per orchestrator run; its caches and breaker registry
// are not shared across processes.
type Client struct {
	cfg    Config
	http   *http.Client
	sem    *semaphore.Weighted
	logger *slog.Logger
	m      *metrics.Collector

	breakers *breaker.Registry

	mu            sync.Mutex
	etagCache     map[string]string
	modifiedCache map[string]string
}

// New creates a Client. m may be nil in tests that don't care about metrics.
func New(cfg Config, logger *slog.Logger, m *metrics.Collector) *Client {
	cfg = cfg.withDefaults()
	reg := breaker.NewRegistry(cfg.BreakerConfig, func(name string, state breaker.State) {
		if m != nil {
			m.SetCircuitBreakerState(name, int(state))
		}
	})
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:        logger,
		m:             m,
		breakers:      reg,
		etagCache:     make(map[string]string),
		modifiedCache: make(map[string]string),
	}
}

// Breakers exposes the registry for the `circuit-breakers` CLI verb.
func (c *Client) Breakers() *breaker.Registry {
	return c.breakers
}

// Fetch retrieves a single URL, applying caching headers, the inter-request
// wait, retries with exponential backoff, and circuit-breaker protection.
func (c *Client) Fetch(ctx context.Context, rawURL string, useCache, skipWait bool) FetchResult {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return FetchResult{URL: rawURL, Error: fmt.Errorf("httpclient: acquire semaphore: %w", err)}
	}
	defer c.sem.Release(1)

	host := hostOf(rawURL)
	b := c.breakers.Get(host)

	if c.cfg.BreakerEnabled {
		if err := b.Allow(); err != nil {
			if c.m != nil {
				c.m.RecordHTTPError(host, "circuit_open")
			}
			c.logf("circuit breaker open, rejecting fetch", "host", host, "url", rawURL)
			return FetchResult{URL: rawURL, Error: fmt.Errorf("circuit breaker open for %q: %w", host, err)}
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		result := c.doFetch(ctx, rawURL, useCache, skipWait, host)

		switch {
		case result.Error == nil:
			if c.cfg.BreakerEnabled {
				b.RecordSuccess()
			}
			return result
		case result.StatusCode == http.StatusNotFound:
			// 404 is not a breaker failure and is not retried.
			return result
		case result.StatusCode >= 400 && result.StatusCode < 500:
			// Non-retryable client error.
			return result
		default:
			// Transient: timeout, 5xx, network error.
			lastErr = result.Error
			if c.cfg.BreakerEnabled {
				b.RecordFailure()
			}
			c.logf("fetch attempt failed, retrying", "url", rawURL, "attempt", attempt+1, "max_retries", c.cfg.MaxRetries, "err", result.Error)
		}

		if attempt < c.cfg.MaxRetries-1 {
			backoff := time.Duration(pow(c.cfg.RetryBackoff, attempt) * float64(time.Second))
			select {
			case <-ctx.Done():
				return FetchResult{URL: rawURL, Error: ctx.Err()}
			case <-time.After(backoff):
			}
		}
	}

	c.logf("fetch exhausted retries", "url", rawURL, "err", lastErr)
	return FetchResult{URL: rawURL, Error: fmt.Errorf("httpclient: max retries exceeded: %w", lastErr)}
}

func (c *Client) logf(msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg, args...)
}

func (c *Client) doFetch(ctx context.Context, rawURL string, useCache, skipWait bool, host string) FetchResult {
	ctx, span := tracer.Start(ctx, "httpclient.fetch", trace.WithAttributes(
		attribute.String("http.url", rawURL),
		attribute.String("server.address", host),
	))
	defer span.End()

	result := c.doFetchTraced(ctx, rawURL, useCache, skipWait, host)

	span.SetAttributes(attribute.Int("http.status_code", result.StatusCode))
	if result.Error != nil {
		span.SetStatus(codes.Error, result.Error.Error())
	}
	return result
}

func (c *Client) doFetchTraced(ctx context.Context, rawURL string, useCache, skipWait bool, host string) FetchResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{URL: rawURL, Error: fmt.Errorf("httpclient: build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	if useCache {
		c.mu.Lock()
		if etag, ok := c.etagCache[rawURL]; ok {
			req.Header.Set("If-None-Match", etag)
		}
		if modified, ok := c.modifiedCache[rawURL]; ok {
			req.Header.Set("If-Modified-Since", modified)
		}
		c.mu.Unlock()
	}

	if !skipWait && c.cfg.WaitTime > 0 {
		select {
		case <-ctx.Done():
			return FetchResult{URL: rawURL, Error: ctx.Err()}
		case <-time.After(c.cfg.WaitTime):
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		errType := "request_error"
		if errors.Is(err, context.DeadlineExceeded) {
			errType = "timeout"
		}
		if c.m != nil {
			c.m.RecordHTTPError(host, errType)
		}
		return FetchResult{URL: rawURL, Error: fmt.Errorf("httpclient: do request: %w", err), Elapsed: elapsed}
	}
	defer func() { _ = resp.Body.Close() }()

	fromCache := resp.StatusCode == http.StatusNotModified
	if c.m != nil {
		c.m.RecordHTTPRequest(host, resp.StatusCode, elapsed)
		if fromCache {
			c.m.RecordCacheHit(host)
		}
	}

	if fromCache {
		return FetchResult{URL: rawURL, StatusCode: http.StatusNotModified, FromCache: true, Elapsed: elapsed}
	}

	if resp.StatusCode == http.StatusNotFound {
		return FetchResult{URL: rawURL, StatusCode: http.StatusNotFound, Elapsed: elapsed}
	}

	if resp.StatusCode >= 500 {
		if c.m != nil {
			c.m.RecordHTTPError(host, fmt.Sprintf("http_%d", resp.StatusCode))
		}
		return FetchResult{
			URL: rawURL, StatusCode: resp.StatusCode, Elapsed: elapsed,
			Error: fmt.Errorf("httpclient: server error %d", resp.StatusCode),
		}
	}

	if resp.StatusCode >= 400 {
		return FetchResult{
			URL: rawURL, StatusCode: resp.StatusCode, Elapsed: elapsed,
			Error: fmt.Errorf("httpclient: client error %d", resp.StatusCode),
		}
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		c.mu.Lock()
		c.etagCache[rawURL] = etag
		c.mu.Unlock()
	}
	if modified := resp.Header.Get("Last-Modified"); modified != "" {
		c.mu.Lock()
		c.modifiedCache[rawURL] = modified
		c.mu.Unlock()
	}

	var data map[string]any
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{URL: rawURL, StatusCode: resp.StatusCode, Elapsed: elapsed, Error: fmt.Errorf("httpclient: read body: %w", err)}
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			return FetchResult{URL: rawURL, StatusCode: resp.StatusCode, Elapsed: elapsed, Error: fmt.Errorf("httpclient: decode json: %w", err)}
		}
	}

	return FetchResult{URL: rawURL, StatusCode: resp.StatusCode, Data: data, Elapsed: elapsed}
}

// FetchSystem fetches the OParl system entry point, skipping cache and the
// inter-request wait (used for bootstrap and the test-connection verb).
func (c *Client) FetchSystem(ctx context.Context, rawURL string) FetchResult {
	return c.Fetch(ctx, rawURL, false, true)
}

// FetchMany fetches multiple URLs concurrently, preserving input order.
func (c *Client) FetchMany(ctx context.Context, urls []string) []FetchResult {
	results := make([]FetchResult, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(idx int, target string) {
			defer wg.Done()
			results[idx] = c.Fetch(ctx, target, true, false)
		}(i, u)
	}
	wg.Wait()
	return results
}

// FetchList iterates a paginated OParl list, sending one page at a time on
// the returned channel. The channel closes when the list is exhausted, an
// error occurs, maxPages is reached (0 means unbounded), or ctx is done.
func (c *Client) FetchList(ctx context.Context, rawURL string, maxPages int) <-chan Page {
	out := make(chan Page)
	go func() {
		defer close(out)

		currentURL := rawURL
		pages := 0
		for currentURL != "" {
			result := c.Fetch(ctx, currentURL, false, false)
			if result.Error != nil {
				out <- Page{Err: result.Error}
				return
			}
			if result.Data == nil {
				return
			}

			items := extractItems(result.Data)
			pages++
			if len(items) > 0 {
				select {
				case out <- Page{Items: items}:
				case <-ctx.Done():
					return
				}
			}

			if maxPages > 0 && pages >= maxPages {
				return
			}

			currentURL = nextLink(result.Data)
		}
	}()
	return out
}

func extractItems(data map[string]any) []map[string]any {
	raw, ok := data["data"].([]any)
	if !ok {
		return nil
	}
	items := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items
}

func nextLink(data map[string]any) string {
	links, ok := data["links"].(map[string]any)
	if !ok {
		return ""
	}
	next, _ := links["next"].(string)
	return next
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// URLHash returns the SHA-256 of a URL truncated to 8 hex characters. The
// client's ETag and Last-Modified caches are keyed by the full URL, not by
// this hash.
func URLHash(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:8]
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
