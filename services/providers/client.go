package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"etf_dashboard/logger"
	"etf_dashboard/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 15 * time.Second
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodyBytes   = 8 << 20
)

// httpGetter is the HTTP plumbing shared by every provider.
type httpGetter struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// Option configures a provider client.
type Option func(*httpGetter)

// WithBaseURL overrides the API host, used by tests.
func WithBaseURL(baseURL string) Option {
	return func(g *httpGetter) {
		g.baseURL = baseURL
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *httpGetter) {
		g.httpClient = c
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(g *httpGetter) {
		g.httpClient.Timeout = timeout
	}
}

// WithRateLimit sets the sustained request rate and burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(g *httpGetter) {
		g.limiter = rate.NewLimiter(limit, burst)
	}
}

func newHTTPGetter(name, baseURL string, limit rate.Limit, burst int, opts []Option) httpGetter {
	g := httpGetter{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.With("provider." + name),
	}
	for _, opt := range opts {
		opt(&g)
	}
	return g
}

// get performs a rate-limited GET and returns the body of a 2xx response.
func (g *httpGetter) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit wait: %w", g.name, err)
	}

	reqURL := g.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		g.logger.Debug().Err(err).Str("path", path).Dur("elapsed", elapsed).Msg("Request failed")
		return nil, fmt.Errorf("%s request: %w", g.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", g.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 400:
		g.logger.Warn().Str("path", path).Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("Non-OK response")
		return nil, fmt.Errorf("%s: unexpected status %d", g.name, resp.StatusCode)
	}

	g.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("Request completed")
	return body, nil
}

func (g *httpGetter) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	body, err := g.get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: %s decode: %v", ErrInvalidData, g.name, err)
	}
	return nil
}

// observe records the outcome of a provider operation.
func observe(provider, operation string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrRateLimited):
		outcome = "rate_limited"
	case errors.Is(err, ErrInvalidData):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	metrics.ProviderRequest(provider, operation, outcome)
}
