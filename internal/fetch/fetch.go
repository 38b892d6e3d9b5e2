// Package fetch acquires page HTML over plain HTTP or through a headless
// browser, escalating to the browser when the HTTP body looks like a
// script-rendered shell.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxBody = 10 << 20

// Page is a fetched document.
type Page struct {
	URL        string
	HTML       []byte
	StatusCode int
	// Via names the path that produced HTML: "http" or "browser".
	Via string
}

// Fetcher acquires the HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

// HTTP performs a single GET with no script execution.
type HTTP struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

type Option func(*HTTP)

func WithClient(c *http.Client) Option {
	return func(f *HTTP) { f.client = c }
}

func WithUserAgent(ua string) Option {
	return func(f *HTTP) { f.ua = ua }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *HTTP) { f.logger = l }
}

func NewHTTP(opts ...Option) *HTTP {
	f := &HTTP{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; PageTran/1.0)",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *HTTP) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch: %s returned status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	f.logger.Debug("fetched", "url", pageURL, "status", resp.StatusCode, "size", len(body))

	return &Page{URL: pageURL, HTML: body, StatusCode: resp.StatusCode, Via: "http"}, nil
}
