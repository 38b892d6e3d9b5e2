package fetch

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	ModeAuto    = "auto"
	ModeHTTP    = "http"
	ModeBrowser = "browser"
)

// Auto tries HTTP first and escalates to Browser when the body is not
// sufficient.
type Auto struct {
	HTTP    Fetcher
	Browser Fetcher
	Logger  *slog.Logger
}

func (a *Auto) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	page, err := a.HTTP.Fetch(ctx, pageURL)
	if err == nil && IsSufficient(page.HTML) {
		return page, nil
	}
	if a.Browser == nil {
		return page, err
	}

	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("escalating to browser", "url", pageURL, "http_error", err)

	rendered, berr := a.Browser.Fetch(ctx, pageURL)
	if berr != nil {
		if err == nil {
			// The thin HTTP body is still better than nothing.
			logger.Warn("browser fetch failed, using HTTP body", "url", pageURL, "error", berr)
			return page, nil
		}
		return nil, berr
	}
	return rendered, nil
}

// New builds the fetcher for mode.
func New(mode string, h *HTTP, b *Browser, logger *slog.Logger) (Fetcher, error) {
	switch mode {
	case ModeHTTP:
		return h, nil
	case ModeBrowser:
		if b == nil {
			return nil, fmt.Errorf("fetch: browser mode needs a browser")
		}
		return b, nil
	case ModeAuto, "":
		a := &Auto{HTTP: h, Logger: logger}
		if b != nil {
			a.Browser = b
		}
		return a, nil
	default:
		return nil, fmt.Errorf("fetch: unknown mode %q", mode)
	}
}
