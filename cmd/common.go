/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/valpere/pagetran/internal/config"
	"github.com/valpere/pagetran/internal/dispatch"
	"github.com/valpere/pagetran/internal/fetch"
	"github.com/valpere/pagetran/internal/pipeline"
	"github.com/valpere/pagetran/internal/reconcile"
	"github.com/valpere/pagetran/internal/store"
	"github.com/valpere/pagetran/internal/translator"
)

// buildService constructs the named translation service behind a circuit
// breaker.
func buildService(name string, c *config.Config, logger *slog.Logger) (translator.TranslationService, error) {
	p := c.Provider

	var svc translator.TranslationService
	switch name {
	case "amazon":
		svc = translator.NewAmazonService()
	case "google":
		svc = translator.NewGoogleService()
	case "bedrock":
		svc = translator.NewBedrockService(p.Model)
	case "openai":
		svc = translator.NewOpenAIService(p.APIKey, p.BaseURL, p.Model)
	case "gemini":
		svc = translator.NewGeminiService(p.APIKey, p.Model)
	case "openrouter":
		svc = translator.NewOpenRouterService(p.APIKey, p.BaseURL, nil)
	case "ollama":
		svc = translator.NewOllamaTranslator(p.BaseURL, p.Model)
	default:
		return nil, fmt.Errorf("unknown service: %s", name)
	}

	return translator.NewBreaker(svc, c.Breaker, logger), nil
}

// app bundles what every pass-running command needs.
type app struct {
	cfg    *config.Config
	store  *store.Store
	runner *pipeline.Runner
}

func (a *app) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// cache returns the persisted cache, or nil when caching is disabled.
func (a *app) cache() reconcile.Cache {
	if a.store == nil {
		return nil
	}
	return a.store
}

func newApp(c *config.Config, logger *slog.Logger, onStatus pipeline.StatusFunc) (*app, error) {
	api, err := buildService(c.Provider.API, c, logger)
	if err != nil {
		return nil, fmt.Errorf("api provider: %w", err)
	}
	llm, err := buildService(c.Provider.LLM, c, logger)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	a := &app{cfg: c}
	if c.Caching {
		a.store, err = store.New(c.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	a.runner = pipeline.NewRunner(pipeline.Config{
		Cache:      a.cache(),
		API:        api,
		LLM:        llm,
		Dispatcher: dispatch.New(c.DispatcherConfig(logger)),
		OnStatus:   onStatus,
		Logger:     logger,
	})
	return a, nil
}

// newFetcher builds the configured fetcher. The returned func shuts down
// any browser it started.
func newFetcher(c *config.Config, logger *slog.Logger) (fetch.Fetcher, func(), error) {
	timeout := c.Fetch.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	h := fetch.NewHTTP(
		fetch.WithClient(&http.Client{Timeout: timeout}),
		fetch.WithUserAgent(c.Fetch.UserAgent),
		fetch.WithLogger(logger),
	)
	b := &fetch.Browser{RemoteURL: c.Fetch.RemoteURL, Timeout: timeout, Logger: logger}
	f, err := fetch.New(c.Fetch.Mode, h, b, logger)
	if err != nil {
		return nil, nil, err
	}
	return f, func() {
		if err := b.Close(); err != nil {
			logger.Warn("browser shutdown", "error", err)
		}
	}, nil
}

func logStatus(pageID string, s pipeline.Status) {
	switch s.State {
	case pipeline.StateError:
		logger.Error(s.Message, "page", pageID)
	default:
		logger.Info(s.Message, "page", pageID, "status", string(s.State))
	}
}
