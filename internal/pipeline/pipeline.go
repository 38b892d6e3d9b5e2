// Package pipeline runs translation passes over a page: extract the text
// fragments, reconcile them with the cache, translate what is missing and
// write the results back into the document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/text/language"

	"github.com/valpere/pagetran/internal"
	"github.com/valpere/pagetran/internal/dispatch"
	"github.com/valpere/pagetran/internal/dom"
	"github.com/valpere/pagetran/internal/reconcile"
	"github.com/valpere/pagetran/internal/store"
	"github.com/valpere/pagetran/internal/translator"
)

const (
	MsgTranslating = "Translating the page."
	MsgComplete    = "Translation complete."
	MsgError       = "An error occurred. The document failed to translate."
	MsgCleared     = "Cleared cache for this page."
)

// ErrSuperseded is returned by a pass that a newer pass for the same page
// canceled.
var ErrSuperseded = errors.New("pass superseded by a newer pass")

// ErrNoService is returned when the command selects a provider variant that
// is not configured.
var ErrNoService = errors.New("no translation service configured")

// Command asks for one translation pass.
type Command struct {
	Credentials    translator.ServiceConfig `json:"credentials"`
	SourceLang     string                   `json:"sourceLang"`
	TargetLang     string                   `json:"targetLang"`
	CachingEnabled bool                     `json:"cachingEnabled"`
	BedrockEnabled bool                     `json:"bedrockEnabled"`
	Batched        bool                     `json:"batched,omitempty"`
}

type State string

const (
	StateTranslating State = "translating"
	StateComplete    State = "complete"
	StateError       State = "error"
)

type Status struct {
	State   State  `json:"status"`
	Message string `json:"message"`
}

type StatusFunc func(pageID string, s Status)

type Result struct {
	PassID    string
	Fragments int
	// FromCache counts fragments whose translation was reused.
	FromCache int
	Written   int
	Report    *dispatch.Report
	Sequence  internal.Sequence
}

type Config struct {
	// Cache persists translations across passes. When nil, or when a
	// command disables caching, each pass runs against a fresh memory cache.
	Cache reconcile.Cache
	// API is the translate-API provider, LLM the model-backed one.
	// Command.BedrockEnabled picks LLM.
	API        translator.TranslationService
	LLM        translator.TranslationService
	Dispatcher *dispatch.Dispatcher
	OnStatus   StatusFunc
	Logger     *slog.Logger
}

type pass struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner keeps at most one active pass per page. Starting a pass cancels
// the one already running for that page and waits for it to settle.
type Runner struct {
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*pass
}

func NewRunner(config Config) *Runner {
	if config.Dispatcher == nil {
		config.Dispatcher = dispatch.New(dispatch.Config{Logger: config.Logger})
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{config: config, logger: logger, active: make(map[string]*pass)}
}

// Run executes one pass over root for pageID. Per-fragment failures are
// reported in Result and never fail the pass; only a missing root, an
// invalid command or a cache error do.
func (r *Runner) Run(ctx context.Context, pageID string, root *html.Node, cmd Command) (*Result, error) {
	passCtx, finish := r.begin(ctx, pageID)
	defer finish()

	passID := uuid.NewString()
	logger := r.logger.With("page", pageID, "pass", passID)

	r.emit(pageID, StateTranslating, MsgTranslating)

	res, err := r.run(passCtx, logger, pageID, root, cmd)
	if err != nil {
		if passCtx.Err() != nil && ctx.Err() == nil {
			logger.Info("pass superseded")
			return res, ErrSuperseded
		}
		logger.Error("pass failed", "error", err)
		r.emit(pageID, StateError, MsgError)
		return res, err
	}
	res.PassID = passID

	logger.Info("pass complete",
		"fragments", res.Fragments,
		"cached", res.FromCache,
		"translated", res.Report.Translated,
		"failed", len(res.Report.Failed),
		"written", res.Written)
	r.emit(pageID, StateComplete, MsgComplete)
	return res, nil
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, pageID string, root *html.Node, cmd Command) (*Result, error) {
	if cmd.SourceLang == "" {
		cmd.SourceLang = "auto"
	}
	svc, err := r.service(cmd)
	if err != nil {
		return nil, err
	}
	if err := validateLangs(cmd.SourceLang, cmd.TargetLang); err != nil {
		return nil, err
	}

	fresh, idx, err := dom.Extract(root)
	if err != nil {
		return nil, err
	}

	cache := r.config.Cache
	if cache == nil || !cmd.CachingEnabled {
		cache = store.NewMemory()
	}

	merged, err := reconcile.Reconcile(ctx, cache, pageID, cmd.SourceLang, cmd.TargetLang, fresh)
	if err != nil {
		return nil, err
	}
	pending := merged.Pending()
	logger.Debug("reconciled", "fragments", len(merged), "pending", len(pending))

	res := &Result{
		Fragments: len(fresh),
		FromCache: len(merged) - len(pending),
		Report:    &dispatch.Report{},
	}

	if len(pending) > 0 {
		target := dispatch.Target{
			Service:    svc,
			Cfg:        cmd.Credentials,
			Cache:      cache,
			PageID:     pageID,
			SourceLang: cmd.SourceLang,
			TargetLang: cmd.TargetLang,
		}
		if cmd.Batched {
			res.Report = r.config.Dispatcher.DispatchBatched(ctx, pending, target)
		} else {
			res.Report = r.config.Dispatcher.Dispatch(ctx, pending, target)
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	seq, err := reconcile.Load(ctx, cache, pageID, cmd.SourceLang, cmd.TargetLang)
	if err != nil {
		return res, err
	}
	res.Sequence = seq
	res.Written = idx.Apply(seq)

	return res, nil
}

// ClearCache drops every cached translation for pageID.
func (r *Runner) ClearCache(ctx context.Context, pageID string) error {
	if r.config.Cache == nil {
		r.emit(pageID, StateComplete, MsgCleared)
		return nil
	}
	if err := reconcile.Clear(ctx, r.config.Cache, pageID); err != nil {
		r.emit(pageID, StateError, MsgError)
		return err
	}
	r.emit(pageID, StateComplete, MsgCleared)
	return nil
}

func (r *Runner) begin(ctx context.Context, pageID string) (context.Context, func()) {
	passCtx, cancel := context.WithCancel(ctx)
	p := &pass{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	prev := r.active[pageID]
	r.active[pageID] = p
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	return passCtx, func() {
		cancel()
		r.mu.Lock()
		if r.active[pageID] == p {
			delete(r.active, pageID)
		}
		r.mu.Unlock()
		close(p.done)
	}
}

func (r *Runner) service(cmd Command) (translator.TranslationService, error) {
	if cmd.BedrockEnabled {
		if r.config.LLM == nil {
			return nil, fmt.Errorf("%w: llm", ErrNoService)
		}
		return r.config.LLM, nil
	}
	if r.config.API == nil {
		return nil, fmt.Errorf("%w: api", ErrNoService)
	}
	return r.config.API, nil
}

func (r *Runner) emit(pageID string, state State, msg string) {
	if r.config.OnStatus != nil {
		r.config.OnStatus(pageID, Status{State: state, Message: msg})
	}
}

// validateLangs accepts "auto" as a source and any BCP 47 tag otherwise.
func validateLangs(source, target string) error {
	if source != "auto" {
		if _, err := language.Parse(source); err != nil {
			return fmt.Errorf("invalid source language %q: %w", source, err)
		}
	}
	if _, err := language.Parse(target); err != nil {
		return fmt.Errorf("invalid target language %q: %w", target, err)
	}
	return nil
}
