// Package dispatch fans untranslated fragments out to a translation service
// and records every result into the page cache as soon as it arrives.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valpere/pagetran/internal"
	"github.com/valpere/pagetran/internal/framer"
	"github.com/valpere/pagetran/internal/placeholder"
	"github.com/valpere/pagetran/internal/postprocess"
	"github.com/valpere/pagetran/internal/reconcile"
	"github.com/valpere/pagetran/internal/translator"
)

// ErrMissingFrame marks a fragment whose frame did not come back in a
// batched response.
var ErrMissingFrame = errors.New("frame missing from response")

const maxRetryDelay = 10 * time.Second

type Config struct {
	// Concurrency caps in-flight provider calls. Zero means unlimited.
	Concurrency int
	// Timeout bounds each provider call. Zero means no per-call deadline.
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	// Boundary is the batch byte budget used by DispatchBatched.
	Boundary int
	Logger   *slog.Logger
}

// Target names where a pass sends text and where results land.
type Target struct {
	Service    translator.TranslationService
	Cfg        translator.ServiceConfig
	Cache      reconcile.Cache
	PageID     string
	SourceLang string
	TargetLang string
}

// Failure is a per-fragment provider failure. It never aborts siblings.
type Failure struct {
	ID  string
	Err error
}

func (f Failure) Error() string {
	return fmt.Sprintf("fragment %s: %v", f.ID, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

type Report struct {
	Translated int
	// Stale counts results discarded because the cached set no longer held
	// a matching entry.
	Stale   int
	Failed  []Failure
	Dropped []string
}

type Dispatcher struct {
	config Config
	logger *slog.Logger
}

func New(config Config) *Dispatcher {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{config: config, logger: logger}
}

// Dispatch translates every fragment independently. It returns once every
// call has settled.
func (d *Dispatcher) Dispatch(ctx context.Context, pending internal.Sequence, t Target) *Report {
	report := &Report{}
	var mu sync.Mutex

	g := d.group()
	for _, f := range pending {
		g.Go(func() error {
			protected, originals := placeholder.Protect(f.OriginalText)
			text, err := d.translate(ctx, t, translator.TranslateRequest{
				Text:       protected,
				SourceLang: t.SourceLang,
				TargetLang: t.TargetLang,
			}, originals)
			if err == nil {
				var found bool
				found, err = reconcile.Record(ctx, t.Cache, t.PageID, t.SourceLang, t.TargetLang, f, text)
				if err == nil && !found {
					mu.Lock()
					report.Stale++
					mu.Unlock()
					return nil
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.Debug("fragment failed", "page", t.PageID, "id", f.ID, "error", err)
				report.Failed = append(report.Failed, Failure{ID: f.ID, Err: err})
				return nil
			}
			report.Translated++
			return nil
		})
	}
	_ = g.Wait()

	return report
}

// DispatchBatched packs pending into framed documents under the configured
// boundary and sends one provider call per document. Frames that fail
// validation are dropped and their fragments reported as failed.
func (d *Dispatcher) DispatchBatched(ctx context.Context, pending internal.Sequence, t Target) *Report {
	report := &Report{}
	var mu sync.Mutex

	boundary := d.config.Boundary
	if boundary == 0 {
		boundary = framer.DefaultBoundary
	}

	// Batches are sized on the shielded text so the boundary holds for what
	// is actually sent.
	shielded := make(internal.Sequence, len(pending))
	originals := make(map[string][]string, len(pending))
	for i, f := range pending {
		f.OriginalText, originals[f.ID] = placeholder.Protect(f.OriginalText)
		shielded[i] = f
	}
	source := pending.Lookup()

	g := d.group()
	for _, batch := range framer.Batches(shielded, boundary) {
		g.Go(func() error {
			text, err := d.translate(ctx, t, translator.TranslateRequest{
				Text:       framer.Encode(batch),
				SourceLang: t.SourceLang,
				TargetLang: t.TargetLang,
				Framed:     true,
			}, nil)
			if err != nil {
				mu.Lock()
				defer mu.Unlock()
				for _, f := range batch {
					report.Failed = append(report.Failed, Failure{ID: f.ID, Err: err})
				}
				return nil
			}

			pairs, dropped := framer.Unpack(text)
			for _, seg := range dropped {
				d.logger.Debug("frame dropped", "page", t.PageID, "segment", seg)
			}

			byID := batch.Lookup()
			var failed []Failure
			translated, stale := 0, 0
			for _, p := range pairs {
				if _, ok := byID[p.ID]; !ok {
					continue
				}
				delete(byID, p.ID)
				f := source[p.ID]
				restored, err := placeholder.Check(postprocess.StripMarkup(p.Text, f.OriginalText), originals[p.ID])
				if err != nil {
					failed = append(failed, Failure{ID: f.ID, Err: err})
					continue
				}
				found, err := reconcile.Record(ctx, t.Cache, t.PageID, t.SourceLang, t.TargetLang, f, restored)
				switch {
				case err != nil:
					failed = append(failed, Failure{ID: f.ID, Err: err})
				case !found:
					stale++
				default:
					translated++
				}
			}
			for _, f := range batch {
				if _, missing := byID[f.ID]; missing {
					failed = append(failed, Failure{ID: f.ID, Err: ErrMissingFrame})
				}
			}

			mu.Lock()
			defer mu.Unlock()
			report.Translated += translated
			report.Stale += stale
			report.Failed = append(report.Failed, failed...)
			report.Dropped = append(report.Dropped, dropped...)
			return nil
		})
	}
	_ = g.Wait()

	return report
}

func (d *Dispatcher) group() *errgroup.Group {
	g := &errgroup.Group{}
	if d.config.Concurrency > 0 {
		g.SetLimit(d.config.Concurrency)
	}
	return g
}

// translate calls the service with retries. The n-th retry waits
// RetryDelay*10^(n-1), capped at maxRetryDelay. When originals is non-empty
// the response must carry every marker; a response that lost one is retried.
func (d *Dispatcher) translate(ctx context.Context, t Target, req translator.TranslateRequest, originals []string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < d.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if attempt > 0 {
			if err := sleep(ctx, backoff(d.config.RetryDelay, attempt-1)); err != nil {
				return "", err
			}
		}

		text, err := d.call(ctx, t, req)
		if err == nil && !req.Framed {
			text, err = placeholder.Check(postprocess.StripMarkup(text, req.Text), originals)
		}
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		d.logger.Debug("provider call failed", "page", t.PageID, "service", t.Service.Name(), "attempt", attempt+1, "error", err)
	}
	return "", lastErr
}

func (d *Dispatcher) call(ctx context.Context, t Target, req translator.TranslateRequest) (string, error) {
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	res, err := t.Service.Translate(ctx, t.Cfg, req)
	if err != nil {
		return "", err
	}
	if res.Error != "" {
		return "", fmt.Errorf("%s: %s", res.ServiceName, res.Error)
	}
	return res.TranslatedText, nil
}

func backoff(base time.Duration, n int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(10, float64(n)))
	if d > maxRetryDelay || d < 0 {
		return maxRetryDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
