package dispatch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valpere/pagetran/internal"
	"github.com/valpere/pagetran/internal/dispatch"
	"github.com/valpere/pagetran/internal/placeholder"
	"github.com/valpere/pagetran/internal/reconcile"
	"github.com/valpere/pagetran/internal/store"
	"github.com/valpere/pagetran/internal/translator"
)

const page = "https://example.com/"

type mockService struct {
	dict      map[string]string
	failFirst map[string]int
	fail      map[string]bool
	delay     time.Duration

	mu       sync.Mutex
	attempts map[string]int

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (m *mockService) Name() string { return "mock" }

func (m *mockService) Translate(ctx context.Context, cfg translator.ServiceConfig, req translator.TranslateRequest) (*translator.ServiceResult, error) {
	m.calls.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	if m.attempts == nil {
		m.attempts = map[string]int{}
	}
	m.attempts[req.Text]++
	attempt := m.attempts[req.Text]
	m.mu.Unlock()

	if m.fail[req.Text] || attempt <= m.failFirst[req.Text] {
		return nil, errors.New("provider unavailable")
	}

	out := req.Text
	for src, dst := range m.dict {
		out = strings.ReplaceAll(out, src, dst)
	}
	return &translator.ServiceResult{ServiceName: "mock", TranslatedText: out}, nil
}

func (m *mockService) IsAvailable(ctx context.Context) error { return nil }

func (m *mockService) SupportedLanguages(ctx context.Context) ([]string, error) {
	return nil, nil
}

func seed(t *testing.T, cache reconcile.Cache, texts ...string) internal.Sequence {
	t.Helper()
	var fresh internal.Sequence
	for i, text := range texts {
		fresh = append(fresh, internal.Fragment{ID: string(rune('1' + i)), OriginalText: text})
	}
	merged, err := reconcile.Reconcile(context.Background(), cache, page, "en", "es", fresh)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	return merged.Pending()
}

func target(svc translator.TranslationService, cache reconcile.Cache) dispatch.Target {
	return dispatch.Target{Service: svc, Cache: cache, PageID: page, SourceLang: "en", TargetLang: "es"}
}

func translations(t *testing.T, cache reconcile.Cache) map[string]string {
	t.Helper()
	seq, err := reconcile.Load(context.Background(), cache, page, "en", "es")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	out := map[string]string{}
	for _, f := range seq {
		if f.Translated() {
			out[f.ID] = *f.TranslatedText
		}
	}
	return out
}

func TestDispatch_RecordsEveryResult(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Hello", "World")
	svc := &mockService{dict: map[string]string{"Hello": "Hola", "World": "Mundo"}}

	report := dispatch.New(dispatch.Config{Concurrency: 4}).Dispatch(context.Background(), pending, target(svc, cache))

	if report.Translated != 2 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}
	got := translations(t, cache)
	if got["1"] != "Hola" || got["2"] != "Mundo" {
		t.Errorf("cache = %v", got)
	}
}

func TestDispatch_FailureIsIsolated(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Hello", "World")
	svc := &mockService{dict: map[string]string{"World": "Mundo"}, fail: map[string]bool{"Hello": true}}

	report := dispatch.New(dispatch.Config{MaxAttempts: 2}).Dispatch(context.Background(), pending, target(svc, cache))

	if report.Translated != 1 {
		t.Errorf("Translated = %d, want 1", report.Translated)
	}
	if len(report.Failed) != 1 || report.Failed[0].ID != "1" {
		t.Fatalf("Failed = %+v", report.Failed)
	}
	got := translations(t, cache)
	if _, ok := got["1"]; ok {
		t.Error("failed fragment must stay untranslated")
	}
	if got["2"] != "Mundo" {
		t.Errorf("sibling translation = %q, want Mundo", got["2"])
	}
}

func TestDispatch_Retries(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Hello")
	svc := &mockService{dict: map[string]string{"Hello": "Hola"}, failFirst: map[string]int{"Hello": 2}}

	d := dispatch.New(dispatch.Config{MaxAttempts: 3, RetryDelay: time.Millisecond})
	report := d.Dispatch(context.Background(), pending, target(svc, cache))

	if report.Translated != 1 {
		t.Fatalf("report = %+v", report)
	}
	if svc.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", svc.calls.Load())
	}
}

func TestDispatch_StaleResultDiscarded(t *testing.T) {
	cache := store.NewMemory()
	svc := &mockService{dict: map[string]string{"Hello": "Hola"}}
	pending := internal.Sequence{{ID: "1", OriginalText: "Hello"}}

	report := dispatch.New(dispatch.Config{}).Dispatch(context.Background(), pending, target(svc, cache))

	if report.Stale != 1 || report.Translated != 0 {
		t.Errorf("report = %+v", report)
	}
	if got := translations(t, cache); len(got) != 0 {
		t.Errorf("cache = %v, want empty", got)
	}
}

func TestDispatch_ConcurrencyLimit(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "a", "b", "c", "d", "e", "f")
	svc := &mockService{delay: 10 * time.Millisecond}

	dispatch.New(dispatch.Config{Concurrency: 2}).Dispatch(context.Background(), pending, target(svc, cache))

	if peak := svc.maxSeen.Load(); peak > 2 {
		t.Errorf("max in flight = %d, want <= 2", peak)
	}
	if svc.calls.Load() != 6 {
		t.Errorf("calls = %d, want 6", svc.calls.Load())
	}
}

func TestDispatch_CanceledContext(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Hello")
	svc := &mockService{fail: map[string]bool{"Hello": true}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := dispatch.New(dispatch.Config{MaxAttempts: 5, RetryDelay: time.Hour})
	report := d.Dispatch(ctx, pending, target(svc, cache))

	if len(report.Failed) != 1 || !errors.Is(report.Failed[0].Err, context.Canceled) {
		t.Errorf("Failed = %+v", report.Failed)
	}
}

func TestDispatchBatched(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Hello", "World")
	svc := &mockService{dict: map[string]string{"Hello": "Hola", "World": "Mundo"}}

	report := dispatch.New(dispatch.Config{}).DispatchBatched(context.Background(), pending, target(svc, cache))

	if report.Translated != 2 || len(report.Failed) != 0 || len(report.Dropped) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if svc.calls.Load() != 1 {
		t.Errorf("calls = %d, want one packed call", svc.calls.Load())
	}
	got := translations(t, cache)
	if got["1"] != "Hola" || got["2"] != "Mundo" {
		t.Errorf("cache = %v", got)
	}
}

func TestDispatchBatched_SmallBoundarySplits(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Hello", "World")
	svc := &mockService{dict: map[string]string{"Hello": "Hola", "World": "Mundo"}}

	report := dispatch.New(dispatch.Config{Boundary: 10}).DispatchBatched(context.Background(), pending, target(svc, cache))

	if report.Translated != 2 {
		t.Fatalf("report = %+v", report)
	}
	if svc.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", svc.calls.Load())
	}
}

func TestDispatchBatched_MalformedFrame(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Hello", "World")
	// The provider mangles the id of the second frame.
	svc := &mockService{dict: map[string]string{"Hello": "Hola", "2:World": "abc:Mundo"}}

	report := dispatch.New(dispatch.Config{}).DispatchBatched(context.Background(), pending, target(svc, cache))

	if report.Translated != 1 {
		t.Errorf("Translated = %d, want 1", report.Translated)
	}
	if len(report.Dropped) != 1 || report.Dropped[0] != "abc:Mundo" {
		t.Errorf("Dropped = %q", report.Dropped)
	}
	if len(report.Failed) != 1 || report.Failed[0].ID != "2" || !errors.Is(report.Failed[0].Err, dispatch.ErrMissingFrame) {
		t.Errorf("Failed = %+v", report.Failed)
	}
}

func TestDispatchBatched_ProviderFailureFailsBatch(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Hello", "World")
	svc := &mockService{fail: map[string]bool{"<|1:Hello|><|2:World|>": true}}

	report := dispatch.New(dispatch.Config{}).DispatchBatched(context.Background(), pending, target(svc, cache))

	if len(report.Failed) != 2 {
		t.Errorf("Failed = %+v, want both fragments", report.Failed)
	}
}

func TestDispatch_ShieldsURLs(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Visit https://example.com/visit today")
	// A naive provider would translate "visit" inside the URL too.
	svc := &mockService{dict: map[string]string{"Visit": "Visita", "visit": "visita", "today": "hoy"}}

	report := dispatch.New(dispatch.Config{}).Dispatch(context.Background(), pending, target(svc, cache))

	if report.Translated != 1 {
		t.Fatalf("report = %+v", report)
	}
	if got := translations(t, cache)["1"]; got != "Visita https://example.com/visit hoy" {
		t.Errorf("translation = %q", got)
	}
}

func TestDispatch_LostMarkerFails(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Mail team@example.org")
	svc := &mockService{dict: map[string]string{"[PH0]": ""}}

	report := dispatch.New(dispatch.Config{MaxAttempts: 2}).Dispatch(context.Background(), pending, target(svc, cache))

	if len(report.Failed) != 1 || !errors.Is(report.Failed[0].Err, placeholder.ErrLost) {
		t.Fatalf("Failed = %+v", report.Failed)
	}
	if svc.calls.Load() != 2 {
		t.Errorf("calls = %d, want a retry", svc.calls.Load())
	}
}

func TestDispatchBatched_ShieldsURLs(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Hello", "See https://example.com/Hello")
	svc := &mockService{dict: map[string]string{"Hello": "Hola", "See": "Ver"}}

	report := dispatch.New(dispatch.Config{}).DispatchBatched(context.Background(), pending, target(svc, cache))

	if report.Translated != 2 {
		t.Fatalf("report = %+v", report)
	}
	got := translations(t, cache)
	if got["1"] != "Hola" || got["2"] != "Ver https://example.com/Hello" {
		t.Errorf("cache = %v", got)
	}
}

func TestDispatch_KeepsLiteralMarkupFromSource(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Use the <b> tag")
	svc := &mockService{}

	report := dispatch.New(dispatch.Config{}).Dispatch(context.Background(), pending, target(svc, cache))

	if report.Translated != 1 {
		t.Fatalf("report = %+v", report)
	}
	if got := translations(t, cache)["1"]; got != "Use the <b> tag" {
		t.Errorf("translation = %q", got)
	}
}

func TestDispatchBatched_KeepsLiteralMarkupFromSource(t *testing.T) {
	cache := store.NewMemory()
	pending := seed(t, cache, "Use the <b> tag", "Hello")
	svc := &mockService{dict: map[string]string{"Hello": "<i>Hola</i>"}}

	report := dispatch.New(dispatch.Config{}).DispatchBatched(context.Background(), pending, target(svc, cache))

	if report.Translated != 2 {
		t.Fatalf("report = %+v", report)
	}
	got := translations(t, cache)
	if got["1"] != "Use the <b> tag" || got["2"] != "Hola" {
		t.Errorf("cache = %v", got)
	}
}
