package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/valpere/pagetran/internal"
)

const testPage = "https://example.com/page"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestStore_New_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/test.db")
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestStore_Get_Miss(t *testing.T) {
	s := newTestStore(t)

	cache, err := s.Get(context.Background(), testPage)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cache == nil || len(cache) != 0 {
		t.Errorf("expected empty non-nil cache, got %v", cache)
	}
}

func TestStore_SetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := internal.PageCache{
		"en-es": {
			{ID: "1", OriginalText: "Hello", TranslatedText: strPtr("Hola")},
			{ID: "2", OriginalText: "World"},
		},
	}
	if err := s.Set(ctx, testPage, want); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, testPage)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	seq := got["en-es"]
	if len(seq) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(seq))
	}
	if seq[0].TranslatedText == nil || *seq[0].TranslatedText != "Hola" {
		t.Errorf("expected Hola, got %+v", seq[0])
	}
	if seq[1].TranslatedText != nil {
		t.Errorf("expected null translation, got %q", *seq[1].TranslatedText)
	}
}

func TestStore_Update(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, testPage, func(c internal.PageCache) error {
		c["en-de"] = internal.Sequence{{ID: "1", OriginalText: "Hello"}}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := s.Get(ctx, testPage)
	if len(got["en-de"]) != 1 {
		t.Errorf("update not persisted: %v", got)
	}
}

func TestStore_Update_ErrorRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, testPage, func(c internal.PageCache) error {
		c["en-de"] = internal.Sequence{{ID: "1", OriginalText: "Hello"}}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := s.Get(ctx, testPage)
	if len(got) != 0 {
		t.Errorf("expected nothing persisted, got %v", got)
	}
}

func TestStore_Update_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	seq := make(internal.Sequence, n)
	for i := range seq {
		seq[i] = internal.Fragment{ID: fmt.Sprint(i + 1), OriginalText: fmt.Sprint("text ", i)}
	}
	if err := s.Set(ctx, testPage, internal.PageCache{"en-fr": seq}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprint(i + 1)
			err := s.Update(ctx, testPage, func(c internal.PageCache) error {
				c["en-fr"] = c["en-fr"].WithTranslations(map[string]string{id: "t" + id})
				return nil
			})
			if err != nil {
				t.Errorf("Update %s failed: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := s.Get(ctx, testPage)
	if pending := got["en-fr"].Pending(); len(pending) != 0 {
		t.Errorf("lost updates: %d fragments still pending", len(pending))
	}
}

func TestStore_Remove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, testPage, internal.PageCache{"en-es": {{ID: "1", OriginalText: "x"}}})
	if err := s.Remove(ctx, testPage); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	got, _ := s.Get(ctx, testPage)
	if len(got) != 0 {
		t.Errorf("expected empty cache after remove, got %v", got)
	}

	if err := s.Remove(ctx, "https://unknown.example"); err != nil {
		t.Errorf("removing unknown page should not fail: %v", err)
	}
}

func TestStore_ListAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "https://a.example", internal.PageCache{
		"en-es": {{ID: "1", OriginalText: "a", TranslatedText: strPtr("A")}, {ID: "2", OriginalText: "b"}},
		"en-de": {{ID: "1", OriginalText: "a", TranslatedText: strPtr("A")}},
	})
	_ = s.Set(ctx, "https://b.example", internal.PageCache{
		"en-es": {{ID: "1", OriginalText: "c"}},
	})

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pages != 2 || stats.Pairs != 3 || stats.Fragments != 4 || stats.Translated != 2 || stats.Pending != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	n, err := s.ClearAll(ctx)
	if err != nil || n != 2 {
		t.Errorf("ClearAll: n=%d err=%v", n, err)
	}
}

func TestMemory_UpdateAndRemove(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.Update(ctx, testPage, func(c internal.PageCache) error {
		c["en-es"] = internal.Sequence{{ID: "1", OriginalText: "Hello"}}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := m.Get(ctx, testPage)
	got["en-es"][0].OriginalText = "mutated"

	again, _ := m.Get(ctx, testPage)
	if again["en-es"][0].OriginalText != "Hello" {
		t.Error("Get returned a value aliased with the stored cache")
	}

	_ = m.Remove(ctx, testPage)
	if got, _ := m.Get(ctx, testPage); len(got) != 0 {
		t.Errorf("expected empty cache after remove, got %v", got)
	}
}
