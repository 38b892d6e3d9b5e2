// Package reconcile merges freshly extracted fragments with the translations
// cached for a page and language pair.
//
// A cached entry survives only when both its id and its original text match
// a fresh fragment. Ids are positional, so the text check is what stops a
// translation from being reused for unrelated content that moved into the
// same position after the page changed.
package reconcile

import (
	"context"
	"fmt"

	"github.com/valpere/pagetran/internal"
)

// Cache is the persisted cache capability, keyed by page identity. Update
// must run fn and persist its result atomically for that page.
type Cache interface {
	Get(ctx context.Context, pageID string) (internal.PageCache, error)
	Update(ctx context.Context, pageID string, fn func(internal.PageCache) error) error
	Remove(ctx context.Context, pageID string) error
}

// Merge returns fresh with every fragment that has an exact cached match
// replaced by the cached entry. Cached entries without a match are dropped.
func Merge(cached, fresh internal.Sequence) internal.Sequence {
	byID := cached.Lookup()
	merged := make(internal.Sequence, 0, len(fresh))
	for _, f := range fresh {
		if c, ok := byID[f.ID]; ok && c.OriginalText == f.OriginalText {
			merged = append(merged, c)
			delete(byID, f.ID)
			continue
		}
		merged = append(merged, internal.Fragment{ID: f.ID, OriginalText: f.OriginalText})
	}
	return merged
}

// Reconcile merges fresh against the cached set for the language pair,
// persists the merged set in place of the previous one and returns it.
func Reconcile(ctx context.Context, cache Cache, pageID, sourceLang, targetLang string, fresh internal.Sequence) (internal.Sequence, error) {
	pair := internal.LangPair(sourceLang, targetLang)

	var merged internal.Sequence
	err := cache.Update(ctx, pageID, func(c internal.PageCache) error {
		merged = Merge(c[pair], fresh)
		c[pair] = merged
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile %s [%s]: %w", pageID, pair, err)
	}
	return merged, nil
}

// Load returns the cached set for the language pair, empty when absent.
func Load(ctx context.Context, cache Cache, pageID, sourceLang, targetLang string) (internal.Sequence, error) {
	c, err := cache.Get(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", pageID, err)
	}
	seq := c[internal.LangPair(sourceLang, targetLang)]
	if seq == nil {
		seq = internal.Sequence{}
	}
	return seq, nil
}

// Record stores one translation against the cached entry with the same id
// and original text. The cache is re-read under the page lock so results
// arriving out of order never overwrite each other. It reports whether a
// matching entry was found; a missing entry means a newer pass replaced the
// set and the result is discarded.
func Record(ctx context.Context, cache Cache, pageID, sourceLang, targetLang string, f internal.Fragment, text string) (bool, error) {
	pair := internal.LangPair(sourceLang, targetLang)

	found := false
	err := cache.Update(ctx, pageID, func(c internal.PageCache) error {
		seq := c[pair]
		for i := range seq {
			if seq[i].ID == f.ID && seq[i].OriginalText == f.OriginalText {
				seq[i] = seq[i].WithTranslation(text)
				found = true
				break
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("record %s [%s] #%s: %w", pageID, pair, f.ID, err)
	}
	return found, nil
}

// Clear drops every cached language pair for pageID.
func Clear(ctx context.Context, cache Cache, pageID string) error {
	if err := cache.Remove(ctx, pageID); err != nil {
		return fmt.Errorf("clear %s: %w", pageID, err)
	}
	return nil
}
