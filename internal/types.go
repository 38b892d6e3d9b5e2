package internal

import "fmt"

// Fragment is one translatable text leaf discovered by an extraction pass.
// ID is the 1-based discovery position rendered as a string and is only
// meaningful within the pass that produced it.
type Fragment struct {
	ID             string  `json:"id" yaml:"id"`
	OriginalText   string  `json:"originalText" yaml:"originalText"`
	TranslatedText *string `json:"translatedText" yaml:"translatedText"`
}

// Translated reports whether the fragment carries a translation and may be
// written back to the document.
func (f Fragment) Translated() bool {
	return f.TranslatedText != nil
}

// WithTranslation returns a copy of f carrying text as its translation.
func (f Fragment) WithTranslation(text string) Fragment {
	f.TranslatedText = &text
	return f
}

// Sequence is an ordered list of fragments in document traversal order.
type Sequence []Fragment

// Pending returns the fragments that still have no translation.
func (s Sequence) Pending() Sequence {
	var out Sequence
	for _, f := range s {
		if !f.Translated() {
			out = append(out, f)
		}
	}
	return out
}

// Lookup indexes the sequence by fragment id.
func (s Sequence) Lookup() map[string]Fragment {
	m := make(map[string]Fragment, len(s))
	for _, f := range s {
		m[f.ID] = f
	}
	return m
}

// WithTranslations returns a copy of s where every fragment whose id is a
// key of translations carries that translation.
func (s Sequence) WithTranslations(translations map[string]string) Sequence {
	out := make(Sequence, len(s))
	for i, f := range s {
		if text, ok := translations[f.ID]; ok {
			f = f.WithTranslation(text)
		}
		out[i] = f
	}
	return out
}

// PageCache is the persisted value for one page identity: the last known
// fragment set per language pair.
type PageCache map[string]Sequence

// LangPair builds the cache partition key for a language pair.
func LangPair(sourceLang, targetLang string) string {
	return fmt.Sprintf("%s-%s", sourceLang, targetLang)
}
