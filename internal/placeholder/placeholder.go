// Package placeholder shields tokens that must survive translation verbatim
// (URLs, email addresses, template variables, inline code spans) by swapping
// them for numbered markers ([PH0], [PH1], ...) before a provider call and
// putting them back afterwards.
package placeholder

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrLost is returned by Check when a provider dropped one or more markers.
var ErrLost = errors.New("placeholder lost in translation")

var (
	// template variables: {{name}}, ${name}, %s-style verbs
	reTemplate = regexp.MustCompile(`\{\{[^{}]*\}\}|\$\{[^{}]*\}|%[-+#0]*\d*(?:\.\d+)?[sdvfqx]`)

	reInlineCode = regexp.MustCompile("`[^`\n]+`")

	reURL = regexp.MustCompile(`\b(?:https?|ftp)://[^\s<>"'|]+[^\s<>"'|.,;:!?)\]]`)

	reEmail = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)

	reMarker = regexp.MustCompile(`\[PH(\d+)\]`)
)

// Protect replaces every shielded token in text with a marker, in order of
// appearance per token class. It returns the rewritten text and the captured
// originals indexed by marker number.
func Protect(text string) (string, []string) {
	var originals []string
	replace := func(match string) string {
		id := fmt.Sprintf("[PH%d]", len(originals))
		originals = append(originals, match)
		return id
	}

	// Code spans first so URLs inside them stay in one marker.
	text = reInlineCode.ReplaceAllStringFunc(text, replace)
	text = reURL.ReplaceAllStringFunc(text, replace)
	text = reEmail.ReplaceAllStringFunc(text, replace)
	text = reTemplate.ReplaceAllStringFunc(text, replace)

	return text, originals
}

// Restore substitutes markers in text with the originals captured by Protect.
// Unknown indices are left as they are.
func Restore(text string, originals []string) string {
	if len(originals) == 0 {
		return text
	}
	return reMarker.ReplaceAllStringFunc(text, func(match string) string {
		sub := reMarker.FindStringSubmatch(match)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx < 0 || idx >= len(originals) {
			return match
		}
		return originals[idx]
	})
}

// Contains reports whether text carries at least one marker.
func Contains(text string) bool {
	return reMarker.MatchString(text)
}

// InstructionHint is appended to LLM prompts when the text carries markers.
func InstructionHint() string {
	return " Keep every [PHn] marker exactly as it appears; do not translate, move or remove it."
}

// Missing returns the indices of markers absent from text.
func Missing(text string, originals []string) []int {
	var missing []int
	for i := range originals {
		if !strings.Contains(text, fmt.Sprintf("[PH%d]", i)) {
			missing = append(missing, i)
		}
	}
	return missing
}

// Check restores originals into text, failing with ErrLost if any marker is
// missing.
func Check(text string, originals []string) (string, error) {
	if missing := Missing(text, originals); len(missing) > 0 {
		return "", fmt.Errorf("%w: %v", ErrLost, missing)
	}
	return Restore(text, originals), nil
}
