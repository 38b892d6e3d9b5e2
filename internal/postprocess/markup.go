package postprocess

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

var (
	// Frame markers "<|" and "|>" do not match.
	tagRe    = regexp.MustCompile(`</?[A-Za-z][^<>]*>`)
	entityRe = regexp.MustCompile(`&(?:#[0-9]+|#[xX][0-9a-fA-F]+|[A-Za-z][A-Za-z0-9]*);`)
)

// StripMarkup removes HTML a provider injected into text and decodes
// entities, so the result is plain text fit for a text node. Tags and
// entities that already appear in source, the text that was sent, are page
// content and are kept verbatim.
func StripMarkup(text, source string) string {
	if !strings.ContainsAny(text, "<&") {
		return text
	}
	sourceTags := tagRe.FindAllString(source, -1)
	sourceEntities := entityRe.MatchString(source)
	if len(sourceTags) == 0 && !sourceEntities {
		return html.UnescapeString(strict.Sanitize(text))
	}

	keep := make(map[string]bool, len(sourceTags))
	for _, t := range sourceTags {
		keep[t] = true
	}
	text = tagRe.ReplaceAllStringFunc(text, func(tag string) string {
		if keep[tag] {
			return tag
		}
		return ""
	})
	if !sourceEntities {
		text = html.UnescapeString(text)
	}
	return text
}
