// Package postprocess cleans provider output before it reaches a page.
//
// Clean is applied to the raw text returned by every LLM-backed service
// (Bedrock, OpenAI, Gemini, OpenRouter, Ollama). StripMarkup is applied to
// anything that is written into a text node.
package postprocess

import (
	"regexp"
	"strings"
	"unicode"
)

// Clean strips model chatter around a translation: reasoning blocks, a
// wrapping code fence, preambles such as "Here is the translation:", the
// echoed "--> targetLang" prompt suffix and outer quotes. Outer quotes stay
// when source, the text that was sent, was itself quoted.
func Clean(text, source, targetLang string) string {
	text = dropReasoning(text)
	text = unfence(text)
	text = dropPreamble(text)
	text = dropArrowEcho(text, targetLang)
	if !quoted(strings.TrimSpace(source)) {
		text = unquote(text)
	}
	return strings.TrimSpace(text)
}

// RE2 has no backreferences, so each tag pair is spelled out.
var reasoningRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// An opened block that never closed runs to the end of the output.
var openReasoningRe = regexp.MustCompile(`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`)

func dropReasoning(text string) string {
	text = reasoningRe.ReplaceAllString(text, "")
	text = openReasoningRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

var fenceRe = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*\\n(.*?)\\n?```$")

func unfence(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

var courtesyRe = regexp.MustCompile(`(?i)^(?:certainly|sure|of course|okay)[,.!]?\s*`)

// Preambles are anchored at the start and must end in a colon.
var preambleRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the| your)? (?:translated )?(?:translation|text)(?: (?:in|into|to) [\p{L} ()-]+)?\s*:`),
	regexp.MustCompile(`(?i)^(?:the )?(?:translation|translated text)(?: \([\w-]+\))?(?: (?:in|into|to) [\p{L} ()-]+)?\s*:`),
}

func dropPreamble(text string) string {
	rest := courtesyRe.ReplaceAllString(text, "")
	for _, re := range preambleRes {
		if loc := re.FindStringIndex(rest); loc != nil {
			return strings.TrimSpace(rest[loc[1]:])
		}
	}
	return text
}

func dropArrowEcho(text, targetLang string) string {
	if targetLang == "" {
		return text
	}
	tail := strings.TrimRightFunc(text, unicode.IsSpace)
	i := strings.LastIndex(tail, "-->")
	if i == -1 || !strings.EqualFold(strings.TrimSpace(tail[i+3:]), targetLang) {
		return text
	}
	return strings.TrimRightFunc(tail[:i], unicode.IsSpace)
}

var quotePairs = [][2]rune{
	{'"', '"'},
	{'\'', '\''},
	{'«', '»'},
	{'“', '”'},
	{'‘', '’'},
	{'„', '“'},
}

func quoted(text string) bool {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return false
	}
	for _, q := range quotePairs {
		if runes[0] == q[0] && runes[n-1] == q[1] {
			return true
		}
	}
	return false
}

func unquote(text string) string {
	if !quoted(text) {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[1 : len(runes)-1]))
}
