package translator

import (
	"fmt"
	"strings"

	"github.com/valpere/pagetran/internal/placeholder"
)

// SystemPrompt is shared by every LLM-backed service.
const SystemPrompt = "You are a highly skilled translator with expertise in many languages. " +
	"Your task is to identify the language of the text I provide and accurately translate it into the specified target language " +
	"while preserving the meaning, tone, and nuance of the original text. " +
	"Please maintain proper grammar, spelling, and punctuation in the translated version. " +
	"Only respond with the translation, nothing else."

const framedHint = " The text is a sequence of frames shaped like <|id:text|>. " +
	"Translate only the text after each colon. Keep every <| and |> marker, every numeric id and every colon after an id exactly as they are."

// buildSystemPrompt returns the system prompt for req.
func buildSystemPrompt(req TranslateRequest) string {
	var sb strings.Builder
	sb.WriteString(SystemPrompt)
	if !isAuto(req.SourceLang) {
		sb.WriteString(fmt.Sprintf(" The source language is %s.", req.SourceLang))
	}
	if req.Framed {
		sb.WriteString(framedHint)
	}
	if placeholder.Contains(req.Text) {
		sb.WriteString(placeholder.InstructionHint())
	}
	return sb.String()
}

// buildUserPrompt renders the combined "<text> --> <target>" prompt.
func buildUserPrompt(req TranslateRequest) string {
	return fmt.Sprintf("%s --> %s", req.Text, req.TargetLang)
}
