package translator

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/valpere/pagetran/internal/postprocess"
)

// OpenAIService talks to any OpenAI-compatible chat completions endpoint.
type OpenAIService struct {
	apiKey  string
	baseURL string
	model   string
}

func NewOpenAIService(apiKey, baseURL, model string) *OpenAIService {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIService{apiKey: apiKey, baseURL: baseURL, model: model}
}

func (s *OpenAIService) Name() string {
	return "openai"
}

func (s *OpenAIService) client(cfg ServiceConfig) *openai.Client {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = s.apiKey
	}
	oc := openai.DefaultConfig(apiKey)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = s.baseURL
	}
	if baseURL != "" {
		oc.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(oc)
}

func (s *OpenAIService) Translate(ctx context.Context, cfg ServiceConfig, req TranslateRequest) (*ServiceResult, error) {
	result := &ServiceResult{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	if cfg.APIKey == "" && s.apiKey == "" {
		result.Error = "OpenAI API key required"
		return result, fmt.Errorf("OpenAI API key required")
	}

	model := cfg.Model
	if model == "" {
		model = s.model
	}

	resp, err := s.client(cfg).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
		MaxTokens:   4096,
		Temperature: 0.2,
	})
	if err != nil {
		result.Error = fmt.Sprintf("OpenAI API error: %v", err)
		return result, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		result.Error = "no translation returned"
		return result, fmt.Errorf("no translation returned")
	}

	result.TranslatedText = postprocess.Clean(resp.Choices[0].Message.Content, req.Text, req.TargetLang)
	result.Metadata = map[string]string{
		"model":             resp.Model,
		"prompt_tokens":     fmt.Sprintf("%d", resp.Usage.PromptTokens),
		"completion_tokens": fmt.Sprintf("%d", resp.Usage.CompletionTokens),
	}

	return result, nil
}

func (s *OpenAIService) IsAvailable(ctx context.Context) error {
	if s.apiKey == "" {
		return fmt.Errorf("OpenAI API key not configured")
	}
	return nil
}

func (s *OpenAIService) SupportedLanguages(ctx context.Context) ([]string, error) {
	return []string{"en", "es", "fr", "de", "it", "pt", "ru", "zh", "ja", "ko", "ar", "uk", "bg"}, nil
}
