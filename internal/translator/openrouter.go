package translator

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/valpere/pagetran/internal/postprocess"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// DefaultOpenRouterModels are free-tier models; one is picked per call when
// no model is configured.
var DefaultOpenRouterModels = []string{
	"google/gemini-2.0-flash-exp:free",
	"qwen/qwen2.5-72b-instruct:free",
	"mistralai/mistral-nemo:free",
	"meta-llama/llama-3.1-8b-instruct:free",
}

// OpenRouterService reaches OpenRouter through its OpenAI-compatible API.
type OpenRouterService struct {
	apiKey     string
	baseURL    string
	models     []string
	httpClient *http.Client
}

func NewOpenRouterService(apiKey, baseURL string, models []string) *OpenRouterService {
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	if len(models) == 0 {
		models = DefaultOpenRouterModels
	}
	return &OpenRouterService{
		apiKey:     apiKey,
		baseURL:    baseURL,
		models:     models,
		httpClient: &http.Client{
			Timeout:   120 * time.Second,
			Transport: attribution{next: http.DefaultTransport},
		},
	}
}

// attribution adds the headers OpenRouter uses to credit the calling app.
type attribution struct {
	next http.RoundTripper
}

func (a attribution) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("HTTP-Referer", "https://pagetran.local")
	r.Header.Set("X-Title", "PageTran")
	return a.next.RoundTrip(r)
}

func (s *OpenRouterService) Name() string {
	return "openrouter"
}

func (s *OpenRouterService) pickModel(cfg ServiceConfig) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	return s.models[rand.Intn(len(s.models))]
}

func (s *OpenRouterService) Translate(ctx context.Context, cfg ServiceConfig, req TranslateRequest) (*ServiceResult, error) {
	result := &ServiceResult{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = s.apiKey
	}
	if apiKey == "" {
		result.Error = "OpenRouter API key required"
		return result, fmt.Errorf("OpenRouter API key required")
	}

	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = s.baseURL
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = s.httpClient

	model := s.pickModel(cfg)
	resp, err := openai.NewClientWithConfig(oc).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
		MaxTokens: 4096,
	})
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		return result, fmt.Errorf("openrouter: %w", err)
	}
	if len(resp.Choices) == 0 {
		result.Error = "empty response from API"
		return result, fmt.Errorf("empty response from API")
	}

	result.TranslatedText = postprocess.Clean(resp.Choices[0].Message.Content, req.Text, req.TargetLang)
	result.Metadata = map[string]string{
		"model":             model,
		"prompt_tokens":     fmt.Sprintf("%d", resp.Usage.PromptTokens),
		"completion_tokens": fmt.Sprintf("%d", resp.Usage.CompletionTokens),
	}

	return result, nil
}

func (s *OpenRouterService) IsAvailable(ctx context.Context) error {
	if s.apiKey == "" {
		return fmt.Errorf("OpenRouter API key not configured")
	}
	return nil
}

func (s *OpenRouterService) SupportedLanguages(ctx context.Context) ([]string, error) {
	return []string{"en", "es", "fr", "de", "it", "pt", "ru", "zh", "ja", "ko", "ar", "uk"}, nil
}
