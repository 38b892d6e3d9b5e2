package translator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/valpere/pagetran/internal/postprocess"
)

const DefaultGeminiModel = "gemini-2.0-flash"

type GeminiService struct {
	apiKey string
	model  string
}

func NewGeminiService(apiKey, model string) *GeminiService {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiService{apiKey: apiKey, model: model}
}

func (s *GeminiService) Name() string {
	return "gemini"
}

func (s *GeminiService) Translate(ctx context.Context, cfg ServiceConfig, req TranslateRequest) (*ServiceResult, error) {
	result := &ServiceResult{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = s.apiKey
	}
	if apiKey == "" {
		result.Error = "Gemini API key required"
		return result, fmt.Errorf("Gemini API key required")
	}

	model := cfg.Model
	if model == "" {
		model = s.model
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		result.Error = fmt.Sprintf("failed to create client: %v", err)
		return result, fmt.Errorf("failed to create client: %w", err)
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(buildUserPrompt(req)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(buildSystemPrompt(req), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
	})
	if err != nil {
		result.Error = fmt.Sprintf("Gemini API error: %v", err)
		return result, fmt.Errorf("Gemini API error: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		result.Error = "empty response from Gemini"
		return result, fmt.Errorf("empty response from Gemini")
	}

	result.TranslatedText = postprocess.Clean(text, req.Text, req.TargetLang)
	result.Metadata = map[string]string{"model": model}

	return result, nil
}

func (s *GeminiService) IsAvailable(ctx context.Context) error {
	if s.apiKey == "" {
		return fmt.Errorf("Gemini API key not configured")
	}
	return nil
}

func (s *GeminiService) SupportedLanguages(ctx context.Context) ([]string, error) {
	return []string{"en", "es", "fr", "de", "it", "pt", "ru", "zh", "ja", "ko", "ar", "uk", "bg"}, nil
}
