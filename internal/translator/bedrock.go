package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/valpere/pagetran/internal/postprocess"
)

const DefaultBedrockModel = "anthropic.claude-3-sonnet-20240229-v1:0"

// bedrockAPI is the subset of the Bedrock runtime client in use.
type bedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockService sends one combined prompt to an Anthropic model hosted on
// Bedrock and reads the translation out of the JSON message envelope.
type BedrockService struct {
	model   string
	clients *clientCache[bedrockAPI]
}

func NewBedrockService(model string) *BedrockService {
	if model == "" {
		model = DefaultBedrockModel
	}
	return &BedrockService{
		model: model,
		clients: newClientCache(func(cfg aws.Config) bedrockAPI {
			return bedrockruntime.NewFromConfig(cfg)
		}),
	}
}

func (s *BedrockService) Name() string {
	return "bedrock"
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	TopK             int                `json:"top_k"`
	TopP             float64            `json:"top_p"`
	System           string             `json:"system"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

func (s *BedrockService) Translate(ctx context.Context, cfg ServiceConfig, req TranslateRequest) (*ServiceResult, error) {
	result := &ServiceResult{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	model := cfg.Model
	if model == "" {
		model = s.model
	}

	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        4096,
		Temperature:      0.2,
		TopK:             250,
		TopP:             1,
		System:           buildSystemPrompt(req),
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicContent{{Type: "text", Text: buildUserPrompt(req)}},
		}},
	})
	if err != nil {
		result.Error = fmt.Sprintf("failed to marshal request: %v", err)
		return result, err
	}

	client, err := s.clients.get(ctx, cfg)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create client: %v", err)
		return result, fmt.Errorf("failed to create client: %w", err)
	}

	out, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		return result, fmt.Errorf("request failed: %w", err)
	}

	text, err := parseAnthropicEnvelope(out.Body)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	result.TranslatedText = postprocess.Clean(text, req.Text, req.TargetLang)
	result.Metadata = map[string]string{"model": model}

	return result, nil
}

// parseAnthropicEnvelope returns the first text block of a model response.
// An empty message is an error.
func parseAnthropicEnvelope(body []byte) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(resp.Content) == 0 || strings.TrimSpace(resp.Content[0].Text) == "" {
		return "", fmt.Errorf("empty response from Bedrock")
	}
	return resp.Content[0].Text, nil
}

func (s *BedrockService) IsAvailable(ctx context.Context) error {
	return nil
}

func (s *BedrockService) SupportedLanguages(ctx context.Context) ([]string, error) {
	return []string{"en", "es", "fr", "de", "it", "pt", "ru", "zh", "ja", "ko", "ar", "uk", "pl"}, nil
}
