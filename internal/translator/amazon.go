package translator

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/translate"
)

// translateAPI is the subset of the Amazon Translate client in use.
type translateAPI interface {
	TranslateText(ctx context.Context, params *translate.TranslateTextInput, optFns ...func(*translate.Options)) (*translate.TranslateTextOutput, error)
}

type AmazonService struct {
	clients *clientCache[translateAPI]
}

func NewAmazonService() *AmazonService {
	return &AmazonService{
		clients: newClientCache(func(cfg aws.Config) translateAPI {
			return translate.NewFromConfig(cfg)
		}),
	}
}

func (s *AmazonService) Name() string {
	return "amazon"
}

func (s *AmazonService) Translate(ctx context.Context, cfg ServiceConfig, req TranslateRequest) (*ServiceResult, error) {
	result := &ServiceResult{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	client, err := s.clients.get(ctx, cfg)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create client: %v", err)
		return result, fmt.Errorf("failed to create client: %w", err)
	}

	source := req.SourceLang
	if isAuto(source) {
		source = "auto"
	}

	out, err := client.TranslateText(ctx, &translate.TranslateTextInput{
		Text:               aws.String(req.Text),
		SourceLanguageCode: aws.String(source),
		TargetLanguageCode: aws.String(req.TargetLang),
	})
	if err != nil {
		result.Error = fmt.Sprintf("translation failed: %v", err)
		return result, fmt.Errorf("translation failed: %w", err)
	}

	result.TranslatedText = aws.ToString(out.TranslatedText)
	result.Metadata = map[string]string{"source_language": aws.ToString(out.SourceLanguageCode)}

	return result, nil
}

func (s *AmazonService) IsAvailable(ctx context.Context) error {
	return nil
}

func (s *AmazonService) SupportedLanguages(ctx context.Context) ([]string, error) {
	return []string{
		"en", "es", "fr", "de", "it", "pt", "ru", "zh", "ja", "ko",
		"ar", "hi", "id", "ms", "th", "tr", "vi", "uk", "cs", "pl",
		"nl", "sv", "da", "no", "fi", "el", "he", "hu", "ro",
	}, nil
}
