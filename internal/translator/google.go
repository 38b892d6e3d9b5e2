package translator

import (
	"context"
	"fmt"
	"sync"
	"time"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"

	"github.com/valpere/pagetran/internal/postprocess"
)

// GoogleService calls Cloud Translation v2. One client is kept per
// credentials file.
type GoogleService struct {
	mu      sync.Mutex
	clients map[string]*translate.Client
}

func NewGoogleService() *GoogleService {
	return &GoogleService{clients: make(map[string]*translate.Client)}
}

func (s *GoogleService) Name() string {
	return "google"
}

func (s *GoogleService) client(ctx context.Context, cfg ServiceConfig) (*translate.Client, error) {
	key := cfg.Credentials + "|" + cfg.APIKey

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[key]; ok {
		return c, nil
	}

	opts := []option.ClientOption{}
	switch {
	case cfg.Credentials != "":
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	c, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	s.clients[key] = c
	return c, nil
}

func (s *GoogleService) Translate(ctx context.Context, cfg ServiceConfig, req TranslateRequest) (*ServiceResult, error) {
	result := &ServiceResult{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	targetLangTag, err := language.Parse(req.TargetLang)
	if err != nil {
		result.Error = fmt.Sprintf("invalid target language: %v", err)
		return result, fmt.Errorf("invalid target language: %w", err)
	}

	var opts *translate.Options
	if !isAuto(req.SourceLang) {
		sourceLangTag, err := language.Parse(req.SourceLang)
		if err != nil {
			result.Error = fmt.Sprintf("invalid source language: %v", err)
			return result, fmt.Errorf("invalid source language: %w", err)
		}
		opts = &translate.Options{Source: sourceLangTag, Format: translate.Text}
	}

	client, err := s.client(ctx, cfg)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create client: %v", err)
		return result, fmt.Errorf("failed to create client: %w", err)
	}

	translations, err := client.Translate(ctx, []string{req.Text}, targetLangTag, opts)
	if err != nil {
		result.Error = fmt.Sprintf("translation failed: %v", err)
		return result, fmt.Errorf("translation failed: %w", err)
	}

	if len(translations) == 0 {
		result.Error = "no translation returned"
		return result, fmt.Errorf("no translation returned")
	}

	// v2 may return HTML entities even for plain text input.
	result.TranslatedText = postprocess.StripMarkup(translations[0].Text, req.Text)
	if src := translations[0].Source; src != language.Und {
		result.Metadata = map[string]string{"source_language": src.String()}
	}

	return result, nil
}

// Close releases every cached client.
func (s *GoogleService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for key, c := range s.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.clients, key)
	}
	return firstErr
}

func (s *GoogleService) IsAvailable(ctx context.Context) error {
	return nil
}

func (s *GoogleService) SupportedLanguages(ctx context.Context) ([]string, error) {
	return nil, nil
}
