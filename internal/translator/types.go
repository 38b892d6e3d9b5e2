package translator

import (
	"context"
	"time"
)

// ServiceConfig carries per-call credentials and tuning. Services read only
// the fields they need.
type ServiceConfig struct {
	Credentials     string        `mapstructure:"credentials" json:"credentials"`
	APIKey          string        `mapstructure:"api_key" json:"api_key"`
	Model           string        `mapstructure:"model" json:"model"`
	BaseURL         string        `mapstructure:"base_url" json:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
	ProjectID       string        `mapstructure:"project_id" json:"project_id"`
	Region          string        `mapstructure:"region" json:"region"`
	AccessKeyID     string        `mapstructure:"access_key_id" json:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key" json:"secret_access_key"`
}

type TranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	// Framed is set when Text is a packed document of "<|id:text|>" frames
	// that must come back with every frame marker and id intact.
	Framed bool `json:"framed,omitempty"`
}

type ServiceResult struct {
	ServiceName    string            `json:"service_name"`
	TranslatedText string            `json:"translated_text"`
	Metadata       map[string]string `json:"metadata"`
	Latency        time.Duration     `json:"latency"`
	Error          string            `json:"error,omitempty"`
}

// TranslationService is the provider capability: one text in, one
// translation out. Translate-API backends and LLM backends implement the
// same contract and are interchangeable at every call site.
type TranslationService interface {
	Name() string
	Translate(ctx context.Context, cfg ServiceConfig, req TranslateRequest) (*ServiceResult, error)
	IsAvailable(ctx context.Context) error
	SupportedLanguages(ctx context.Context) ([]string, error)
}

// isAuto reports whether lang asks the provider to detect the source.
func isAuto(lang string) bool {
	return lang == "" || lang == "auto"
}
