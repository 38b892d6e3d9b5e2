package translator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/translate"
	"github.com/sashabaranov/go-openai"
)

type fakeTranslate struct {
	in  *translate.TranslateTextInput
	err error
}

func (f *fakeTranslate) TranslateText(ctx context.Context, in *translate.TranslateTextInput, _ ...func(*translate.Options)) (*translate.TranslateTextOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &translate.TranslateTextOutput{
		TranslatedText:     aws.String("Hola"),
		SourceLanguageCode: aws.String("en"),
	}, nil
}

func TestAmazonService_Translate(t *testing.T) {
	fake := &fakeTranslate{}
	svc := NewAmazonService()
	svc.clients.clients["eu-west-1|AKID"] = fake

	cfg := ServiceConfig{Region: "eu-west-1", AccessKeyID: "AKID", SecretAccessKey: "secret"}
	res, err := svc.Translate(context.Background(), cfg, TranslateRequest{Text: "Hello", TargetLang: "es"})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.TranslatedText != "Hola" {
		t.Errorf("TranslatedText = %q, want Hola", res.TranslatedText)
	}
	if got := aws.ToString(fake.in.SourceLanguageCode); got != "auto" {
		t.Errorf("SourceLanguageCode = %q, want auto", got)
	}
	if res.Metadata["source_language"] != "en" {
		t.Errorf("source_language = %q, want en", res.Metadata["source_language"])
	}
}

func TestAmazonService_TranslateError(t *testing.T) {
	svc := NewAmazonService()
	svc.clients.clients["|"] = &fakeTranslate{err: errors.New("throttled")}

	res, err := svc.Translate(context.Background(), ServiceConfig{}, TranslateRequest{Text: "Hello", TargetLang: "es"})
	if err == nil {
		t.Fatal("expected error")
	}
	if res == nil || res.Error == "" {
		t.Errorf("expected result with Error set, got %+v", res)
	}
}

type fakeBedrock struct {
	body []byte
	out  string
}

func (f *fakeBedrock) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.body = in.Body
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.out)}, nil
}

func TestBedrockService_Translate(t *testing.T) {
	fake := &fakeBedrock{out: `{"content":[{"type":"text","text":"Hola"}]}`}
	svc := NewBedrockService("")
	svc.clients.clients["|"] = fake

	res, err := svc.Translate(context.Background(), ServiceConfig{}, TranslateRequest{Text: "Hello", SourceLang: "en", TargetLang: "es"})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.TranslatedText != "Hola" {
		t.Errorf("TranslatedText = %q, want Hola", res.TranslatedText)
	}

	var sent anthropicRequest
	if err := json.Unmarshal(fake.body, &sent); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if sent.AnthropicVersion != "bedrock-2023-05-31" {
		t.Errorf("anthropic_version = %q", sent.AnthropicVersion)
	}
	if sent.MaxTokens != 4096 {
		t.Errorf("max_tokens = %d, want 4096", sent.MaxTokens)
	}
	if len(sent.Messages) != 1 || sent.Messages[0].Content[0].Text != "Hello --> es" {
		t.Errorf("messages = %+v", sent.Messages)
	}
	if !strings.Contains(sent.System, "The source language is en.") {
		t.Errorf("system prompt missing source language: %q", sent.System)
	}
}

func TestParseAnthropicEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "text", body: `{"content":[{"type":"text","text":"Hola"}]}`, want: "Hola"},
		{name: "empty content", body: `{"content":[]}`, wantErr: true},
		{name: "blank text", body: `{"content":[{"type":"text","text":"  "}]}`, wantErr: true},
		{name: "not json", body: `oops`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAnthropicEnvelope([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenRouterService_Translate(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Title") != "PageTran" {
			t.Errorf("X-Title = %q", r.Header.Get("X-Title"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Here's the translation: \"Hola\""}}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`))
	}))
	defer srv.Close()

	svc := NewOpenRouterService("key", srv.URL, []string{"test/model"})
	res, err := svc.Translate(context.Background(), ServiceConfig{}, TranslateRequest{Text: "Hello", TargetLang: "es"})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.TranslatedText != "Hola" {
		t.Errorf("TranslatedText = %q, want Hola", res.TranslatedText)
	}
	if got.Model != "test/model" || len(got.Messages) != 2 {
		t.Errorf("request = %+v", got)
	}
}

func TestOpenRouterService_NoKey(t *testing.T) {
	svc := NewOpenRouterService("", "http://127.0.0.1:0", nil)
	if _, err := svc.Translate(context.Background(), ServiceConfig{}, TranslateRequest{Text: "Hello", TargetLang: "es"}); err == nil {
		t.Fatal("expected error without an API key")
	}
}

func TestOllamaTranslator_Translate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			var req chatRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Stream {
				t.Error("stream must be false")
			}
			_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"<think>hmm</think>Mundo"}}`))
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	svc := NewOllamaTranslator(srv.URL, "")
	if err := svc.IsAvailable(context.Background()); err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	res, err := svc.Translate(context.Background(), ServiceConfig{}, TranslateRequest{Text: "World", TargetLang: "es"})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.TranslatedText != "Mundo" {
		t.Errorf("TranslatedText = %q, want Mundo", res.TranslatedText)
	}
	if res.Metadata["model"] != DefaultOllamaModel {
		t.Errorf("model = %q", res.Metadata["model"])
	}
}

func TestOllamaTranslator_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewOllamaTranslator(srv.URL, "")
	if _, err := svc.Translate(context.Background(), ServiceConfig{}, TranslateRequest{Text: "World", TargetLang: "es"}); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	auto := buildSystemPrompt(TranslateRequest{SourceLang: "auto"})
	if strings.Contains(auto, "source language is") {
		t.Errorf("auto source must not be named: %q", auto)
	}
	framed := buildSystemPrompt(TranslateRequest{SourceLang: "de", Framed: true})
	if !strings.Contains(framed, "The source language is de.") || !strings.Contains(framed, "<|id:text|>") {
		t.Errorf("framed prompt = %q", framed)
	}
	if strings.Contains(framed, "[PHn]") {
		t.Errorf("hint without markers: %q", framed)
	}
	shielded := buildSystemPrompt(TranslateRequest{Text: "Open [PH0]", SourceLang: "auto"})
	if !strings.Contains(shielded, "[PHn]") {
		t.Errorf("missing marker hint: %q", shielded)
	}
}

type flakyService struct {
	calls int
	err   error
}

func (f *flakyService) Name() string { return "flaky" }
func (f *flakyService) Translate(ctx context.Context, cfg ServiceConfig, req TranslateRequest) (*ServiceResult, error) {
	f.calls++
	if f.err != nil {
		return &ServiceResult{ServiceName: "flaky", Error: f.err.Error()}, f.err
	}
	return &ServiceResult{ServiceName: "flaky", TranslatedText: strings.ToUpper(req.Text)}, nil
}
func (f *flakyService) IsAvailable(ctx context.Context) error { return nil }
func (f *flakyService) SupportedLanguages(ctx context.Context) ([]string, error) {
	return nil, nil
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	inner := &flakyService{err: errors.New("boom")}
	b := NewBreaker(inner, BreakerSettings{Failures: 2, Cooldown: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		if _, err := b.Translate(context.Background(), ServiceConfig{}, TranslateRequest{Text: "x"}); err == nil {
			t.Fatal("expected error")
		}
	}
	if b.State() != "open" {
		t.Fatalf("State = %s, want open", b.State())
	}

	res, err := b.Translate(context.Background(), ServiceConfig{}, TranslateRequest{Text: "x"})
	if err == nil {
		t.Fatal("expected open-circuit error")
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
	if res == nil || res.Error == "" {
		t.Errorf("expected result carrying the breaker error, got %+v", res)
	}
}

func TestBreaker_PassesThrough(t *testing.T) {
	b := NewBreaker(&flakyService{}, BreakerSettings{}, nil)
	res, err := b.Translate(context.Background(), ServiceConfig{}, TranslateRequest{Text: "hola"})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.TranslatedText != "HOLA" {
		t.Errorf("TranslatedText = %q", res.TranslatedText)
	}
	if b.Name() != "flaky" {
		t.Errorf("Name = %q", b.Name())
	}
}
