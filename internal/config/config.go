// Package config loads pagetran settings from a YAML file, PAGETRAN_*
// environment variables and command-line flags through viper.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/pagetran/internal/dispatch"
	"github.com/valpere/pagetran/internal/fetch"
	"github.com/valpere/pagetran/internal/framer"
	"github.com/valpere/pagetran/internal/pipeline"
	"github.com/valpere/pagetran/internal/translator"
)

const (
	ModeFragment = "fragment"
	ModeBatch    = "batch"
)

type Provider struct {
	// API names the translate-API service, LLM the model-backed one.
	API string `mapstructure:"api"`
	LLM string `mapstructure:"llm"`

	translator.ServiceConfig `mapstructure:",squash"`
}

type Dispatch struct {
	Mode        string        `mapstructure:"mode"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Boundary    int           `mapstructure:"boundary"`
}

type Fetch struct {
	Mode      string        `mapstructure:"mode"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// RemoteURL points at a running Chrome DevTools endpoint.
	RemoteURL string `mapstructure:"remote_url"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

type Watch struct {
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	SourceLang string `mapstructure:"source_lang"`
	TargetLang string `mapstructure:"target_lang"`
	Caching    bool   `mapstructure:"caching"`
	DB         string `mapstructure:"db"`

	Provider Provider                   `mapstructure:"provider"`
	Dispatch Dispatch                   `mapstructure:"dispatch"`
	Breaker  translator.BreakerSettings `mapstructure:"breaker"`
	Fetch    Fetch                      `mapstructure:"fetch"`
	Server   Server                     `mapstructure:"server"`
	Watch    Watch                      `mapstructure:"watch"`
}

// SetDefaults registers every key with its default so env overrides and
// Unmarshal see it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source_lang", "auto")
	v.SetDefault("target_lang", "en")
	v.SetDefault("caching", true)
	v.SetDefault("db", "./data/pagetran.db")

	v.SetDefault("provider.api", "amazon")
	v.SetDefault("provider.llm", "bedrock")
	for _, k := range []string{"credentials", "api_key", "model", "base_url", "project_id", "region", "access_key_id", "secret_access_key"} {
		v.SetDefault("provider."+k, "")
	}
	v.SetDefault("provider.timeout", 0)

	v.SetDefault("dispatch.mode", ModeFragment)
	v.SetDefault("dispatch.concurrency", 8)
	v.SetDefault("dispatch.timeout", 30*time.Second)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.retry_delay", 100*time.Millisecond)
	v.SetDefault("dispatch.boundary", framer.DefaultBoundary)

	v.SetDefault("breaker.failures", 5)
	v.SetDefault("breaker.cooldown", 30*time.Second)

	v.SetDefault("fetch.mode", fetch.ModeAuto)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; PageTran/1.0)")
	v.SetDefault("fetch.remote_url", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("watch.interval", 10*time.Second)
}

// New returns a viper instance with defaults and PAGETRAN_ environment
// binding ("dispatch.mode" reads PAGETRAN_DISPATCH_MODE).
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("PAGETRAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load decodes and validates v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.TargetLang == "" {
		return fmt.Errorf("target_lang is required")
	}
	switch c.Dispatch.Mode {
	case ModeFragment, ModeBatch:
	default:
		return fmt.Errorf("dispatch.mode must be %q or %q, got %q", ModeFragment, ModeBatch, c.Dispatch.Mode)
	}
	switch c.Fetch.Mode {
	case fetch.ModeAuto, fetch.ModeHTTP, fetch.ModeBrowser:
	default:
		return fmt.Errorf("fetch.mode must be auto, http or browser, got %q", c.Fetch.Mode)
	}
	if c.Dispatch.Concurrency < 0 {
		return fmt.Errorf("dispatch.concurrency must not be negative")
	}
	if c.Dispatch.Boundary < 0 {
		return fmt.Errorf("dispatch.boundary must not be negative")
	}
	return nil
}

// Command builds the pass command for the configured defaults. useLLM
// selects the model-backed provider.
func (c *Config) Command(useLLM bool) pipeline.Command {
	return pipeline.Command{
		Credentials:    c.Provider.ServiceConfig,
		SourceLang:     c.SourceLang,
		TargetLang:     c.TargetLang,
		CachingEnabled: c.Caching,
		BedrockEnabled: useLLM,
		Batched:        c.Dispatch.Mode == ModeBatch,
	}
}

func (c *Config) DispatcherConfig(logger *slog.Logger) dispatch.Config {
	return dispatch.Config{
		Concurrency: c.Dispatch.Concurrency,
		Timeout:     c.Dispatch.Timeout,
		MaxAttempts: c.Dispatch.MaxAttempts,
		RetryDelay:  c.Dispatch.RetryDelay,
		Boundary:    c.Dispatch.Boundary,
		Logger:      logger,
	}
}
