/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/pagetran/internal/config"
)

var version = "0.3.0"

var (
	cfgFile   string
	verbose   bool
	logFormat string
	noCache   bool
	batchMode bool

	v      = config.New()
	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "pagetran",
	Short: "Translate web pages in place",
	Long: `A CLI application that translates the visible text of HTML pages while
keeping their markup, and remembers translations per page so unchanged text
is never sent to a provider twice.

Providers: amazon, google (translate APIs); bedrock, openai, gemini,
openrouter, ollama (LLMs).

Use "pagetran translate --help" for translation options.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default $HOME/.pagetran.yaml or ./.pagetran.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	pf.StringP("source", "s", "auto", "Source language code")
	pf.StringP("target", "t", "en", "Target language code")
	pf.String("db", "./data/pagetran.db", "Database path for the page cache")
	pf.BoolVar(&noCache, "no-cache", false, "Do not read or persist cached translations")
	pf.BoolVar(&batchMode, "batch", false, "Pack fragments into framed documents (one provider call per batch)")

	pf.String("api", "amazon", "Translate-API provider: amazon or google")
	pf.String("llm", "bedrock", "LLM provider: bedrock, openai, gemini, openrouter or ollama")
	pf.String("region", "", "AWS region")
	pf.String("credentials", "", "Path to Google Cloud credentials")
	pf.String("api-key", "", "API key for the selected provider")
	pf.String("model", "", "Model for the LLM provider")
	pf.String("base-url", "", "Base URL for OpenAI-compatible, OpenRouter or Ollama endpoints")
	pf.Int("concurrency", 8, "Maximum concurrent provider calls")
	pf.Int("max-retries", 3, "Total attempts per provider call including the first (1 = no retries)")
	pf.String("fetch", "auto", "Page acquisition: auto, http or browser")

	bind := map[string]string{
		"source_lang":           "source",
		"target_lang":           "target",
		"db":                    "db",
		"provider.api":          "api",
		"provider.llm":          "llm",
		"provider.region":       "region",
		"provider.credentials":  "credentials",
		"provider.api_key":      "api-key",
		"provider.model":        "model",
		"provider.base_url":     "base-url",
		"dispatch.concurrency":  "concurrency",
		"dispatch.max_attempts": "max-retries",
		"fetch.mode":            "fetch",
	}
	for key, flag := range bind {
		cobra.CheckErr(v.BindPFlag(key, pf.Lookup(flag)))
	}
}

func initConfig(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".pagetran")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if noCache {
		v.Set("caching", false)
	}
	if batchMode {
		v.Set("dispatch.mode", config.ModeBatch)
	}

	logger = newLogger()
	slog.SetDefault(logger)
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("using config file", "path", used)
	}
	return nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if logFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func loadConfig() (*config.Config, error) {
	c, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if c.Caching && c.DB != "" {
		if err := os.MkdirAll(filepath.Dir(c.DB), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return c, nil
}
