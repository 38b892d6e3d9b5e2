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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/valpere/pagetran/internal/dom"
	"github.com/valpere/pagetran/internal/fetch"
)

var (
	outputFile string
	pageIDFlag string
	useLLM     bool
)

var translateCmd = &cobra.Command{
	Use:   "translate <url|file>",
	Short: "Translate one HTML page",
	Long: `Translate the visible text of an HTML page and write the translated page.

The page is fetched when the argument is an http(s) URL and read from disk
otherwise. Text already translated for the same page and language pair is
taken from the cache; only new or changed text is sent to the provider.

Providers:
  --api amazon|google                              translate APIs (default)
  --llm bedrock|openai|gemini|openrouter|ollama    used with --use-llm

Examples:
  pagetran translate https://example.com -t de -o example.de.html
  pagetran translate page.html -s en -t uk --use-llm --llm ollama`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(c, logger, logStatus)
		if err != nil {
			return err
		}
		defer a.Close()

		f, closeFetcher, err := newFetcher(c, logger)
		if err != nil {
			return err
		}
		defer closeFetcher()

		pageID, doc, err := loadPage(ctx, f, args[0])
		if err != nil {
			return err
		}
		if pageIDFlag != "" {
			pageID = pageIDFlag
		}

		res, err := a.runner.Run(ctx, pageID, dom.Body(doc), c.Command(useLLM))
		if err != nil {
			return err
		}

		if err := writeDocument(doc, outputFile); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Successfully translated %s to %s\n", c.SourceLang, c.TargetLang)
		fmt.Fprintf(os.Stderr, "Fragments: %d, from cache: %d, translated: %d, failed: %d\n",
			res.Fragments, res.FromCache, res.Report.Translated, len(res.Report.Failed))
		return nil
	},
}

// loadPage fetches an http(s) URL or reads a local file. Local files are
// identified by their absolute file:// URL.
func loadPage(ctx context.Context, f fetch.Fetcher, target string) (string, *html.Node, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		page, err := f.Fetch(ctx, target)
		if err != nil {
			return "", nil, err
		}
		doc, err := dom.Parse(bytes.NewReader(page.HTML))
		return target, doc, err
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read input file: %w", err)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", nil, err
	}
	doc, err := dom.Parse(bytes.NewReader(data))
	return "file://" + filepath.ToSlash(abs), doc, err
}

// writeDocument renders doc to path, or to stdout when path is empty.
func writeDocument(doc *html.Node, path string) error {
	if path == "" || path == "-" {
		return dom.Render(os.Stdout, doc)
	}

	var buf bytes.Buffer
	if err := dom.Render(&buf, doc); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file for the translated page (default stdout)")
	translateCmd.Flags().StringVar(&pageIDFlag, "page-id", "", "Cache identity for the page (default the URL or file:// path)")
	translateCmd.Flags().BoolVar(&useLLM, "use-llm", false, "Translate with the --llm provider instead of --api")
}
