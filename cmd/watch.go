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
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/pagetran/internal"
	"github.com/valpere/pagetran/internal/dom"
	"github.com/valpere/pagetran/internal/fetch"
	"github.com/valpere/pagetran/internal/pipeline"
)

var (
	watchOutput   string
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <url|file>",
	Short: "Re-translate a page whenever its text changes",
	Long: `Poll a page and run a new translation pass every time its extracted text
changes. Unchanged text is served from the cache, so each pass only sends
what is new. Stop with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c, err := loadConfig()
		if err != nil {
			return err
		}
		interval := c.Watch.Interval
		if cmd.Flags().Changed("interval") {
			interval = watchInterval
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

		w := &watcher{
			target:   args[0],
			fetcher:  f,
			runner:   a.runner,
			command:  c.Command(useLLM),
			output:   watchOutput,
			interval: interval,
			logger:   logger,
		}
		err = w.run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

type watcher struct {
	target   string
	fetcher  fetch.Fetcher
	runner   *pipeline.Runner
	command  pipeline.Command
	output   string
	interval time.Duration
	logger   *slog.Logger

	last [sha256.Size]byte
}

func (w *watcher) run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("poll failed", "target", w.target, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll runs a pass when the page's fragment set differs from the last
// translated one.
func (w *watcher) poll(ctx context.Context) error {
	pageID, doc, err := loadPage(ctx, w.fetcher, w.target)
	if err != nil {
		return err
	}
	root := dom.Body(doc)

	fresh, _, err := dom.Extract(root)
	if err != nil {
		return err
	}
	sum := fingerprint(fresh)
	if sum == w.last {
		w.logger.Debug("page unchanged", "page", pageID)
		return nil
	}

	res, err := w.runner.Run(ctx, pageID, root, w.command)
	if err != nil {
		return err
	}
	// A page with untranslated fragments is polled again even if unchanged.
	if left := len(res.Sequence.Pending()); left > 0 {
		w.logger.Warn("fragments still untranslated", "page", pageID, "pending", left)
	} else {
		w.last = sum
	}

	return writeDocument(doc, w.output)
}

func fingerprint(seq internal.Sequence) [sha256.Size]byte {
	h := sha256.New()
	for _, f := range seq {
		fmt.Fprintf(h, "%s\x00%s\x00", f.ID, f.OriginalText)
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "Output file rewritten after each pass (default stdout)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 10*time.Second, "Polling interval")
	watchCmd.Flags().BoolVar(&useLLM, "use-llm", false, "Translate with the --llm provider instead of --api")
}
