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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/pagetran/internal/dom"
)

var (
	csvInputFile string
	csvParallel  int
)

var csvCmd = &cobra.Command{
	Use:   "csv",
	Short: "Translate every page listed in a CSV file",
	Long: `Translate many pages in one run. Each CSV row is "source,output" where
source is an http(s) URL or a local file and output is the file that receives
the translated page. A header row whose first cell is "source" is skipped.

Different pages are translated in parallel; --parallel caps how many.

Example:
  pagetran translate csv -i pages.csv -t uk --parallel 4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		f, err := os.Open(csvInputFile)
		if err != nil {
			return fmt.Errorf("failed to open input CSV: %w", err)
		}
		defer f.Close()

		rows, err := readRows(f)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("CSV file is empty")
		}

		c, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(c, logger, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		fetcher, closeFetcher, err := newFetcher(c, logger)
		if err != nil {
			return err
		}
		defer closeFetcher()

		jobs := groupRows(rows)

		var done, failed atomic.Int32
		g := &errgroup.Group{}
		if csvParallel > 0 {
			g.SetLimit(csvParallel)
		}
		command := c.Command(useLLM)
		for _, job := range jobs {
			g.Go(func() error {
				pageID, doc, err := loadPage(ctx, fetcher, job.source)
				if err == nil {
					_, err = a.runner.Run(ctx, pageID, dom.Body(doc), command)
				}
				for _, out := range job.outputs {
					werr := err
					if werr == nil {
						werr = writeDocument(doc, out)
					}
					if werr != nil {
						failed.Add(1)
						logger.Error("page failed", "source", job.source, "output", out, "error", werr)
						continue
					}
					done.Add(1)
					logger.Info("page translated", "source", job.source, "output", out)
				}
				return nil
			})
		}
		_ = g.Wait()

		fmt.Fprintf(os.Stderr, "Translated %d/%d pages to %s\n", done.Load(), len(rows), c.TargetLang)
		if failed.Load() > 0 {
			return fmt.Errorf("%d pages failed", failed.Load())
		}
		return nil
	},
}

type csvJob struct {
	source  string
	outputs []string
}

// groupRows merges rows naming the same page so each page runs one pass.
// Concurrent passes over one page would supersede each other.
func groupRows(rows [][2]string) []*csvJob {
	var jobs []*csvJob
	bySource := map[string]*csvJob{}
	for _, row := range rows {
		key := row[0]
		if !strings.HasPrefix(key, "http://") && !strings.HasPrefix(key, "https://") {
			if abs, err := filepath.Abs(key); err == nil {
				key = abs
			}
		}
		job, ok := bySource[key]
		if !ok {
			job = &csvJob{source: row[0]}
			bySource[key] = job
			jobs = append(jobs, job)
		}
		job.outputs = append(job.outputs, row[1])
	}
	return jobs
}

// readRows returns the source,output pairs of r, skipping a header row.
func readRows(r io.Reader) ([][2]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	var rows [][2]string
	for i, rec := range records {
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if i == 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "source") {
			continue
		}
		if len(rec) < 2 || strings.TrimSpace(rec[1]) == "" {
			return nil, fmt.Errorf("CSV line %d: output column required", i+1)
		}
		rows = append(rows, [2]string{strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])})
	}
	return rows, nil
}

func init() {
	translateCmd.AddCommand(csvCmd)

	csvCmd.Flags().StringVarP(&csvInputFile, "input", "i", "", "CSV file listing source,output rows (required)")
	csvCmd.Flags().IntVar(&csvParallel, "parallel", 2, "Pages translated at once")
	csvCmd.Flags().BoolVar(&useLLM, "use-llm", false, "Translate with the --llm provider instead of --api")
	csvCmd.MarkFlagRequired("input")
}
