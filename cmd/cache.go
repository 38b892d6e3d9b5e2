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
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/valpere/pagetran/internal/reconcile"
	"github.com/valpere/pagetran/internal/store"
)

var (
	cacheShowFormat string
	cacheClearAll   bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the page translation cache",
	Long:  `List, inspect, and clear the SQLite page translation cache.`,
}

func openStore() (*store.Store, error) {
	c, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := store.New(c.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all cached pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No pages in the cache.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PAGE\tPAIRS\tFRAGMENTS\tTRANSLATED\tUPDATED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%s\n",
				e.PageID, e.Pairs, e.Fragments, e.Translated,
				e.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <page>",
	Short: "Print the cached fragments of a page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		c, err := db.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to read cache: %w", err)
		}

		switch cacheShowFormat {
		case "yaml":
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(c)
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(c)
		default:
			return fmt.Errorf("unknown format: %s", cacheShowFormat)
		}
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Printf("Pages:               %d\n", stats.Pages)
		fmt.Printf("Language pairs:      %d\n", stats.Pairs)
		fmt.Printf("Fragments:           %d\n", stats.Fragments)
		fmt.Printf("Translated:          %d\n", stats.Translated)
		fmt.Printf("Pending:             %d\n", stats.Pending)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [page]",
	Short: "Remove the cached translations of one page, or of every page with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cacheClearAll == (len(args) == 1) {
			return fmt.Errorf("give either a page or --all")
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if cacheClearAll {
			n, err := db.ClearAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Printf("Cleared %d pages from the cache.\n", n)
			return nil
		}

		if err := reconcile.Clear(cmd.Context(), db, args[0]); err != nil {
			return err
		}
		fmt.Println("Cleared cache for this page.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheShowCmd.Flags().StringVarP(&cacheShowFormat, "format", "f", "yaml", "Output format: yaml or json")
	cacheClearCmd.Flags().BoolVar(&cacheClearAll, "all", false, "Clear every cached page")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
