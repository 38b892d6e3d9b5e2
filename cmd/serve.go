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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/valpere/pagetran/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve translation passes over HTTP",
	Long: `Start an HTTP server exposing:

  POST   /v1/translate        {"url" | "html", "pageId", "command"}
  GET    /v1/cache?page=URL   cached fragments of a page
  DELETE /v1/cache?page=URL   clear the cache of a page
  GET    /v1/cache/stats      cache statistics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := loadConfig()
		if err != nil {
			return err
		}
		addr := c.Server.Addr
		if cmd.Flags().Changed("addr") {
			addr = serveAddr
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

		srv := server.New(server.Config{
			Runner:   a.runner,
			Cache:    a.cache(),
			Fetcher:  f,
			Defaults: c.Command(false),
			Logger:   logger,
		})
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
}
