// Package server exposes translation passes and cache maintenance over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/valpere/pagetran/internal/dom"
	"github.com/valpere/pagetran/internal/fetch"
	"github.com/valpere/pagetran/internal/pipeline"
	"github.com/valpere/pagetran/internal/reconcile"
	"github.com/valpere/pagetran/internal/store"
)

const maxRequestBody = 16 << 20

// Stater is implemented by caches that can summarise their contents.
type Stater interface {
	Stats(ctx context.Context) (*store.CacheStats, error)
}

type Config struct {
	Runner  *pipeline.Runner
	Cache   reconcile.Cache
	Fetcher fetch.Fetcher
	// Defaults fill every command field a request leaves out.
	Defaults pipeline.Command
	Logger   *slog.Logger
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	router chi.Router
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Post("/translate", s.handleTranslate)
		r.Get("/cache", s.handleCacheGet)
		r.Delete("/cache", s.handleCacheClear)
		r.Get("/cache/stats", s.handleCacheStats)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type translateRequest struct {
	URL     string           `json:"url"`
	HTML    string           `json:"html"`
	PageID  string           `json:"pageId"`
	Command pipeline.Command `json:"command"`
}

type failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type translateResponse struct {
	pipeline.Status
	PassID     string    `json:"passId,omitempty"`
	PageID     string    `json:"pageId"`
	Fragments  int       `json:"fragments"`
	FromCache  int       `json:"fromCache"`
	Translated int       `json:"translated"`
	Failed     []failure `json:"failed,omitempty"`
	HTML       string    `json:"html,omitempty"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	req := translateRequest{Command: s.cfg.Defaults}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" && req.HTML == "" {
		writeError(w, http.StatusBadRequest, "url or html required")
		return
	}

	pageID := req.PageID
	if pageID == "" {
		pageID = req.URL
	}
	if pageID == "" {
		writeError(w, http.StatusBadRequest, "pageId required with inline html")
		return
	}

	source := req.HTML
	if source == "" {
		if s.cfg.Fetcher == nil {
			writeError(w, http.StatusBadRequest, "fetching is disabled, send html")
			return
		}
		page, err := s.cfg.Fetcher.Fetch(r.Context(), req.URL)
		if err != nil {
			s.logger.Warn("fetch failed", "url", req.URL, "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		source = string(page.HTML)
	}

	doc, err := dom.Parse(strings.NewReader(source))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.cfg.Runner.Run(r.Context(), pageID, dom.Body(doc), req.Command)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, dom.ErrNoRoot), errors.Is(err, pipeline.ErrNoService):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, pipeline.ErrSuperseded):
			status = http.StatusConflict
		}
		writeJSON(w, status, translateResponse{
			Status: pipeline.Status{State: pipeline.StateError, Message: pipeline.MsgError},
			PageID: pageID,
		})
		s.logger.Warn("translate failed", "page", pageID, "error", err)
		return
	}

	out, err := dom.RenderString(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := translateResponse{
		Status:     pipeline.Status{State: pipeline.StateComplete, Message: pipeline.MsgComplete},
		PassID:     res.PassID,
		PageID:     pageID,
		Fragments:  res.Fragments,
		FromCache:  res.FromCache,
		Translated: res.Report.Translated,
		HTML:       out,
	}
	for _, f := range res.Report.Failed {
		resp.Failed = append(resp.Failed, failure{ID: f.ID, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	pageID := r.URL.Query().Get("page")
	if pageID == "" {
		writeError(w, http.StatusBadRequest, "page query parameter required")
		return
	}
	if s.cfg.Cache == nil {
		writeError(w, http.StatusNotFound, "caching is disabled")
		return
	}
	c, err := s.cfg.Cache.Get(r.Context(), pageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	pageID := r.URL.Query().Get("page")
	if pageID == "" {
		writeError(w, http.StatusBadRequest, "page query parameter required")
		return
	}
	if err := s.cfg.Runner.ClearCache(r.Context(), pageID); err != nil {
		writeJSON(w, http.StatusInternalServerError, pipeline.Status{State: pipeline.StateError, Message: pipeline.MsgError})
		return
	}
	writeJSON(w, http.StatusOK, pipeline.Status{State: pipeline.StateComplete, Message: pipeline.MsgCleared})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	st, ok := s.cfg.Cache.(Stater)
	if !ok {
		writeError(w, http.StatusNotImplemented, "cache does not report stats")
		return
	}
	stats, err := st.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
