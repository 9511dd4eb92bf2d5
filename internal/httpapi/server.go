package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edgelm/internal/statsstore"
	"edgelm/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *manager.Manager implements it.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Infer(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error
	Stop() bool
	Load(ctx context.Context, model string) error
	Unload() error
	Ready() bool
}

// StatsReader serves GET /stats. *statsstore.Store implements it.
type StatsReader interface {
	Recent(ctx context.Context, model string, limit int) ([]statsstore.Record, error)
	Summaries(ctx context.Context) ([]statsstore.Summary, error)
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Summaries []statsstore.Summary `json:"summaries"`
	Recent    []statsstore.Record  `json:"recent"`
}

// Option customizes NewMux.
type Option func(*server)

// WithStats enables GET /stats backed by r.
func WithStats(r StatsReader) Option { return func(s *server) { s.stats = r } }

type server struct {
	svc    Service
	stats  StatsReader
	limits Limits
	cors   *CORS
}

func NewMux(svc Service, opts ...Option) http.Handler {
	s := &server{svc: svc, limits: Limits{}.normalized()}
	for _, o := range opts {
		o(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// NDJSON is not in the compressible set, so streaming is unaffected.
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if s.cors != nil {
		r.Use(s.cors.handler())
	}

	r.Get("/models", s.handleModels)
	r.Get("/status", s.handleStatus)
	r.Post("/infer", s.handleInfer)
	r.Post("/stop", s.handleStop)
	r.Post("/load", s.handleLoad)
	r.Post("/unload", s.handleUnload)
	r.Get("/stats", s.handleStats)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

// handleModels godoc
// @Summary      List models
// @Description  Models discovered in the models directory.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: s.svc.ListModels()})
}

// handleStatus godoc
// @Summary      Manager status
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// handleInfer godoc
// @Summary      Run inference
// @Description  Streams NDJSON: one {"token"} line per token, then a {"done":true} line.
// @Tags         inference
// @Accept       json
// @Produce      application/x-ndjson
// @Param        request  body      types.InferRequest  true  "Inference request"
// @Success      200      {object}  types.DoneLine
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      409      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      502      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /infer [post]
func (s *server) handleInfer(w http.ResponseWriter, r *http.Request) {
	var req types.InferRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	start := time.Now()
	lvl := requestLogLevel(r)
	out := &countingWriter{w: w}
	var writer io.Writer = out
	if lvl >= LevelDebug {
		writer = io.MultiWriter(out, &loggingLineWriter{rid: middleware.GetReqID(r.Context())})
	}
	if lvl >= LevelInfo {
		reqLog(r).Info().Str("model", req.Model).Msg("infer start")
	}

	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	if s.limits.InferTimeout > 0 {
		var tc context.CancelFunc
		ctx, tc = context.WithTimeout(ctx, s.limits.InferTimeout)
		defer tc()
	}

	err := s.svc.Infer(ctx, req, writer, flush)
	switch {
	case err == nil:
		if lvl >= LevelInfo {
			reqLog(r).Info().Int("status", http.StatusOK).Dur("dur", time.Since(start)).Msg("infer end")
		}
		return
	case r.Context().Err() != nil || serverBaseCtx.Err() != nil:
		// client gone or shutting down
		return
	}

	status := statusFor(err)
	if status == http.StatusConflict {
		IncrementBackpressure("conflict")
	}
	if out.n == 0 {
		writeJSONError(w, status, err.Error())
	} else {
		// headers are already sent; report the failure in-band
		_ = json.NewEncoder(w).Encode(types.ErrorLine{Error: err.Error(), Code: status, Done: true})
		if flush != nil {
			flush()
		}
	}
	if lvl >= LevelError {
		ev := reqLog(r).Info()
		if status >= http.StatusInternalServerError {
			ev = reqLog(r).Error()
		}
		ev.Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("infer end")
	}
}

// handleStop godoc
// @Summary      Stop the current generation
// @Description  Returns immediately; the running call completes with the text produced so far.
// @Tags         inference
// @Produce      json
// @Success      200  {object}  types.StopResponse
// @Router       /stop [post]
func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.StopResponse{Stopped: s.svc.Stop()})
}

// handleLoad godoc
// @Summary      Load a model
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        request  body      types.LoadRequest  true  "Model to load"
// @Success      200      {object}  types.StatusResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      409      {object}  types.ErrorResponse
// @Failure      502      {object}  types.ErrorResponse
// @Router       /load [post]
func (s *server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	if err := s.svc.Load(ctx, req.Model); err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// handleUnload godoc
// @Summary      Unload the current model
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Failure      500  {object}  types.ErrorResponse
// @Router       /unload [post]
func (s *server) handleUnload(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Unload(); err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// handleStats godoc
// @Summary      Generation statistics
// @Tags         status
// @Produce      json
// @Param        model  query     string  false  "Filter recent calls by model"
// @Param        limit  query     int     false  "Number of recent calls (default 50)"
// @Success      200    {object}  httpapi.StatsResponse
// @Failure      503    {object}  types.ErrorResponse
// @Router       /stats [get]
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "statistics store disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	sums, err := s.stats.Summaries(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	recent, err := s.stats.Recent(r.Context(), r.URL.Query().Get("model"), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Summaries: sums, Recent: recent})
}

// decodeJSON enforces the content type and body limit. It writes the error
// response itself and reports whether decoding succeeded.
func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.limits.MaxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// an oversized body also lands here; 400 avoids leaking the limit
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
