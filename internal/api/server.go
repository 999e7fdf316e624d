// Package api serves the analysis, benchmark, health, metrics and stats
// endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"veil/internal/apperrors"
	"veil/internal/benchmark"
	"veil/internal/detect"
	"veil/internal/logging"
	"veil/internal/metrics"
	"veil/internal/orchestrator"
	"veil/internal/stats"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 10 << 20

type Options struct {
	Addr        string
	CORSOrigins []string
	// AuditLog is read by /api/stats.
	AuditLog  string
	StartedAt time.Time
}

type Server struct {
	httpServer *http.Server
	orch       *orchestrator.Orchestrator
	bench      *benchmark.Harness
	metrics    *metrics.Metrics
	opts       Options
	log        zerolog.Logger
}

func New(orch *orchestrator.Orchestrator, bench *benchmark.Harness, m *metrics.Metrics, opts Options, log zerolog.Logger) *Server {
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now().UTC()
	}
	s := &Server{
		orch:    orch,
		bench:   bench,
		metrics: m,
		opts:    opts,
		log:     logging.Component(log, "api"),
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /analyze/{engine}", s.handleAnalyze)
	mux.HandleFunc("POST /benchmark", s.handleBenchmark)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /api/stats", s.handleStats)
	return s.logRequests(s.cors(mux))
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("veil listening")
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status       string            `json:"status"`
	ModelsLoaded map[string]bool   `json:"models_loaded"`
	LoadErrors   map[string]string `json:"load_errors,omitempty"`
	Timestamp    float64           `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	reg := s.orch.Registry()
	resp := healthResponse{
		Status:       "healthy",
		ModelsLoaded: reg.ModelsLoaded(),
		Timestamp:    float64(now.UnixNano()) / 1e9,
	}
	for _, k := range detect.Kinds() {
		if err := reg.LoadError(k); err != nil {
			if resp.LoadErrors == nil {
				resp.LoadErrors = make(map[string]string)
			}
			resp.LoadErrors[k.String()] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type analyzeRequest struct {
	Text   *string         `json:"text"`
	Config json.RawMessage `json:"config,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sel, err := detect.ParseSelector(r.PathValue("engine"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var req analyzeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, decodeStatus(err), err.Error())
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, apperrors.ValidationError{Field: "text", Message: "field required"}.Error())
		return
	}
	cfg, err := requestConfig(sel, req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.orch.Analyze(r.Context(), *req.Text, cfg)
	if err != nil {
		writeError(w, apperrors.HTTPStatus(err), err.Error())
		return
	}
	res.Findings = detect.CodePointFindings(*req.Text, res.Findings)
	writeJSON(w, http.StatusOK, res)
}

// requestConfig decodes the optional config object. The path selector always
// wins over any engine named in the body.
func requestConfig(sel detect.Selector, raw json.RawMessage) (detect.Config, error) {
	cfg := detect.DefaultConfig(sel)
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return detect.Config{}, apperrors.ValidationError{Field: "config", Message: err.Error()}
		}
	}
	cfg.Engine = sel
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return detect.Config{}, apperrors.ValidationError{Field: "confidence_threshold", Message: "must be within [0,1]"}
	}
	return cfg, nil
}

type benchmarkRequest struct {
	Text *string `json:"text"`
}

func (s *Server) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	var req benchmarkRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, decodeStatus(err), err.Error())
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, apperrors.ValidationError{Field: "text", Message: "field required"}.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.bench.Run(r.Context(), *req.Text))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := stats.CollectFromFile(s.opts.AuditLog, stats.Options{
		Now:    time.Now().UTC(),
		Status: "running",
		Uptime: time.Since(s.opts.StartedAt),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		case errors.As(err, &tooLarge):
			return fmt.Errorf("request body exceeds %d bytes: %w", tooLarge.Limit, err)
		}
		return err
	}
	return nil
}

// decodeStatus maps a decodeBody error to its response status.
func decodeStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(s.opts.CORSOrigins, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
					h.Set("Access-Control-Allow-Headers", req)
				}
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(p)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		ev := s.log.Debug()
		if rec.status >= http.StatusInternalServerError {
			ev = s.log.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", strings.TrimSpace(r.URL.Path)).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
