// Package api exposes the breathing-rate service over HTTP: capture upload
// and analysis, result queries, the rendered rate-history report, and the
// storage endpoints that surface pin state and drive reconciliation.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/breathing.report/internal/breathing"
	"github.com/banshee-data/breathing.report/internal/csi"
	"github.com/banshee-data/breathing.report/internal/db"
	"github.com/banshee-data/breathing.report/internal/monitoring"
	"github.com/banshee-data/breathing.report/internal/spectral"
	"github.com/banshee-data/breathing.report/internal/storage"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	store      *storage.Store
	analyzer   *breathing.Analyzer
	reconciler *storage.Reconciler
}

func NewServer(store *storage.Store, analyzer *breathing.Analyzer, reconciler *storage.Reconciler) *Server {
	return &Server{
		store:      store,
		analyzer:   analyzer,
		reconciler: reconciler,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/breathing/upload-csi", s.uploadCSI)
	mux.HandleFunc("POST /api/breathing/analyze", s.analyzeRates)
	mux.HandleFunc("GET /api/breathing/results/{device_id}", s.listResults)
	mux.HandleFunc("GET /api/breathing/results/{device_id}/latest", s.latestResult)
	mux.HandleFunc("GET /api/breathing/result/{id}", s.getResult)
	mux.HandleFunc("GET /api/breathing/artifact/{digest}", s.getArtifact)
	mux.HandleFunc("GET /api/breathing/report/{device_id}", s.deviceReport)
	mux.HandleFunc("GET /api/health", s.health)
	mux.HandleFunc("POST /api/storage/reconcile", s.runReconcile)
	mux.HandleFunc("GET /api/storage/status", s.storageStatus)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: failed to encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// analysisErrorStatus maps pipeline errors onto HTTP statuses: capture and
// input defects are the client's fault, a quiet spectrum is unprocessable
// rather than malformed, and anything else is ours.
func analysisErrorStatus(err error) int {
	switch {
	case errors.Is(err, breathing.ErrNoPeakDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, breathing.ErrEmptyInput),
		errors.Is(err, csi.ErrMalformedCapture),
		errors.Is(err, csi.ErrUnsupportedLayout),
		errors.Is(err, csi.ErrEmptyCapture),
		errors.Is(err, csi.ErrNonMonotonicTimestamps),
		errors.Is(err, csi.ErrInsufficientSamples),
		errors.Is(err, spectral.ErrIrregularSampling):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeAnalysisError renders a pipeline error. ErrNoPeakDetected gets a
// stable message clients can show to a person pointing a sensor at an empty
// room; everything else passes the error text through.
func (s *Server) writeAnalysisError(w http.ResponseWriter, err error) {
	status := analysisErrorStatus(err)
	if errors.Is(err, breathing.ErrNoPeakDetected) {
		s.writeJSONError(w, status, "no reliable rate could be computed: "+err.Error())
		return
	}
	s.writeJSONError(w, status, err.Error())
}
