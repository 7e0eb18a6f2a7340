package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/breathing.report/internal/breathing"
	"github.com/banshee-data/breathing.report/internal/db"
	"github.com/banshee-data/breathing.report/internal/security"
	"github.com/banshee-data/breathing.report/internal/storage"
	"github.com/banshee-data/breathing.report/internal/version"
)

// maxUploadBytes bounds a capture upload. A 30 second 80MHz capture runs a
// few megabytes; anything near this limit is not a CSI pcap.
const maxUploadBytes = 64 << 20

func (s *Server) uploadCSI(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse multipart form: %v", err))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "missing capture file: expected multipart field 'file'")
		return
	}
	defer file.Close()

	capture, err := io.ReadAll(file)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("failed to read capture: %v", err))
		return
	}

	metaJSON := r.FormValue("metadata")
	if strings.TrimSpace(metaJSON) == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing metadata: expected multipart field 'metadata'")
		return
	}

	var meta breathing.CaptureMetadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid metadata JSON: %v", err))
		return
	}
	if err := meta.Validate(); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.analyzer.AnalyzeCapture(r.Context(), capture, &meta)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}

	saved, err := s.store.SaveResult(r.Context(), result)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save result: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, saved)
}

type analyzeRequest struct {
	DeviceID string    `json:"device_id"`
	Rates    []float64 `json:"rates"`
}

func (s *Server) analyzeRates(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		s.writeJSONError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	result, err := s.analyzer.AnalyzeRates(req.DeviceID, req.Rates)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}

	saved, err := s.store.SaveResult(r.Context(), result)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save result: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	start, ok := parseUnixParam(r, "start")
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'start' parameter")
		return
	}
	end, ok := parseUnixParam(r, "end")
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'end' parameter")
		return
	}

	results, err := s.store.ListByDevice(deviceID, limit, start, end)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list results: %v", err))
		return
	}
	if results == nil {
		results = []breathing.AnalysisResult{}
	}

	s.writeJSON(w, http.StatusOK, results)
}

// parseUnixParam reads an optional unix-seconds query parameter. Absent means
// unbounded and parses as zero.
func parseUnixParam(r *http.Request, name string) (int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil || parsed < 0 {
		return 0, false
	}
	return parsed, true
}

func (s *Server) latestResult(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	result, err := s.store.LatestByDevice(deviceID)
	if errors.Is(err, db.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no results for device %q", deviceID))
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get latest result: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := security.ValidateResultID(id); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.store.GetByID(id)
	if errors.Is(err, db.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no result with id %q", id))
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get result: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	digest := r.PathValue("digest")
	if err := security.ValidateDigest(digest); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := s.store.GetArtifact(r.Context(), digest)
	if errors.Is(err, db.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no artifact with digest %q", digest))
		return
	}
	if errors.Is(err, storage.ErrDigestMismatch) {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("artifact failed verification: %v", err))
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read artifact: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

type healthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version"`
	CAS     *storage.NodeStatus `json:"cas"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.String(),
		CAS:     s.store.CASStatus(r.Context()),
	})
}

func (s *Server) runReconcile(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "pin reconciler is not running")
		return
	}

	stats, err := s.reconciler.RunOnce(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("reconcile failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

type storageStatusResponse struct {
	PinStatusCounts map[breathing.PinStatus]int `json:"pin_status_counts"`
	Reconciler      *storage.ReconcilerStatus   `json:"reconciler,omitempty"`
	CAS             *storage.NodeStatus         `json:"cas"`
}

func (s *Server) storageStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.PinStatusCounts()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to count pin statuses: %v", err))
		return
	}

	resp := storageStatusResponse{
		PinStatusCounts: counts,
		CAS:             s.store.CASStatus(r.Context()),
	}
	if s.reconciler != nil {
		status := s.reconciler.Status()
		resp.Reconciler = &status
	}

	s.writeJSON(w, http.StatusOK, resp)
}
