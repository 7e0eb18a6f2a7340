package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/breathing.report/internal/api"
	"github.com/banshee-data/breathing.report/internal/breathing"
	"github.com/banshee-data/breathing.report/internal/config"
	"github.com/banshee-data/breathing.report/internal/db"
	"github.com/banshee-data/breathing.report/internal/fsutil"
	"github.com/banshee-data/breathing.report/internal/storage"
	"github.com/banshee-data/breathing.report/internal/testutil"
	"github.com/banshee-data/breathing.report/internal/timeutil"
)

// TestFlagDefaults verifies the server flags exist with their documented
// defaults before flag.Parse has run.
func TestFlagDefaults(t *testing.T) {
	if *listen != ":8080" {
		t.Errorf("expected listen default :8080, got %q", *listen)
	}
	if *dbPath != "breathing.db" {
		t.Errorf("expected db default breathing.db, got %q", *dbPath)
	}
	if *artifactDir != "" {
		t.Errorf("expected empty artifacts default, got %q", *artifactDir)
	}
	if *casURL != "" {
		t.Errorf("expected empty cas-url default, got %q", *casURL)
	}
	if *configPath != "" {
		t.Errorf("expected empty config default, got %q", *configPath)
	}
	if *devMode {
		t.Error("expected dev default to be false")
	}
	if *debugSQL {
		t.Error("expected debug-sql default to be false")
	}
	if *showVersion {
		t.Error("expected version default to be false")
	}
}

// TestServerEndToEnd wires the binary's components the way main does, with a
// real on-disk artifact directory and index database, and runs a capture
// through upload, latest, artifact and health.
func TestServerEndToEnd(t *testing.T) {
	testingDir := t.TempDir()

	// Print out the testing directory for debugging purposes
	t.Logf("Testing directory: %s", testingDir)

	d, err := db.NewDB(filepath.Join(testingDir, "test_breathing.db"))
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	}()

	artifacts := filepath.Join(testingDir, "artifacts")
	cfg := config.EmptyAnalysisConfig()
	cfg.ArtifactDir = &artifacts

	cas := storage.NewMemoryStore()
	store, err := storage.NewStore(d, fsutil.OSFileSystem{}, cas, cfg, timeutil.RealClock{})
	if err != nil {
		t.Fatalf("Failed to create result store: %v", err)
	}

	analyzer := breathing.NewAnalyzer(cfg)
	reconciler := storage.NewReconciler(store, cfg)
	handler := api.LoggingMiddleware(api.NewServer(store, analyzer, reconciler).ServeMux())

	// Upload a synthetic capture with a 0.3125 Hz signal: 18.75 BPM.
	capture := testutil.BuildCapture(t, testutil.CaptureSpec{
		WidthCode:   2,
		Frames:      256,
		SampleRate:  10,
		BreathingHz: 0.3125,
	})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "capture.pcap")
	if err != nil {
		t.Fatalf("Failed to build multipart file: %v", err)
	}
	if _, err := fw.Write(capture); err != nil {
		t.Fatalf("Failed to write capture bytes: %v", err)
	}
	if err := mw.WriteField("metadata", `{"device_id":"e2e-pi","channel_width":"80MHz","location":"bedroom"}`); err != nil {
		t.Fatalf("Failed to write metadata field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/breathing/upload-csi", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("upload returned %d: %s", w.Code, w.Body.String())
	}

	var uploaded breathing.AnalysisResult
	if err := json.NewDecoder(w.Body).Decode(&uploaded); err != nil {
		t.Fatalf("Failed to decode upload response: %v", err)
	}
	if uploaded.BreathingRateBPM < 18.7 || uploaded.BreathingRateBPM > 18.8 {
		t.Errorf("expected ~18.75 BPM, got %v", uploaded.BreathingRateBPM)
	}
	if uploaded.PinStatus != breathing.PinPinned {
		t.Errorf("expected pinned result, got %s", uploaded.PinStatus)
	}

	// The artifact really landed on disk under the configured directory.
	artifactPath := filepath.Join(artifacts, uploaded.ID+".json")
	if _, err := os.Stat(artifactPath); err != nil {
		t.Errorf("artifact not on disk: %v", err)
	}

	// The latest endpoint returns the identical record.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/breathing/results/e2e-pi/latest", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("latest returned %d: %s", w.Code, w.Body.String())
	}
	var latest breathing.AnalysisResult
	if err := json.NewDecoder(w.Body).Decode(&latest); err != nil {
		t.Fatalf("Failed to decode latest response: %v", err)
	}
	if diff := cmp.Diff(uploaded, latest); diff != "" {
		t.Errorf("uploaded and latest differ (-uploaded +latest):\n%s", diff)
	}

	// Artifact bytes serve back and verify against the digest.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/breathing/artifact/"+uploaded.ContentDigest, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("artifact returned %d: %s", w.Code, w.Body.String())
	}
	if got := storage.HashArtifact(w.Body.Bytes()); got != uploaded.ContentDigest {
		t.Errorf("served artifact hashes to %s, want %s", got, uploaded.ContentDigest)
	}

	// Health reports the in-memory node as reachable.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health returned %d: %s", w.Code, w.Body.String())
	}
}
