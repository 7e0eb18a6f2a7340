// Package storage persists analysis results across their three homes: a
// canonical JSON artifact on the local filesystem, a replicated copy in a
// content-addressed store, and a row in the SQLite index. The local artifact
// write is the commit point; everything else is derived from it or repaired
// against it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/breathing.report/internal/breathing"
	"github.com/banshee-data/breathing.report/internal/config"
	"github.com/banshee-data/breathing.report/internal/db"
	"github.com/banshee-data/breathing.report/internal/fsutil"
	"github.com/banshee-data/breathing.report/internal/monitoring"
	"github.com/banshee-data/breathing.report/internal/security"
	"github.com/banshee-data/breathing.report/internal/timeutil"
)

// Store coordinates artifact files, the content store and the index. Writes
// for one device serialize on a per-device lock; content-store round-trips
// always happen outside any lock.
type Store struct {
	db          *db.DB
	fs          fsutil.FileSystem
	cas         ContentStore
	cfg         *config.AnalysisConfig
	clock       timeutil.Clock
	artifactDir string
	locks       *deviceLocks
}

// NewStore builds a Store and creates the artifact directory. cas may be nil
// to disable replication entirely; results then stay local and are recorded
// as unpinned. A nil fs, cfg or clock falls back to the real filesystem, a
// fully-defaulted config and the system clock.
func NewStore(database *db.DB, fs fsutil.FileSystem, cas ContentStore, cfg *config.AnalysisConfig, clock timeutil.Clock) (*Store, error) {
	if database == nil {
		return nil, fmt.Errorf("storage: database is required")
	}
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if cfg == nil {
		cfg = config.EmptyAnalysisConfig()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	dir := cfg.GetArtifactDir()
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}
	return &Store{
		db:          database,
		fs:          fs,
		cas:         cas,
		cfg:         cfg,
		clock:       clock,
		artifactDir: dir,
		locks:       newDeviceLocks(),
	}, nil
}

// replicationEnabled reports whether artifacts should be pushed to the
// content store.
func (s *Store) replicationEnabled() bool {
	return s.cas != nil && s.cfg.GetCASEnabled()
}

// artifactPath returns the on-disk location for a result id.
func (s *Store) artifactPath(id string) string {
	return filepath.Join(s.artifactDir, id+".json")
}

// SaveResult persists a computed analysis. The canonical artifact write is
// the commit point: once the JSON is on disk and verified, an upload failure
// degrades the result to pin_status=failed instead of failing the call. A
// digest that is already pin-confirmed is reused without a second upload.
// The returned result carries the assigned id, digest and final pin status.
func (s *Store) SaveResult(ctx context.Context, result *breathing.AnalysisResult) (*breathing.AnalysisResult, error) {
	if result == nil {
		return nil, fmt.Errorf("storage: nil result")
	}
	if result.DeviceID == "" {
		return nil, fmt.Errorf("storage: result has no device id")
	}
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if err := security.ValidateResultID(result.ID); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if result.CreatedAt == 0 {
		result.CreatedAt = s.clock.Now().Unix()
	}

	data, digest, err := EncodeArtifact(result)
	if err != nil {
		return nil, err
	}
	result.ContentDigest = digest

	path := s.artifactPath(result.ID)
	if err := security.ValidatePathWithinDirectory(path, s.artifactDir); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := s.fs.WriteFileAtomic(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	written, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to verify artifact: %w", err)
	}
	if got := HashArtifact(written); got != digest {
		return nil, fmt.Errorf("%w: artifact %s hashed to %s after write, want %s", ErrDigestMismatch, path, got, digest)
	}

	if !s.replicationEnabled() {
		result.PinStatus = breathing.PinUnpinned
		if err := s.indexResult(result, path); err != nil {
			return nil, err
		}
		return result, nil
	}

	// A digest that is already pin-confirmed means byte-identical content is
	// on the content store; only the new analysis row needs writing.
	if rec, err := s.db.GetStorageRecord(digest); err == nil && rec.PinStatus == breathing.PinPinned {
		result.PinStatus = breathing.PinPinned
		lock := s.locks.forDevice(result.DeviceID)
		lock.Lock()
		err := s.db.UpsertAnalysis(result)
		lock.Unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to index result: %w", err)
		}
		return result, nil
	} else if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	// Index the pending upload before attempting it, so a crash mid-flight
	// leaves a row the reconciler will find and finish.
	result.PinStatus = breathing.PinPending
	if err := s.indexResult(result, path); err != nil {
		return nil, err
	}

	// The artifact is committed locally; an abandoned request must not abort
	// replication halfway through. Each RPC stays timeout-bounded.
	cid, attempts, upErr := s.uploadAndPin(context.WithoutCancel(ctx), data)

	now := s.clock.Now().Unix()
	if upErr != nil {
		monitoring.Logf("storage: replication of %s failed after %d attempts: %v", digest, attempts, upErr)
		result.PinStatus = breathing.PinFailed
		if err := s.db.MarkPinFailed(digest, attempts, upErr.Error(), now); err != nil {
			return nil, fmt.Errorf("failed to record pin failure: %w", err)
		}
		return result, nil
	}
	result.PinStatus = breathing.PinPinned
	if err := s.db.MarkPinned(digest, cid, now); err != nil {
		return nil, fmt.Errorf("failed to record pin: %w", err)
	}
	return result, nil
}

// indexResult writes the analysis row and its storage record in one
// device-locked section. The record's created_at survives upserts, so
// re-saving equal content keeps the original timestamps.
func (s *Store) indexResult(result *breathing.AnalysisResult, path string) error {
	now := s.clock.Now().Unix()
	lock := s.locks.forDevice(result.DeviceID)
	lock.Lock()
	defer lock.Unlock()
	if err := s.db.UpsertAnalysis(result); err != nil {
		return fmt.Errorf("failed to index result: %w", err)
	}
	rec := &db.StorageRecord{
		Digest:       result.ContentDigest,
		ArtifactPath: path,
		PinStatus:    result.PinStatus,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.UpsertStorageRecord(rec); err != nil {
		return fmt.Errorf("failed to index storage record: %w", err)
	}
	return nil
}

// GetByID returns the indexed analysis for an id. Lookups are local only,
// whatever the pin status.
func (s *Store) GetByID(id string) (*breathing.AnalysisResult, error) {
	if err := security.ValidateResultID(id); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return s.db.GetAnalysis(id)
}

// GetArtifact returns the canonical artifact bytes for a digest. Content is
// fetched from the content store only once its pin is confirmed, falling
// back to the local copy when the node misbehaves; unconfirmed digests are
// always read locally. Both paths re-hash the bytes before returning them.
func (s *Store) GetArtifact(ctx context.Context, digest string) ([]byte, error) {
	if err := security.ValidateDigest(digest); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	rec, err := s.db.GetStorageRecord(digest)
	if err != nil {
		return nil, err
	}
	if s.replicationEnabled() && rec.PinStatus == breathing.PinPinned && rec.CID != "" {
		data, err := s.cas.Get(ctx, rec.CID)
		switch {
		case err != nil:
			monitoring.Logf("storage: content store read for %s failed, serving local copy: %v", digest, err)
		case HashArtifact(data) != digest:
			monitoring.Logf("storage: content store returned wrong bytes for %s (cid %s), serving local copy", digest, rec.CID)
		default:
			return data, nil
		}
	}
	data, err := s.fs.ReadFile(rec.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	if got := HashArtifact(data); got != digest {
		return nil, fmt.Errorf("%w: artifact %s hashed to %s, want %s", ErrDigestMismatch, rec.ArtifactPath, got, digest)
	}
	return data, nil
}

// ListByDevice returns results for a device, most recent first. Zero start
// and end bounds mean unbounded; limit falls back to the index default.
func (s *Store) ListByDevice(deviceID string, limit int, startUnix, endUnix int64) ([]breathing.AnalysisResult, error) {
	return s.db.ListAnalyses(deviceID, limit, startUnix, endUnix)
}

// LatestByDevice returns the most recent result for a device.
func (s *Store) LatestByDevice(deviceID string) (*breathing.AnalysisResult, error) {
	return s.db.LatestAnalysis(deviceID)
}

// PinStatusCounts reports how many storage records sit in each pin state.
func (s *Store) PinStatusCounts() (map[breathing.PinStatus]int, error) {
	return s.db.PinStatusCounts()
}

// CASStatus reports content-store health for the health and storage-status
// endpoints.
func (s *Store) CASStatus(ctx context.Context) *NodeStatus {
	if !s.replicationEnabled() {
		return &NodeStatus{Available: false, Error: "content store disabled"}
	}
	status, err := s.cas.Status(ctx)
	if err != nil {
		return &NodeStatus{Available: false, Error: err.Error()}
	}
	return status
}

// RebuildIndex rescans the artifact directory and recreates missing storage
// records. The index is derived data; the artifacts on disk are the durable
// source, so a lost or damaged database can be repaired in place. Existing
// rows are left untouched. Returns the number of records recreated.
func (s *Store) RebuildIndex(ctx context.Context) (int, error) {
	names, err := s.fs.ReadDir(s.artifactDir)
	if err != nil {
		return 0, fmt.Errorf("failed to scan artifact directory: %w", err)
	}
	repaired := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return repaired, ctx.Err()
		}
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(s.artifactDir, name)
		data, err := s.fs.ReadFile(path)
		if err != nil {
			monitoring.Logf("storage: rebuild skipping %s: %v", name, err)
			continue
		}
		digest := HashArtifact(data)
		if _, err := s.db.GetStorageRecord(digest); err == nil {
			continue
		} else if !errors.Is(err, db.ErrNotFound) {
			return repaired, err
		}
		status := breathing.PinUnpinned
		if s.replicationEnabled() {
			// Pending rather than unpinned: the reconciler picks it up once
			// the grace period passes.
			status = breathing.PinPending
		}
		now := s.clock.Now().Unix()
		rec := &db.StorageRecord{
			Digest:       digest,
			ArtifactPath: path,
			PinStatus:    status,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.db.UpsertStorageRecord(rec); err != nil {
			return repaired, fmt.Errorf("failed to recreate record for %s: %w", name, err)
		}
		repaired++
	}
	return repaired, nil
}
