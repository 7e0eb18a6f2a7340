package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/breathing.report/internal/config"
	"github.com/banshee-data/breathing.report/internal/db"
	"github.com/banshee-data/breathing.report/internal/monitoring"
)

// ReconcileStats summarizes one reconciler sweep.
type ReconcileStats struct {
	Scanned int `json:"scanned"`
	Pinned  int `json:"pinned"`
	Failed  int `json:"failed"`
}

// ReconcilerStatus is the reconciler snapshot served by the storage-status
// endpoint. LastRun stays zero until the first sweep completes.
type ReconcilerStatus struct {
	Interval  string         `json:"interval"`
	Grace     string         `json:"grace"`
	LastRun   int64          `json:"last_run,omitempty"`
	LastStats ReconcileStats `json:"last_stats"`
}

// Reconciler sweeps the index for storage records whose pin never confirmed,
// either failed uploads or pending rows left behind by a crash mid-upload,
// and retries them from the local artifact. Artifacts are re-uploaded byte
// for byte; nothing is recomputed.
type Reconciler struct {
	Store    *Store
	Interval time.Duration
	// Grace keeps freshly written records out of a sweep long enough for the
	// in-flight save to finish its own upload.
	Grace     time.Duration
	BatchSize int
	StopChan  chan struct{}

	mu        sync.Mutex
	lastRun   time.Time
	lastStats ReconcileStats
}

// NewReconciler creates a reconciler over the store, with interval and grace
// taken from config.
func NewReconciler(store *Store, cfg *config.AnalysisConfig) *Reconciler {
	if cfg == nil {
		cfg = config.EmptyAnalysisConfig()
	}
	return &Reconciler{
		Store:     store,
		Interval:  cfg.GetReconcileInterval(),
		Grace:     cfg.GetReconcileGrace(),
		BatchSize: 100,
		StopChan:  make(chan struct{}),
	}
}

// Start launches the periodic sweep in a goroutine. Stop it with Stop. The
// ticker is registered before Start returns so the first interval begins
// counting immediately.
func (r *Reconciler) Start() {
	monitoring.Logf("pin reconciler started (interval %s, grace %s)", r.Interval, r.Grace)
	ticker := r.Store.clock.NewTicker(r.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if _, err := r.RunOnce(context.Background()); err != nil {
					monitoring.Logf("pin reconciler sweep failed: %v", err)
				}
			case <-r.StopChan:
				monitoring.Logf("pin reconciler stopped")
				return
			}
		}
	}()
}

// Stop terminates the periodic sweep.
func (r *Reconciler) Stop() {
	close(r.StopChan)
}

// RunOnce performs a single sweep and returns its stats. With replication
// disabled it is a no-op.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats
	if !r.Store.replicationEnabled() {
		return stats, nil
	}
	cutoff := r.Store.clock.Now().Add(-r.Grace).Unix()
	records, err := r.Store.db.RecordsNeedingPin(cutoff, r.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to list records needing pin: %w", err)
	}
	for i := range records {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Scanned++
		if r.retryRecord(ctx, &records[i]) {
			stats.Pinned++
		} else {
			stats.Failed++
		}
	}
	if stats.Scanned > 0 {
		monitoring.Logf("pin reconciler: scanned %d, pinned %d, failed %d", stats.Scanned, stats.Pinned, stats.Failed)
	}
	r.mu.Lock()
	r.lastRun = r.Store.clock.Now()
	r.lastStats = stats
	r.mu.Unlock()
	return stats, nil
}

// retryRecord re-uploads one record's artifact and reports whether the pin
// confirmed. Index updates run without the device lock: MarkPinned and
// MarkPinFailed are transactional and never downgrade a confirmed pin, so a
// concurrent save cannot be corrupted.
func (r *Reconciler) retryRecord(ctx context.Context, rec *db.StorageRecord) bool {
	s := r.Store
	data, err := s.fs.ReadFile(rec.ArtifactPath)
	if err != nil {
		monitoring.Logf("pin reconciler: artifact for %s unreadable: %v", rec.Digest, err)
		r.markFailed(rec, rec.Attempts, fmt.Sprintf("artifact unreadable: %v", err))
		return false
	}
	if got := HashArtifact(data); got != rec.Digest {
		monitoring.Logf("pin reconciler: artifact %s hashes to %s, record says %s", rec.ArtifactPath, got, rec.Digest)
		r.markFailed(rec, rec.Attempts, "local artifact digest mismatch")
		return false
	}
	cid, attempts, err := s.uploadAndPin(ctx, data)
	if err != nil {
		r.markFailed(rec, rec.Attempts+attempts, err.Error())
		return false
	}
	if err := s.db.MarkPinned(rec.Digest, cid, s.clock.Now().Unix()); err != nil {
		monitoring.Logf("pin reconciler: failed to record pin for %s: %v", rec.Digest, err)
		return false
	}
	return true
}

func (r *Reconciler) markFailed(rec *db.StorageRecord, attempts int, cause string) {
	if err := r.Store.db.MarkPinFailed(rec.Digest, attempts, cause, r.Store.clock.Now().Unix()); err != nil {
		monitoring.Logf("pin reconciler: failed to record failure for %s: %v", rec.Digest, err)
	}
}

// Status reports reconciler configuration and the outcome of the last sweep.
func (r *Reconciler) Status() ReconcilerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := ReconcilerStatus{
		Interval:  r.Interval.String(),
		Grace:     r.Grace.String(),
		LastStats: r.lastStats,
	}
	if !r.lastRun.IsZero() {
		st.LastRun = r.lastRun.Unix()
	}
	return st
}
