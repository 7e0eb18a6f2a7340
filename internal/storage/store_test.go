package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/breathing.report/internal/breathing"
	"github.com/banshee-data/breathing.report/internal/config"
	"github.com/banshee-data/breathing.report/internal/db"
	"github.com/banshee-data/breathing.report/internal/fsutil"
	"github.com/banshee-data/breathing.report/internal/security"
	"github.com/banshee-data/breathing.report/internal/timeutil"
)

// testStore wires a Store over an in-memory filesystem, an in-memory content
// store, a mock clock and a real index database in a temp dir. Embedding
// keeps the Store API directly callable on it.
type testStore struct {
	*Store
	cas   *MemoryStore
	memfs *fsutil.MemoryFileSystem
	clock *timeutil.MockClock
}

// testStoreConfig enables replication with three upload attempts and no
// backoff delay, so failure paths run without anyone advancing the clock.
func testStoreConfig(dir string) *config.AnalysisConfig {
	enabled := true
	attempts := 3
	base := "0s"
	return &config.AnalysisConfig{
		ArtifactDir:    &dir,
		CASEnabled:     &enabled,
		UploadAttempts: &attempts,
		RetryBase:      &base,
	}
}

func disableCAS(cfg *config.AnalysisConfig) {
	disabled := false
	cfg.CASEnabled = &disabled
}

func newTestStore(t *testing.T, opts ...func(*config.AnalysisConfig)) *testStore {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := testStoreConfig("artifacts")
	for _, opt := range opts {
		opt(cfg)
	}
	cas := NewMemoryStore()
	memfs := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	store, err := NewStore(database, memfs, cas, cfg, clock)
	require.NoError(t, err)
	return &testStore{Store: store, cas: cas, memfs: memfs, clock: clock}
}

func sampleResult(deviceID string) *breathing.AnalysisResult {
	return &breathing.AnalysisResult{
		DeviceID:            deviceID,
		BreathingRateBPM:    16.5,
		MinRate:             15.2,
		MaxRate:             17.8,
		SampleCount:         256,
		PeakFrequencyHz:     0.275,
		PeakPower:           41.3,
		ChannelWidth:        "80MHz",
		Location:            "bedroom",
		CollectionDuration:  26,
		SelectedSubcarriers: []int{-100, -50, 5, 50, 100},
	}
}

func TestNewStore(t *testing.T) {
	ts := newTestStore(t)
	assert.True(t, ts.memfs.Exists("artifacts"))

	_, err := NewStore(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestSaveResultPinsAndIndexes(t *testing.T) {
	ts := newTestStore(t)

	saved, err := ts.SaveResult(context.Background(), sampleResult("bedroom-pi"))
	require.NoError(t, err)

	require.NoError(t, security.ValidateResultID(saved.ID))
	assert.Equal(t, ts.clock.Now().Unix(), saved.CreatedAt)
	assert.Equal(t, breathing.PinPinned, saved.PinStatus)
	require.Len(t, saved.ContentDigest, 64)

	path := filepath.Join("artifacts", saved.ID+".json")
	data, err := ts.memfs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, saved.ContentDigest, HashArtifact(data))

	row, err := ts.GetByID(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "bedroom-pi", row.DeviceID)
	assert.Equal(t, saved.ContentDigest, row.ContentDigest)
	assert.Equal(t, breathing.PinPinned, row.PinStatus)

	rec, err := ts.Store.db.GetStorageRecord(saved.ContentDigest)
	require.NoError(t, err)
	assert.Equal(t, breathing.PinPinned, rec.PinStatus)
	assert.Equal(t, path, rec.ArtifactPath)
	assert.NotEmpty(t, rec.CID)
	assert.Empty(t, rec.LastError)

	assert.Equal(t, 1, ts.cas.PutCalls())
	assert.True(t, ts.cas.IsPinned(rec.CID))
}

func TestSaveResultKeepsProvidedIdentity(t *testing.T) {
	ts := newTestStore(t)

	result := sampleResult("bedroom-pi")
	result.ID = "f47ac10b-58cc-4372-a567-0e02b2c3d479"
	result.CreatedAt = 1690000000

	saved, err := ts.SaveResult(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, "f47ac10b-58cc-4372-a567-0e02b2c3d479", saved.ID)
	assert.Equal(t, int64(1690000000), saved.CreatedAt)

	row, err := ts.GetByID(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1690000000), row.CreatedAt)
}

func TestSaveResultValidation(t *testing.T) {
	ts := newTestStore(t)

	_, err := ts.SaveResult(context.Background(), nil)
	assert.Error(t, err)

	noDevice := sampleResult("")
	_, err = ts.SaveResult(context.Background(), noDevice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device id")

	traversal := sampleResult("bedroom-pi")
	traversal.ID = "../../../etc/passwd"
	_, err = ts.SaveResult(context.Background(), traversal)
	require.Error(t, err)
	assert.Equal(t, 0, ts.cas.PutCalls())
}

func TestSaveResultWriteFailure(t *testing.T) {
	ts := newTestStore(t)
	ts.memfs.FailAtomicWrites = 1

	_, err := ts.SaveResult(context.Background(), sampleResult("bedroom-pi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write artifact")

	// Nothing was indexed and nothing reached the content store.
	counts, err := ts.PinStatusCounts()
	require.NoError(t, err)
	assert.Empty(t, counts)
	assert.Equal(t, 0, ts.cas.PutCalls())
}

func TestSaveResultDegradesWhenNodeDown(t *testing.T) {
	ts := newTestStore(t)
	ts.cas.Unavailable = true

	saved, err := ts.SaveResult(context.Background(), sampleResult("bedroom-pi"))
	require.NoError(t, err, "an upload failure must not fail the save")
	assert.Equal(t, breathing.PinFailed, saved.PinStatus)

	rec, err := ts.Store.db.GetStorageRecord(saved.ContentDigest)
	require.NoError(t, err)
	assert.Equal(t, breathing.PinFailed, rec.PinStatus)
	assert.Equal(t, 3, rec.Attempts)
	assert.Contains(t, rec.LastError, "node unavailable")
	assert.Empty(t, rec.CID)

	row, err := ts.GetByID(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, breathing.PinFailed, row.PinStatus)

	// The local artifact is durable regardless.
	data, err := ts.GetArtifact(context.Background(), saved.ContentDigest)
	require.NoError(t, err)
	assert.Equal(t, saved.ContentDigest, HashArtifact(data))

	assert.Equal(t, 3, ts.cas.PutCalls())
	assert.Equal(t, []time.Duration{0, 0}, ts.clock.Waits())
}

func TestSaveResultRetriesTransientFailures(t *testing.T) {
	t.Run("PutRecovers", func(t *testing.T) {
		ts := newTestStore(t)
		ts.cas.FailPuts = 2

		saved, err := ts.SaveResult(context.Background(), sampleResult("bedroom-pi"))
		require.NoError(t, err)
		assert.Equal(t, breathing.PinPinned, saved.PinStatus)
		assert.Equal(t, 3, ts.cas.PutCalls())
		assert.Equal(t, 1, ts.cas.PinCalls())
	})

	t.Run("PinRecovers", func(t *testing.T) {
		ts := newTestStore(t)
		ts.cas.FailPins = 1

		saved, err := ts.SaveResult(context.Background(), sampleResult("bedroom-pi"))
		require.NoError(t, err)
		assert.Equal(t, breathing.PinPinned, saved.PinStatus)
		// The second attempt re-puts the same bytes; content addressing makes
		// that converge on the same cid.
		assert.Equal(t, 2, ts.cas.PutCalls())
		assert.Equal(t, 2, ts.cas.PinCalls())
		assert.Equal(t, 1, ts.cas.ObjectCount())
	})
}

func TestSaveResultDeduplicatesPinnedContent(t *testing.T) {
	ts := newTestStore(t)

	first, err := ts.SaveResult(context.Background(), sampleResult("bedroom-pi"))
	require.NoError(t, err)
	require.Equal(t, breathing.PinPinned, first.PinStatus)

	ts.clock.Advance(time.Minute)

	second, err := ts.SaveResult(context.Background(), sampleResult("bedroom-pi"))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ContentDigest, second.ContentDigest)
	assert.Equal(t, breathing.PinPinned, second.PinStatus)

	// Identical content is not uploaded twice.
	assert.Equal(t, 1, ts.cas.PutCalls())
	assert.Equal(t, 1, ts.cas.PinCalls())

	list, err := ts.ListByDevice("bedroom-pi", 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	counts, err := ts.PinStatusCounts()
	require.NoError(t, err)
	assert.Equal(t, map[breathing.PinStatus]int{breathing.PinPinned: 1}, counts)
}

func TestSaveResultCASDisabled(t *testing.T) {
	ts := newTestStore(t, disableCAS)

	saved, err := ts.SaveResult(context.Background(), sampleResult("bedroom-pi"))
	require.NoError(t, err)
	assert.Equal(t, breathing.PinUnpinned, saved.PinStatus)
	assert.Equal(t, 0, ts.cas.PutCalls())

	rec, err := ts.Store.db.GetStorageRecord(saved.ContentDigest)
	require.NoError(t, err)
	assert.Equal(t, breathing.PinUnpinned, rec.PinStatus)
	assert.Empty(t, rec.CID)

	data, err := ts.GetArtifact(context.Background(), saved.ContentDigest)
	require.NoError(t, err)
	assert.Equal(t, saved.ContentDigest, HashArtifact(data))
}

func TestSaveResultNilContentStore(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store, err := NewStore(database, fsutil.NewMemoryFileSystem(), nil, testStoreConfig("artifacts"), timeutil.NewMockClock(time.Unix(1700000000, 0)))
	require.NoError(t, err)

	saved, err := store.SaveResult(context.Background(), sampleResult("bedroom-pi"))
	require.NoError(t, err)
	assert.Equal(t, breathing.PinUnpinned, saved.PinStatus)
}

func TestGetByID(t *testing.T) {
	ts := newTestStore(t)

	_, err := ts.GetByID("f47ac10b-58cc-4372-a567-0e02b2c3d479")
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = ts.GetByID("not-a-uuid")
	require.Error(t, err)
	assert.NotErrorIs(t, err, db.ErrNotFound)
}

func TestGetArtifactFromContentStore(t *testing.T) {
	ts := newTestStore(t)

	saved, err := ts.SaveResult(context.Background(), sampleResult("bedroom-pi"))
	require.NoError(t, err)

	path := filepath.Join("artifacts", saved.ID+".json")
	good, err := ts.memfs.ReadFile(path)
	require.NoError(t, err)

	// Corrupt the local copy; a pin-confirmed digest is served from the
	// content store.
	require.NoError(t, ts.memfs.WriteFile(path, []byte("garbage"), 0644))

	data, err := ts.GetArtifact(context.Background(), saved.ContentDigest)
	require.NoError(t, err)
	assert.Equal(t, good, data)
}

func TestGetArtifactFallsBackToLocal(t *testing.T) {
	ts := newTestStore(t)

	saved, err := ts.SaveResult(context.Background(), sampleResult("bedroom-pi"))
	require.NoError(t, err)

	ts.cas.Unavailable = true

	data, err := ts.GetArtifact(context.Background(), saved.ContentDigest)
	require.NoError(t, err)
	assert.Equal(t, saved.ContentDigest, HashArtifact(data))
}

func TestGetArtifactVerifiesLocalBytes(t *testing.T) {
	ts := newTestStore(t, disableCAS)

	saved, err := ts.SaveResult(context.Background(), sampleResult("bedroom-pi"))
	require.NoError(t, err)

	path := filepath.Join("artifacts", saved.ID+".json")
	require.NoError(t, ts.memfs.WriteFile(path, []byte("tampered"), 0644))

	_, err = ts.GetArtifact(context.Background(), saved.ContentDigest)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestGetArtifactUnknownDigest(t *testing.T) {
	ts := newTestStore(t)

	_, err := ts.GetArtifact(context.Background(), strings.Repeat("ab", 32))
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = ts.GetArtifact(context.Background(), "zzz")
	require.Error(t, err)
	assert.NotErrorIs(t, err, db.ErrNotFound)
}

func TestListAndLatestByDevice(t *testing.T) {
	ts := newTestStore(t)

	rates := []float64{12.0, 14.0, 16.0}
	ids := make([]string, 0, len(rates))
	for _, rate := range rates {
		r := sampleResult("bedroom-pi")
		r.BreathingRateBPM = rate
		saved, err := ts.SaveResult(context.Background(), r)
		require.NoError(t, err)
		ids = append(ids, saved.ID)
		ts.clock.Advance(time.Minute)
	}
	other := sampleResult("office-pi")
	_, err := ts.SaveResult(context.Background(), other)
	require.NoError(t, err)

	list, err := ts.ListByDevice("bedroom-pi", 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[0], list[2].ID)

	limited, err := ts.ListByDevice("bedroom-pi", 2, 0, 0)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	latest, err := ts.LatestByDevice("bedroom-pi")
	require.NoError(t, err)
	assert.Equal(t, ids[2], latest.ID)
	assert.Equal(t, 16.0, latest.BreathingRateBPM)

	_, err = ts.LatestByDevice("ghost-pi")
	assert.ErrorIs(t, err, db.ErrNotFound)

	empty, err := ts.ListByDevice("ghost-pi", 0, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRebuildIndex(t *testing.T) {
	ts := newTestStore(t)

	r1 := sampleResult("bedroom-pi")
	r1.BreathingRateBPM = 12.0
	first, err := ts.SaveResult(context.Background(), r1)
	require.NoError(t, err)
	r2 := sampleResult("bedroom-pi")
	r2.BreathingRateBPM = 14.0
	second, err := ts.SaveResult(context.Background(), r2)
	require.NoError(t, err)

	// A stray file must not confuse the scan.
	require.NoError(t, ts.memfs.WriteFile(filepath.Join("artifacts", "notes.txt"), []byte("scratch"), 0644))

	// Simulate a lost index.
	_, err = ts.Store.db.Exec("DELETE FROM storage_records")
	require.NoError(t, err)

	repaired, err := ts.RebuildIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)

	for _, digest := range []string{first.ContentDigest, second.ContentDigest} {
		rec, err := ts.Store.db.GetStorageRecord(digest)
		require.NoError(t, err)
		// Recreated records queue for the reconciler rather than claiming a
		// pin nobody confirmed.
		assert.Equal(t, breathing.PinPending, rec.PinStatus)
		assert.True(t, ts.memfs.Exists(rec.ArtifactPath))
	}

	again, err := ts.RebuildIndex(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again, "existing records are left untouched")
}

func TestSaveResultConcurrentDevices(t *testing.T) {
	ts := newTestStore(t)

	const devices = 4
	const perDevice = 3

	var wg sync.WaitGroup
	errs := make(chan error, devices*perDevice)
	for d := 0; d < devices; d++ {
		for i := 0; i < perDevice; i++ {
			wg.Add(1)
			go func(d, i int) {
				defer wg.Done()
				r := sampleResult(fmt.Sprintf("pi-%d", d))
				r.BreathingRateBPM = 10 + float64(d) + float64(i)/10
				_, err := ts.SaveResult(context.Background(), r)
				errs <- err
			}(d, i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for d := 0; d < devices; d++ {
		list, err := ts.ListByDevice(fmt.Sprintf("pi-%d", d), 0, 0, 0)
		require.NoError(t, err)
		assert.Len(t, list, perDevice)
		for _, r := range list {
			assert.Equal(t, breathing.PinPinned, r.PinStatus)
		}
	}

	counts, err := ts.PinStatusCounts()
	require.NoError(t, err)
	assert.Equal(t, devices*perDevice, counts[breathing.PinPinned])
}

func TestDeviceLocks(t *testing.T) {
	locks := newDeviceLocks()
	a1 := locks.forDevice("bedroom-pi")
	a2 := locks.forDevice("bedroom-pi")
	b := locks.forDevice("office-pi")
	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
}
