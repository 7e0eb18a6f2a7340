package db

import (
	"errors"
	"reflect"
	"testing"

	"github.com/banshee-data/breathing.report/internal/breathing"
)

func sampleRecord(digest string, status breathing.PinStatus, updatedAt int64) *StorageRecord {
	return &StorageRecord{
		Digest:       digest,
		ArtifactPath: "artifacts/" + digest + ".json",
		PinStatus:    status,
		CreatedAt:    updatedAt,
		UpdatedAt:    updatedAt,
	}
}

func TestUpsertAndGetStorageRecord(t *testing.T) {
	db := newTestDB(t)

	want := sampleRecord("d1", breathing.PinPending, 1700000000)
	want.CID = "QmTest"
	want.Attempts = 2
	want.LastError = "connection refused"

	if err := db.UpsertStorageRecord(want); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}

	got, err := db.GetStorageRecord("d1")
	if err != nil {
		t.Fatalf("GetStorageRecord failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Round-trip mismatch:\n got:  %+v\n want: %+v", got, want)
	}
}

func TestGetStorageRecordNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetStorageRecord("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpsertStorageRecordValidation(t *testing.T) {
	db := newTestDB(t)

	missingDigest := sampleRecord("", breathing.PinPending, 1700000000)
	if err := db.UpsertStorageRecord(missingDigest); err == nil {
		t.Error("Expected error for missing digest")
	}

	missingPath := sampleRecord("d1", breathing.PinPending, 1700000000)
	missingPath.ArtifactPath = ""
	if err := db.UpsertStorageRecord(missingPath); err == nil {
		t.Error("Expected error for missing artifact_path")
	}

	badStatus := sampleRecord("d1", breathing.PinStatus("bogus"), 1700000000)
	if err := db.UpsertStorageRecord(badStatus); err == nil {
		t.Error("Expected error for invalid pin status")
	}
}

// TestUpsertStorageRecordKeepsPinned verifies a confirmed pin can never be
// downgraded by a later upsert of the same digest.
func TestUpsertStorageRecordKeepsPinned(t *testing.T) {
	db := newTestDB(t)

	if err := db.UpsertStorageRecord(sampleRecord("d1", breathing.PinPending, 1700000000)); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}
	if err := db.MarkPinned("d1", "QmPinned", 1700000100); err != nil {
		t.Fatalf("MarkPinned failed: %v", err)
	}

	downgrade := sampleRecord("d1", breathing.PinFailed, 1700000200)
	downgrade.LastError = "should not stick"
	if err := db.UpsertStorageRecord(downgrade); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}

	got, err := db.GetStorageRecord("d1")
	if err != nil {
		t.Fatalf("GetStorageRecord failed: %v", err)
	}
	if got.PinStatus != breathing.PinPinned {
		t.Errorf("Expected pin status pinned, got %s", got.PinStatus)
	}
	if got.CID != "QmPinned" {
		t.Errorf("Expected CID QmPinned, got %s", got.CID)
	}
	if got.LastError != "" {
		t.Errorf("Expected empty last_error, got %q", got.LastError)
	}
}

func TestMarkPinnedUpdatesAnalyses(t *testing.T) {
	db := newTestDB(t)

	a := sampleAnalysis("a1", "bedroom-pi", 1700000000)
	a.ContentDigest = "d1"
	a.PinStatus = breathing.PinPending
	if err := db.UpsertAnalysis(a); err != nil {
		t.Fatalf("UpsertAnalysis failed: %v", err)
	}
	if err := db.UpsertStorageRecord(sampleRecord("d1", breathing.PinPending, 1700000000)); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}

	if err := db.MarkPinned("d1", "QmX", 1700000100); err != nil {
		t.Fatalf("MarkPinned failed: %v", err)
	}

	rec, err := db.GetStorageRecord("d1")
	if err != nil {
		t.Fatalf("GetStorageRecord failed: %v", err)
	}
	if rec.PinStatus != breathing.PinPinned || rec.CID != "QmX" {
		t.Errorf("Expected pinned with CID QmX, got %s / %s", rec.PinStatus, rec.CID)
	}
	if rec.UpdatedAt != 1700000100 {
		t.Errorf("Expected updated_at 1700000100, got %d", rec.UpdatedAt)
	}

	got, err := db.GetAnalysis("a1")
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if got.PinStatus != breathing.PinPinned {
		t.Errorf("Expected analysis pin status pinned, got %s", got.PinStatus)
	}
}

func TestMarkPinnedNotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.MarkPinned("missing", "QmX", 1700000000)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMarkPinFailed(t *testing.T) {
	db := newTestDB(t)

	a := sampleAnalysis("a1", "bedroom-pi", 1700000000)
	a.ContentDigest = "d1"
	a.PinStatus = breathing.PinPending
	if err := db.UpsertAnalysis(a); err != nil {
		t.Fatalf("UpsertAnalysis failed: %v", err)
	}
	if err := db.UpsertStorageRecord(sampleRecord("d1", breathing.PinPending, 1700000000)); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}

	if err := db.MarkPinFailed("d1", 3, "dial tcp: connection refused", 1700000200); err != nil {
		t.Fatalf("MarkPinFailed failed: %v", err)
	}

	rec, err := db.GetStorageRecord("d1")
	if err != nil {
		t.Fatalf("GetStorageRecord failed: %v", err)
	}
	if rec.PinStatus != breathing.PinFailed {
		t.Errorf("Expected pin status failed, got %s", rec.PinStatus)
	}
	if rec.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", rec.Attempts)
	}
	if rec.LastError != "dial tcp: connection refused" {
		t.Errorf("Unexpected last_error %q", rec.LastError)
	}

	got, err := db.GetAnalysis("a1")
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if got.PinStatus != breathing.PinFailed {
		t.Errorf("Expected analysis pin status failed, got %s", got.PinStatus)
	}
}

// TestMarkPinFailedLeavesPinned verifies a failure report arriving after a
// confirmed pin (a reconciler race) does not regress the record.
func TestMarkPinFailedLeavesPinned(t *testing.T) {
	db := newTestDB(t)

	if err := db.UpsertStorageRecord(sampleRecord("d1", breathing.PinPending, 1700000000)); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}
	if err := db.MarkPinned("d1", "QmX", 1700000100); err != nil {
		t.Fatalf("MarkPinned failed: %v", err)
	}

	if err := db.MarkPinFailed("d1", 5, "late failure", 1700000200); err != nil {
		t.Fatalf("MarkPinFailed failed: %v", err)
	}

	rec, err := db.GetStorageRecord("d1")
	if err != nil {
		t.Fatalf("GetStorageRecord failed: %v", err)
	}
	if rec.PinStatus != breathing.PinPinned {
		t.Errorf("Expected pin status to stay pinned, got %s", rec.PinStatus)
	}
}

func TestRecordsNeedingPin(t *testing.T) {
	db := newTestDB(t)

	// Old pending and failed records qualify; pinned and too-recent ones do not.
	if err := db.UpsertStorageRecord(sampleRecord("pending-old", breathing.PinPending, 1700000000)); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}
	if err := db.UpsertStorageRecord(sampleRecord("failed-old", breathing.PinFailed, 1700000050)); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}
	if err := db.UpsertStorageRecord(sampleRecord("pinned-old", breathing.PinPending, 1700000000)); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}
	if err := db.MarkPinned("pinned-old", "QmX", 1700000010); err != nil {
		t.Fatalf("MarkPinned failed: %v", err)
	}
	if err := db.UpsertStorageRecord(sampleRecord("pending-new", breathing.PinPending, 1700009000)); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}

	records, err := db.RecordsNeedingPin(1700000100, 0)
	if err != nil {
		t.Fatalf("RecordsNeedingPin failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	// Oldest first.
	if records[0].Digest != "pending-old" || records[1].Digest != "failed-old" {
		t.Errorf("Expected [pending-old failed-old], got [%s %s]", records[0].Digest, records[1].Digest)
	}

	limited, err := db.RecordsNeedingPin(1700000100, 1)
	if err != nil {
		t.Fatalf("RecordsNeedingPin failed: %v", err)
	}
	if len(limited) != 1 || limited[0].Digest != "pending-old" {
		t.Errorf("Expected only pending-old, got %+v", limited)
	}
}

func TestPinStatusCounts(t *testing.T) {
	db := newTestDB(t)

	counts, err := db.PinStatusCounts()
	if err != nil {
		t.Fatalf("PinStatusCounts failed: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("Expected empty counts, got %v", counts)
	}

	if err := db.UpsertStorageRecord(sampleRecord("d1", breathing.PinPending, 1700000000)); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}
	if err := db.UpsertStorageRecord(sampleRecord("d2", breathing.PinPending, 1700000000)); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}
	if err := db.UpsertStorageRecord(sampleRecord("d3", breathing.PinFailed, 1700000000)); err != nil {
		t.Fatalf("UpsertStorageRecord failed: %v", err)
	}
	if err := db.MarkPinned("d2", "QmX", 1700000100); err != nil {
		t.Fatalf("MarkPinned failed: %v", err)
	}

	counts, err = db.PinStatusCounts()
	if err != nil {
		t.Fatalf("PinStatusCounts failed: %v", err)
	}
	want := map[breathing.PinStatus]int{
		breathing.PinPending: 1,
		breathing.PinPinned:  1,
		breathing.PinFailed:  1,
	}
	if !reflect.DeepEqual(counts, want) {
		t.Errorf("Expected counts %v, got %v", want, counts)
	}
}
