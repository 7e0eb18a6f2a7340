package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/breathing.report/internal/breathing"
)

// StorageRecord tracks the replication state of one artifact digest. Several
// analyses can point at the same digest; the record describes the single
// content-addressed copy they share.
type StorageRecord struct {
	Digest       string              `json:"digest"`
	ArtifactPath string              `json:"artifact_path"`
	CID          string              `json:"cid,omitempty"`
	PinStatus    breathing.PinStatus `json:"pin_status"`
	Attempts     int                 `json:"attempts"`
	LastError    string              `json:"last_error,omitempty"`
	CreatedAt    int64               `json:"created_at"`
	UpdatedAt    int64               `json:"updated_at"`
}

const storageRecordColumns = `
	digest, artifact_path, cid, pin_status, attempts, last_error,
	created_at, updated_at
`

// UpsertStorageRecord inserts or refreshes the record for rec.Digest. A row
// that has reached pinned is immutable: the update clause skips it, so a
// later save of the same bytes can never downgrade a confirmed pin.
func (db *DB) UpsertStorageRecord(rec *StorageRecord) error {
	if rec.Digest == "" {
		return fmt.Errorf("storage record digest is required")
	}
	if rec.ArtifactPath == "" {
		return fmt.Errorf("storage record artifact_path is required")
	}
	if !rec.PinStatus.IsValid() {
		return fmt.Errorf("invalid pin status %q", rec.PinStatus)
	}

	query := `
		INSERT INTO storage_records (` + storageRecordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(digest) DO UPDATE SET
			artifact_path = excluded.artifact_path,
			cid = excluded.cid,
			pin_status = excluded.pin_status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
		WHERE storage_records.pin_status != 'pinned'
	`

	_, err := db.DB.Exec(
		query,
		rec.Digest,
		rec.ArtifactPath,
		rec.CID,
		string(rec.PinStatus),
		rec.Attempts,
		rec.LastError,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert storage record: %w", err)
	}

	return nil
}

// GetStorageRecord retrieves the record for a digest.
func (db *DB) GetStorageRecord(digest string) (*StorageRecord, error) {
	query := `SELECT ` + storageRecordColumns + ` FROM storage_records WHERE digest = ?`

	rec, err := scanStorageRecord(db.DB.QueryRow(query, digest))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage record %q: %w", digest, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get storage record: %w", err)
	}

	return rec, nil
}

// RecordsNeedingPin returns pending and failed records last touched at or
// before updatedBefore, oldest first. The reconciler uses the cutoff as its
// grace period so records still being worked on are left alone.
func (db *DB) RecordsNeedingPin(updatedBefore int64, limit int) ([]StorageRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + storageRecordColumns + ` FROM storage_records
		WHERE pin_status IN ('pending', 'failed') AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?`

	rows, err := db.DB.Query(query, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query storage records: %w", err)
	}
	defer rows.Close()

	var records []StorageRecord
	for rows.Next() {
		rec, err := scanStorageRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan storage record: %w", err)
		}
		records = append(records, *rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating storage records: %w", err)
	}

	return records, nil
}

// MarkPinned records a confirmed pin for the digest and propagates the state
// to every analysis row sharing it. Both tables move in one transaction so a
// result never claims pinned while its record still says pending.
func (db *DB) MarkPinned(digest, cid string, nowUnix int64) error {
	tx, err := db.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE storage_records
			SET pin_status = ?, cid = ?, last_error = '', updated_at = ?
			WHERE digest = ?`,
		string(breathing.PinPinned), cid, nowUnix, digest,
	)
	if err != nil {
		return fmt.Errorf("failed to mark storage record pinned: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("storage record %q: %w", digest, ErrNotFound)
	}

	if _, err := tx.Exec(
		`UPDATE analyses SET pin_status = ? WHERE content_digest = ?`,
		string(breathing.PinPinned), digest,
	); err != nil {
		return fmt.Errorf("failed to update analyses pin status: %w", err)
	}

	return tx.Commit()
}

// MarkPinFailed records an exhausted upload attempt. Pinned rows are left
// untouched; marking an unknown digest is a no-op so the reconciler can race
// a concurrent save safely.
func (db *DB) MarkPinFailed(digest string, attempts int, lastError string, nowUnix int64) error {
	tx, err := db.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE storage_records
			SET pin_status = ?, attempts = ?, last_error = ?, updated_at = ?
			WHERE digest = ? AND pin_status != 'pinned'`,
		string(breathing.PinFailed), attempts, lastError, nowUnix, digest,
	); err != nil {
		return fmt.Errorf("failed to mark storage record failed: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE analyses SET pin_status = ? WHERE content_digest = ? AND pin_status != 'pinned'`,
		string(breathing.PinFailed), digest,
	); err != nil {
		return fmt.Errorf("failed to update analyses pin status: %w", err)
	}

	return tx.Commit()
}

// PinStatusCounts returns the number of storage records per pin status.
func (db *DB) PinStatusCounts() (map[breathing.PinStatus]int, error) {
	rows, err := db.DB.Query(`SELECT pin_status, COUNT(*) FROM storage_records GROUP BY pin_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count storage records: %w", err)
	}
	defer rows.Close()

	counts := make(map[breathing.PinStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan pin status count: %w", err)
		}
		counts[breathing.PinStatus(status)] = count
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pin status counts: %w", err)
	}

	return counts, nil
}

func scanStorageRecord(row rowScanner) (*StorageRecord, error) {
	var rec StorageRecord
	var pinStatus string

	err := row.Scan(
		&rec.Digest,
		&rec.ArtifactPath,
		&rec.CID,
		&pinStatus,
		&rec.Attempts,
		&rec.LastError,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.PinStatus = breathing.PinStatus(pinStatus)
	return &rec, nil
}
