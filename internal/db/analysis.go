package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/breathing.report/internal/breathing"
)

const analysisColumns = `
	id, device_id, created_at, breathing_rate_bpm, min_rate, max_rate,
	sample_count, low_confidence, peak_frequency_hz, peak_power,
	channel_width, location, collection_duration, selected_subcarriers,
	content_digest, pin_status
`

// UpsertAnalysis inserts the result row, replacing an existing row with the
// same id. Saving is idempotent per id, so replays after a crash between the
// artifact write and the index write are safe.
func (db *DB) UpsertAnalysis(a *breathing.AnalysisResult) error {
	if a.ID == "" {
		return fmt.Errorf("analysis id is required")
	}
	if a.DeviceID == "" {
		return fmt.Errorf("analysis device_id is required")
	}
	if !a.PinStatus.IsValid() {
		return fmt.Errorf("invalid pin status %q", a.PinStatus)
	}

	subcarriers, err := marshalSubcarriers(a.SelectedSubcarriers)
	if err != nil {
		return err
	}

	lowConfidenceInt := 0
	if a.LowConfidence {
		lowConfidenceInt = 1
	}

	query := `
		INSERT INTO analyses (` + analysisColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			created_at = excluded.created_at,
			breathing_rate_bpm = excluded.breathing_rate_bpm,
			min_rate = excluded.min_rate,
			max_rate = excluded.max_rate,
			sample_count = excluded.sample_count,
			low_confidence = excluded.low_confidence,
			peak_frequency_hz = excluded.peak_frequency_hz,
			peak_power = excluded.peak_power,
			channel_width = excluded.channel_width,
			location = excluded.location,
			collection_duration = excluded.collection_duration,
			selected_subcarriers = excluded.selected_subcarriers,
			content_digest = excluded.content_digest,
			pin_status = excluded.pin_status
	`

	_, err = db.DB.Exec(
		query,
		a.ID,
		a.DeviceID,
		a.CreatedAt,
		a.BreathingRateBPM,
		a.MinRate,
		a.MaxRate,
		a.SampleCount,
		lowConfidenceInt,
		a.PeakFrequencyHz,
		a.PeakPower,
		a.ChannelWidth,
		a.Location,
		a.CollectionDuration,
		subcarriers,
		a.ContentDigest,
		string(a.PinStatus),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert analysis: %w", err)
	}

	return nil
}

// GetAnalysis retrieves a result row by id.
func (db *DB) GetAnalysis(id string) (*breathing.AnalysisResult, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = ?`

	a, err := scanAnalysis(db.DB.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	return a, nil
}

// ListAnalyses returns a device's results, most recent first. startUnix and
// endUnix bound created_at when non-zero; limit defaults to 100 when it is
// not positive.
func (db *DB) ListAnalyses(deviceID string, limit int, startUnix, endUnix int64) ([]breathing.AnalysisResult, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE device_id = ?`
	args := []interface{}{deviceID}

	if startUnix > 0 {
		query += ` AND created_at >= ?`
		args = append(args, startUnix)
	}
	if endUnix > 0 {
		query += ` AND created_at <= ?`
		args = append(args, endUnix)
	}

	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var results []breathing.AnalysisResult
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		results = append(results, *a)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analyses: %w", err)
	}

	return results, nil
}

// LatestAnalysis returns a device's most recent result by created_at.
func (db *DB) LatestAnalysis(deviceID string) (*breathing.AnalysisResult, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses
		WHERE device_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`

	a, err := scanAnalysis(db.DB.QueryRow(query, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no analyses for device %q: %w", deviceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest analysis: %w", err)
	}

	return a, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAnalysis(row rowScanner) (*breathing.AnalysisResult, error) {
	var a breathing.AnalysisResult
	var lowConfidenceInt int
	var subcarriers sql.NullString
	var pinStatus string

	err := row.Scan(
		&a.ID,
		&a.DeviceID,
		&a.CreatedAt,
		&a.BreathingRateBPM,
		&a.MinRate,
		&a.MaxRate,
		&a.SampleCount,
		&lowConfidenceInt,
		&a.PeakFrequencyHz,
		&a.PeakPower,
		&a.ChannelWidth,
		&a.Location,
		&a.CollectionDuration,
		&subcarriers,
		&a.ContentDigest,
		&pinStatus,
	)
	if err != nil {
		return nil, err
	}

	a.LowConfidence = lowConfidenceInt == 1
	a.PinStatus = breathing.PinStatus(pinStatus)

	if subcarriers.Valid && subcarriers.String != "" {
		if err := json.Unmarshal([]byte(subcarriers.String), &a.SelectedSubcarriers); err != nil {
			return nil, fmt.Errorf("failed to decode selected subcarriers: %w", err)
		}
	}

	return &a, nil
}

// marshalSubcarriers encodes the selected subcarrier indices as a JSON array,
// or NULL when none were recorded.
func marshalSubcarriers(indices []int) (interface{}, error) {
	if len(indices) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(indices)
	if err != nil {
		return nil, fmt.Errorf("failed to encode selected subcarriers: %w", err)
	}
	return string(b), nil
}
