// Package scoutdb is the canonical local store for scouting records. SQLite
// keeps each device self-contained at venues with no network; CSV export and
// upload merging handle cross-device sync.
package scoutdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fieldline-data/scout.report/internal/chartdata"
	"github.com/fieldline-data/scout.report/internal/monitoring"
)

type DB struct {
	*sql.DB
}

// OpenDB opens the database and applies the connection PRAGMAs without
// touching the schema. Use NewDB unless you are running migrations by hand.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
		PRAGMA temp_store=MEMORY;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply database pragmas: %w", err)
	}

	return &DB{db}, nil
}

// NewDB opens the database and brings the schema up to date.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	fsys, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(fsys); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// StoredRecord is one scouting entry: the metadata columns plus the survey
// answers as a JSON blob. match_number and team are denormalized out of the
// blob so listing and grouping stay plain SQL.
type StoredRecord struct {
	ID          int64          `json:"id"`
	Timestamp   string         `json:"timestamp"`
	EventName   string         `json:"event_name"`
	EventSeason string         `json:"event_season"`
	ConfigID    string         `json:"config_id"`
	DeviceID    string         `json:"device_id"`
	DeviceName  string         `json:"device_name"`
	MatchNumber string         `json:"match_number"`
	Team        string         `json:"team"`
	Fields      map[string]any `json:"fields"`
}

// Flat merges the metadata columns and the answer blob into the flat map
// shape the analysis pipeline and CSV export consume.
func (r *StoredRecord) Flat() chartdata.Record {
	rec := make(chartdata.Record, len(r.Fields)+8)
	for k, v := range r.Fields {
		rec[k] = v
	}
	rec["timestamp"] = r.Timestamp
	rec["event_name"] = r.EventName
	rec["event_season"] = r.EventSeason
	rec["config_id"] = r.ConfigID
	rec["device_id"] = r.DeviceID
	rec["device_name"] = r.DeviceName
	if _, ok := rec["team"]; !ok && r.Team != "" {
		rec["team"] = r.Team
	}
	_, hasMatch := rec["match"]
	_, hasMatchNumber := rec["match_number"]
	if !hasMatch && !hasMatchNumber && r.MatchNumber != "" {
		rec["match_number"] = r.MatchNumber
	}
	return rec
}

// FieldString renders an answer value the way it would appear in a CSV cell.
func FieldString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}

// ExtractField returns the first non-empty value among keys, stringified.
func ExtractField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			if s := FieldString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// InsertRecord stores one entry and fills in its ID. The match_number and
// team columns are extracted from the answer blob.
func (db *DB) InsertRecord(rec *StoredRecord) error {
	if rec.MatchNumber == "" {
		rec.MatchNumber = ExtractField(rec.Fields, "match", "match_number")
	}
	if rec.Team == "" {
		rec.Team = ExtractField(rec.Fields, "team", "team_number")
	}

	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	blob, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode record fields: %w", err)
	}

	query := `
		INSERT INTO records (
			timestamp, event_name, event_season, config_id,
			device_id, device_name, match_number, team, fields
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.DB.Exec(
		query,
		rec.Timestamp,
		rec.EventName,
		rec.EventSeason,
		rec.ConfigID,
		rec.DeviceID,
		rec.DeviceName,
		rec.MatchNumber,
		rec.Team,
		string(blob),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	rec.ID = id
	return nil
}

const recordColumns = `
	id, timestamp, event_name, event_season, config_id,
	device_id, device_name, match_number, team, fields
`

func scanRecord(scan func(dest ...any) error) (StoredRecord, error) {
	var rec StoredRecord
	var blob string
	err := scan(
		&rec.ID,
		&rec.Timestamp,
		&rec.EventName,
		&rec.EventSeason,
		&rec.ConfigID,
		&rec.DeviceID,
		&rec.DeviceName,
		&rec.MatchNumber,
		&rec.Team,
		&blob,
	)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(blob), &rec.Fields); err != nil {
		// A corrupt blob should not hide the rest of the row.
		monitoring.Logf("scoutdb: record %d has unreadable fields blob: %v", rec.ID, err)
		rec.Fields = map[string]any{}
	}
	return rec, nil
}

// ListRecords returns one page of records, newest first.
func (db *DB) ListRecords(limit, offset int) ([]StoredRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM records ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := db.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// AllRecords returns every record in insertion order.
func (db *DB) AllRecords() ([]StoredRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM records ORDER BY id ASC`
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Snapshot returns every record flattened for analysis and export.
func (db *DB) Snapshot() ([]chartdata.Record, error) {
	records, err := db.AllRecords()
	if err != nil {
		return nil, err
	}
	flat := make([]chartdata.Record, len(records))
	for i := range records {
		flat[i] = records[i].Flat()
	}
	return flat, nil
}

// CountRecords returns the total number of records.
func (db *DB) CountRecords() (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// CountRecordsForDevice returns how many records a device has contributed.
func (db *DB) CountRecordsForDevice(deviceID string) (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM records WHERE device_id = ?", deviceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count device records: %w", err)
	}
	return n, nil
}

// DeviceStatus is one row of the device registry.
type DeviceStatus struct {
	DeviceID   string `json:"device_id"`
	Name       string `json:"name"`
	LastSeen   string `json:"last_seen"`
	EntryCount int    `json:"entry_count"`
	LastSource string `json:"last_source"`
}

// UpsertDevice records a device sighting. entryCount is absolute, so
// re-processing the same source never inflates the registry. An empty name
// keeps the previously stored one.
func (db *DB) UpsertDevice(d DeviceStatus) error {
	query := `
		INSERT INTO devices (device_id, name, last_seen, entry_count, last_source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE devices.name END,
			last_seen = excluded.last_seen,
			entry_count = excluded.entry_count,
			last_source = excluded.last_source
	`
	_, err := db.DB.Exec(query, d.DeviceID, d.Name, d.LastSeen, d.EntryCount, d.LastSource)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

// ListDevices returns the registry sorted by device name.
func (db *DB) ListDevices() ([]DeviceStatus, error) {
	query := `
		SELECT device_id, name, last_seen, entry_count, last_source
		FROM devices
		ORDER BY name, device_id
	`
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []DeviceStatus
	for rows.Next() {
		var d DeviceStatus
		if err := rows.Scan(&d.DeviceID, &d.Name, &d.LastSeen, &d.EntryCount, &d.LastSource); err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return devices, nil
}

// SaveDraft stores the in-progress entry for a device, replacing any
// previous draft.
func (db *DB) SaveDraft(deviceID, payload, savedAt string) error {
	query := `
		INSERT INTO drafts (device_id, payload, saved_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			payload = excluded.payload,
			saved_at = excluded.saved_at
	`
	if _, err := db.DB.Exec(query, deviceID, payload, savedAt); err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

// LoadDraft returns the stored draft for a device. An empty payload means no
// draft exists.
func (db *DB) LoadDraft(deviceID string) (payload, savedAt string, err error) {
	query := `SELECT payload, saved_at FROM drafts WHERE device_id = ?`
	err = db.QueryRow(query, deviceID).Scan(&payload, &savedAt)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load draft: %w", err)
	}
	return payload, savedAt, nil
}

// ClearDraft removes the stored draft for a device.
func (db *DB) ClearDraft(deviceID string) error {
	if _, err := db.DB.Exec("DELETE FROM drafts WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("failed to clear draft: %w", err)
	}
	return nil
}

// Backup writes a consistent copy of the database into dir via VACUUM INTO
// and returns the backup path.
func (db *DB) Backup(dir string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("scout-backup-%d.db", time.Now().Unix()))
	if _, err := db.DB.Exec("VACUUM INTO ?", path); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return path, nil
}

// Reset backs the database up into backupDir, then clears records, drafts,
// and the device registry. The backup always happens first; a reset that
// cannot back up does not delete anything.
func (db *DB) Reset(backupDir string) (string, error) {
	backupPath, err := db.Backup(backupDir)
	if err != nil {
		return "", err
	}

	for _, stmt := range []string{
		"DELETE FROM records",
		"DELETE FROM drafts",
		"DELETE FROM devices",
	} {
		if _, err := db.DB.Exec(stmt); err != nil {
			return backupPath, fmt.Errorf("reset failed after backup %s: %w", backupPath, err)
		}
	}

	monitoring.Logf("scoutdb: reset complete, backup at %s", backupPath)
	return backupPath, nil
}
