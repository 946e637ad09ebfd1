package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// Store is the SQLite record store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	return OpenWithTimeout(path, 5*time.Second)
}

// OpenWithTimeout is Open with an explicit busy timeout.
func OpenWithTimeout(path string, busy time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for migrations tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InsertRecord stores r and sets its ID. A missing ClientID, CreatedAt or
// fingerprint is filled in. A ClientID that is already stored yields
// ErrDuplicate.
func (s *Store) InsertRecord(r *Record) (int64, error) {
	if r.ClientID == "" {
		r.ClientID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Fingerprint == ([32]byte{}) {
		fp, err := Fingerprint(r.Form, r.Fields)
		if err != nil {
			return 0, err
		}
		r.Fingerprint = fp
	}
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return 0, fmt.Errorf("encode fields: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT INTO records (client_id, form, fields_json, fingerprint, synced, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ClientID, r.Form, string(fields), r.Fingerprint[:], r.Synced, r.CreatedAt.UnixNano(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%w: client id %s", ErrDuplicate, r.ClientID)
		}
		return 0, fmt.Errorf("insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	r.ID = id
	return id, nil
}

// MarkSynced records that the backend accepted record id.
func (s *Store) MarkSynced(id int64, at time.Time) error {
	res, err := s.db.Exec(`UPDATE records SET synced = 1, synced_at = ?, last_error = '' WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return expectOne(res, id)
}

// MarkFailed records a failed delivery attempt.
func (s *Store) MarkFailed(id int64, reason string) error {
	res, err := s.db.Exec(`UPDATE records SET attempts = attempts + 1, last_error = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

const recordColumns = `id, client_id, form, fields_json, fingerprint, synced, attempts, last_error, created_at, synced_at`

// GetRecord returns the record with id, or nil if there is none.
func (s *Store) GetRecord(id int64) (*Record, error) {
	rows, err := s.db.Query(`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	defer rows.Close()
	return firstRecord(rows)
}

// FindByFingerprint returns the oldest record of form with fingerprint fp,
// or nil if there is none.
func (s *Store) FindByFingerprint(form string, fp [32]byte) (*Record, error) {
	rows, err := s.db.Query(`
		SELECT `+recordColumns+` FROM records
		WHERE form = ? AND fingerprint = ?
		ORDER BY id ASC LIMIT 1`, form, fp[:])
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	defer rows.Close()
	return firstRecord(rows)
}

// PendingRecords returns up to limit unsynced records, oldest first.
func (s *Store) PendingRecords(limit int) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT `+recordColumns+` FROM records
		WHERE synced = 0
		ORDER BY id ASC LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("query pending records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListRecords returns up to limit records, newest first. An empty form
// lists every form.
func (s *Store) ListRecords(form string, limit int) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT `+recordColumns+` FROM records
		WHERE (? = '' OR form = ?)
		ORDER BY id DESC LIMIT ?`, form, form, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func firstRecord(rows *sql.Rows) (*Record, error) {
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var (
			r         Record
			fields    string
			fp        []byte
			createdAt int64
			syncedAt  sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.ClientID, &r.Form, &fields, &fp, &r.Synced, &r.Attempts, &r.LastError, &createdAt, &syncedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of record %d: %w", r.ID, err)
		}
		copy(r.Fingerprint[:], fp)
		r.CreatedAt = time.Unix(0, createdAt)
		if syncedAt.Valid {
			t := time.Unix(0, syncedAt.Int64)
			r.SyncedAt = &t
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// InsertScan appends e to the scan log and sets its ID.
func (s *Store) InsertScan(e *ScanEntry) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO scans (at, action, rule, code, value, chars, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.At.UnixNano(), e.Action, e.Rule, e.Code, e.Value, e.Chars, e.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert scan: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	e.ID = id
	return id, nil
}

// ListScans returns up to limit scans, newest first.
func (s *Store) ListScans(limit int) ([]ScanEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, at, action, rule, code, value, chars, duration_ms
		FROM scans ORDER BY id DESC LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var scans []ScanEntry
	for rows.Next() {
		var (
			e     ScanEntry
			at    int64
			durMs int64
		)
		if err := rows.Scan(&e.ID, &at, &e.Action, &e.Rule, &e.Code, &e.Value, &e.Chars, &durMs); err != nil {
			return nil, fmt.Errorf("scan scan entry: %w", err)
		}
		e.At = time.Unix(0, at)
		e.Duration = time.Duration(durMs) * time.Millisecond
		scans = append(scans, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	return scans, nil
}

// Stats counts records, unsynced records and scans.
func (s *Store) Stats() (*Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM records),
			(SELECT COUNT(*) FROM records WHERE synced = 0),
			(SELECT COUNT(*) FROM scans)`,
	).Scan(&st.Records, &st.Pending, &st.Scans)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &st, nil
}
