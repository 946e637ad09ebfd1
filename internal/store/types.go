// Package store provides SQLite storage for submitted form records and the
// scan audit log. The workstation keeps unsynced records here until the
// backend acknowledges them; the backend uses the same schema as its
// system of record.
package store

import (
	"encoding/hex"
	"errors"
	"time"
)

// ErrDuplicate is returned when a record's client id is already stored.
var ErrDuplicate = errors.New("record already stored")

// Record is one submitted form.
type Record struct {
	ID int64
	// ClientID is assigned by the submitting workstation and is stable
	// across retries.
	ClientID string
	Form     string
	Fields   map[string]any
	// Fingerprint identifies the content, see Fingerprint.
	Fingerprint [32]byte
	Synced      bool
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	SyncedAt    *time.Time
}

// FingerprintHex returns the fingerprint as lowercase hex.
func (r *Record) FingerprintHex() string {
	return hex.EncodeToString(r.Fingerprint[:])
}

// ScanEntry is one finalized scanner burst.
type ScanEntry struct {
	ID       int64
	At       time.Time
	Action   string
	Rule     string
	Code     string
	Value    string
	Chars    int
	Duration time.Duration
}

// Stats summarizes the store.
type Stats struct {
	Records int64 `json:"records"`
	Pending int64 `json:"pending"`
	Scans   int64 `json:"scans"`
}
