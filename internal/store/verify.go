package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint is the BLAKE2b-256 digest of a form name and its field values.
// Map keys are encoded in sorted order, so equal content always yields the
// same fingerprint regardless of which workstation produced it.
func Fingerprint(form string, fields map[string]any) ([32]byte, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode fields: %w", err)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, err
	}
	h.Write([]byte(form))
	h.Write([]byte{0})
	h.Write(data)

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// VerifyRecord checks a record's stored fingerprint against its content.
func VerifyRecord(r *Record) error {
	want, err := Fingerprint(r.Form, r.Fields)
	if err != nil {
		return err
	}
	if !bytes.Equal(want[:], r.Fingerprint[:]) {
		return fmt.Errorf("fingerprint mismatch for record %d: computed %x, stored %x", r.ID, want, r.Fingerprint)
	}
	return nil
}

// VerifyAllRecords returns the ids of records whose content no longer
// matches their fingerprint.
func (s *Store) VerifyAllRecords() ([]int64, error) {
	rows, err := s.db.Query(`SELECT ` + recordColumns + ` FROM records ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query all records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	var corrupted []int64
	for i := range records {
		if VerifyRecord(&records[i]) != nil {
			corrupted = append(corrupted, records[i].ID)
		}
	}
	return corrupted, nil
}
