package store

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if err := ValidateSchema(s.DB()); err != nil {
		t.Errorf("schema invalid: %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertRecord(&Record{Form: "abnormal", Fields: map[string]any{"packageNo": "P1"}}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Records != 1 {
		t.Errorf("expected 1 record after reopen, got %d", st.Records)
	}
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestInsertAndGetRecord(t *testing.T) {
	s := openTestStore(t)

	r := &Record{
		Form:   "abnormal",
		Fields: map[string]any{"packageNo": "PKG-0001", "remark": "torn", "abnormal": true},
	}
	id, err := s.InsertRecord(r)
	if err != nil {
		t.Fatalf("InsertRecord failed: %v", err)
	}
	if r.ID != id || r.ClientID == "" || r.CreatedAt.IsZero() {
		t.Errorf("defaults not filled in: %+v", r)
	}

	got, err := s.GetRecord(id)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got == nil {
		t.Fatal("record not found")
	}
	if got.ClientID != r.ClientID || got.Form != "abnormal" {
		t.Errorf("got %+v", got)
	}
	if got.Fields["packageNo"] != "PKG-0001" || got.Fields["abnormal"] != true {
		t.Errorf("fields = %v", got.Fields)
	}
	if got.Fingerprint != r.Fingerprint {
		t.Error("fingerprint not persisted")
	}
	if got.Synced || got.SyncedAt != nil {
		t.Error("new record should be unsynced")
	}
}

func TestGetRecordMissing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetRecord(99)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestInsertDuplicateClientID(t *testing.T) {
	s := openTestStore(t)

	r := &Record{ClientID: "c-1", Form: "abnormal", Fields: map[string]any{"packageNo": "A"}}
	if _, err := s.InsertRecord(r); err != nil {
		t.Fatal(err)
	}
	dup := &Record{ClientID: "c-1", Form: "abnormal", Fields: map[string]any{"packageNo": "B"}}
	_, err := s.InsertRecord(dup)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestSyncLifecycle(t *testing.T) {
	s := openTestStore(t)

	var ids []int64
	for _, pkg := range []string{"P1", "P2", "P3"} {
		id, err := s.InsertRecord(&Record{Form: "abnormal", Fields: map[string]any{"packageNo": pkg}})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	if err := s.MarkFailed(ids[0], "connection refused"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	at := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	if err := s.MarkSynced(ids[1], at); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	pending, err := s.PendingRecords(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != ids[0] || pending[1].ID != ids[2] {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].Attempts != 1 || pending[0].LastError != "connection refused" {
		t.Errorf("failure not recorded: %+v", pending[0])
	}

	synced, err := s.GetRecord(ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if !synced.Synced || synced.SyncedAt == nil || !synced.SyncedAt.Equal(at) {
		t.Errorf("sync not recorded: %+v", synced)
	}

	limited, err := s.PendingRecords(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d", len(limited))
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Records != 3 || st.Pending != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMarkUnknownRecord(t *testing.T) {
	s := openTestStore(t)
	if err := s.MarkSynced(42, time.Now()); err == nil {
		t.Error("expected error for unknown record")
	}
}

func TestListRecordsByForm(t *testing.T) {
	s := openTestStore(t)
	for _, form := range []string{"abnormal", "receiving", "abnormal"} {
		if _, err := s.InsertRecord(&Record{Form: form, Fields: map[string]any{"n": form}}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListRecords("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID < all[2].ID {
		t.Errorf("expected 3 records newest first, got %+v", all)
	}

	abnormal, err := s.ListRecords("abnormal", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(abnormal) != 2 {
		t.Errorf("expected 2 abnormal records, got %d", len(abnormal))
	}
}

func TestFindByFingerprint(t *testing.T) {
	s := openTestStore(t)
	fields := map[string]any{"packageNo": "PKG-7", "abnormal": false}

	first := &Record{Form: "abnormal", Fields: fields}
	if _, err := s.InsertRecord(first); err != nil {
		t.Fatal(err)
	}

	fp, err := Fingerprint("abnormal", map[string]any{"abnormal": false, "packageNo": "PKG-7"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.FindByFingerprint("abnormal", fp)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != first.ID {
		t.Fatalf("expected record %d, got %+v", first.ID, got)
	}

	other, err := s.FindByFingerprint("receiving", fp)
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Error("fingerprint lookup must be scoped to the form")
	}
}

func TestFingerprintDependsOnFormAndContent(t *testing.T) {
	a, _ := Fingerprint("abnormal", map[string]any{"packageNo": "1"})
	b, _ := Fingerprint("abnormal", map[string]any{"packageNo": "2"})
	c, _ := Fingerprint("receiving", map[string]any{"packageNo": "1"})
	if a == b || a == c {
		t.Error("distinct content produced equal fingerprints")
	}
}

func TestVerifyAllRecords(t *testing.T) {
	s := openTestStore(t)
	good := &Record{Form: "abnormal", Fields: map[string]any{"packageNo": "OK"}}
	bad := &Record{Form: "abnormal", Fields: map[string]any{"packageNo": "X"}}
	for _, r := range []*Record{good, bad} {
		if _, err := s.InsertRecord(r); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.db.Exec(`UPDATE records SET fields_json = '{"packageNo":"Y"}' WHERE id = ?`, bad.ID); err != nil {
		t.Fatal(err)
	}

	corrupted, err := s.VerifyAllRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(corrupted) != 1 || corrupted[0] != bad.ID {
		t.Errorf("corrupted = %v, want [%d]", corrupted, bad.ID)
	}
}

func TestScanLog(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)

	entries := []ScanEntry{
		{At: base, Action: "value", Rule: "value", Code: "ABC123", Value: "ABC123", Chars: 6, Duration: 30 * time.Millisecond},
		{At: base.Add(time.Second), Action: "submit", Rule: "submit:SUBMIT_FORM_NOW", Code: "SUBMIT_FORM_NOW", Chars: 15, Duration: 80 * time.Millisecond},
	}
	for i := range entries {
		if _, err := s.InsertScan(&entries[i]); err != nil {
			t.Fatalf("InsertScan: %v", err)
		}
	}

	got, err := s.ListScans(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 scans, got %d", len(got))
	}
	if got[0].Action != "submit" || got[1].Code != "ABC123" {
		t.Errorf("unexpected order: %+v", got)
	}
	if got[1].Duration != 30*time.Millisecond || !got[1].At.Equal(base) {
		t.Errorf("round trip lost data: %+v", got[1])
	}
}

func TestMigrationStatusAndRollback(t *testing.T) {
	s := openTestStore(t)

	status, err := GetMigrationStatus(s.DB())
	if err != nil {
		t.Fatal(err)
	}
	if status.CurrentVersion != status.LatestVersion || len(status.Pending) != 0 {
		t.Errorf("status = %+v", status)
	}

	if err := RollbackMigration(s.DB()); err != nil {
		t.Fatalf("RollbackMigration: %v", err)
	}
	status, err = GetMigrationStatus(s.DB())
	if err != nil {
		t.Fatal(err)
	}
	if status.CurrentVersion != 1 || len(status.Pending) != 1 {
		t.Errorf("after rollback status = %+v", status)
	}

	if err := MigrateDB(s.DB()); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	if _, err := s.InsertRecord(&Record{Form: "abnormal", Fields: map[string]any{}}); err != nil {
		t.Errorf("insert after re-migrate: %v", err)
	}
}

func TestScanLogWritesInBackground(t *testing.T) {
	s := openTestStore(t)
	l := NewScanLog(s, 16, nil)

	at := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if !l.Record(ScanEntry{At: at.Add(time.Duration(i) * time.Second), Action: "value", Code: "KG1", Chars: 3}) {
			t.Fatalf("entry %d dropped", i)
		}
	}
	l.Close()
	l.Close()

	scans, err := s.ListScans(-1)
	if err != nil {
		t.Fatal(err)
	}
	if len(scans) != 5 {
		t.Errorf("got %d scans, want 5", len(scans))
	}
	if l.Dropped() != 0 {
		t.Errorf("Dropped() = %d", l.Dropped())
	}
}

func TestScanLogDropsWhenFull(t *testing.T) {
	s := openTestStore(t)
	// The writer is started by hand so the queue fills deterministically.
	l := &ScanLog{store: s, log: slog.Default(), queue: make(chan ScanEntry, 2), done: make(chan struct{})}
	ok := 0
	for i := 0; i < 5; i++ {
		if l.Record(ScanEntry{Action: "value"}) {
			ok++
		}
	}
	if ok != 2 || l.Dropped() != 3 {
		t.Errorf("accepted %d, dropped %d; want 2 and 3", ok, l.Dropped())
	}

	go l.run()
	l.Close()
	scans, err := s.ListScans(-1)
	if err != nil {
		t.Fatal(err)
	}
	if len(scans) != 2 {
		t.Errorf("got %d scans after drain, want 2", len(scans))
	}
}
