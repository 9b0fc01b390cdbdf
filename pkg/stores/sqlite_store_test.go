package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a migrated SQLite store in a temporary directory.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "archive.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRecord(pass string, created time.Time) *Record {
	return &Record{
		PassName:     pass,
		Run:          7,
		ScriptPath:   "/configs/" + pass + ".star",
		ScriptSHA256: "abc123",
		Libraries:    []string{"libfire_framework.so", "libEcal.so"},
		Dump:         `{"pass_name":"` + pass + `"}`,
		Allowed:      true,
		CreatedAt:    created,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "memory", path: MemoryPath},
		{name: "file", path: filepath.Join(t.TempDir(), "lifecycle.db")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewSQLiteStore(Config{Path: tt.path})
			if err != nil {
				t.Fatalf("failed to create store: %v", err)
			}

			ctx := context.Background()
			if err := store.Init(ctx); err != nil {
				t.Fatalf("failed to initialize store: %v", err)
			}
			if err := store.Migrate(ctx); err != nil {
				t.Fatalf("failed to migrate store: %v", err)
			}
			// Running migrations again is a no-op.
			if err := store.Migrate(ctx); err != nil {
				t.Fatalf("second migration failed: %v", err)
			}
			if err := store.HealthCheck(ctx); err != nil {
				t.Fatalf("health check failed: %v", err)
			}
			if err := store.Close(); err != nil {
				t.Fatalf("failed to close store: %v", err)
			}
		})
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestHealthCheck_Uninitialized(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Migrate(context.Background()); err == nil {
		t.Error("expected migrate to fail before Init")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"records", "findings"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestRecordCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	record := newRecord("reco", time.Now().UTC())
	record.Allowed = false
	record.Findings = []Finding{
		{Policy: "sequence-required", Severity: "error", Path: "sequence", Message: "No sequence has been defined"},
		{Policy: "production-limit", Severity: "warning", Message: "no limit"},
	}

	if err := store.SaveRecord(ctx, record); err != nil {
		t.Fatalf("failed to save record: %v", err)
	}
	if record.ID == "" {
		t.Fatal("expected an ID to be assigned")
	}
	for _, f := range record.Findings {
		if f.ID == 0 || f.RecordID != record.ID {
			t.Errorf("finding not linked: %+v", f)
		}
	}

	got, err := store.GetRecord(ctx, record.ID)
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got.PassName != "reco" || got.Run != 7 || got.Allowed {
		t.Errorf("unexpected record %+v", got)
	}
	if len(got.Libraries) != 2 || got.Libraries[1] != "libEcal.so" {
		t.Errorf("libraries not preserved: %v", got.Libraries)
	}
	if got.Dump != record.Dump {
		t.Errorf("dump mismatch: %s", got.Dump)
	}
	if !got.CreatedAt.Equal(record.CreatedAt) {
		t.Errorf("created_at mismatch: %v vs %v", got.CreatedAt, record.CreatedAt)
	}
	if len(got.Findings) != 2 || got.Findings[0].Policy != "sequence-required" || got.Findings[1].Path != "" {
		t.Errorf("unexpected findings %+v", got.Findings)
	}

	if err := store.DeleteRecord(ctx, record.ID); err != nil {
		t.Fatalf("failed to delete record: %v", err)
	}
	if _, err := store.GetRecord(ctx, record.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	var findings int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM findings").Scan(&findings); err != nil {
		t.Fatalf("failed to count findings: %v", err)
	}
	if findings != 0 {
		t.Errorf("expected findings to cascade, %d left", findings)
	}

	if err := store.DeleteRecord(ctx, record.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestSaveRecord_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	record := newRecord("reco", time.Time{})
	record.ID = "fixed"
	if err := store.SaveRecord(ctx, record); err != nil {
		t.Fatalf("failed to save record: %v", err)
	}
	if record.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	again := newRecord("reco", time.Time{})
	again.ID = "fixed"
	if err := store.SaveRecord(ctx, again); err == nil {
		t.Error("expected duplicate ID to fail")
	}
}

func TestListRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, pass := range []string{"reco", "sim", "reco", "reco"} {
		r := newRecord(pass, base.Add(time.Duration(i)*time.Minute))
		if pass == "sim" {
			r.ScriptSHA256 = "def456"
		}
		if err := store.SaveRecord(ctx, r); err != nil {
			t.Fatalf("failed to save record %d: %v", i, err)
		}
	}

	tests := []struct {
		name      string
		filter    ListFilter
		wantCount int
		wantFirst time.Time
	}{
		{name: "all", filter: ListFilter{}, wantCount: 4, wantFirst: base.Add(3 * time.Minute)},
		{name: "by pass", filter: ListFilter{PassName: "sim"}, wantCount: 1, wantFirst: base.Add(time.Minute)},
		{name: "by script", filter: ListFilter{ScriptSHA256: "abc123"}, wantCount: 3, wantFirst: base.Add(3 * time.Minute)},
		{name: "limit", filter: ListFilter{PassName: "reco", Limit: 2}, wantCount: 2, wantFirst: base.Add(3 * time.Minute)},
		{name: "offset", filter: ListFilter{PassName: "reco", Limit: 2, Offset: 2}, wantCount: 1, wantFirst: base},
		{name: "no match", filter: ListFilter{PassName: "nope"}, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := store.ListRecords(ctx, tt.filter)
			if err != nil {
				t.Fatalf("failed to list records: %v", err)
			}
			if len(records) != tt.wantCount {
				t.Fatalf("expected %d records, got %d", tt.wantCount, len(records))
			}
			if tt.wantCount > 0 && !records[0].CreatedAt.Equal(tt.wantFirst) {
				t.Errorf("expected newest %v first, got %v", tt.wantFirst, records[0].CreatedAt)
			}
		})
	}
}

func TestLatestByPass(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.LatestByPass(ctx, "reco"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on empty archive, got %v", err)
	}

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	older := newRecord("reco", base)
	newer := newRecord("reco", base.Add(time.Hour))
	newer.Findings = []Finding{{Policy: "seed-mode", Severity: "warning", Message: "no seed"}}
	for _, r := range []*Record{older, newer} {
		if err := store.SaveRecord(ctx, r); err != nil {
			t.Fatalf("failed to save record: %v", err)
		}
	}

	latest, err := store.LatestByPass(ctx, "reco")
	if err != nil {
		t.Fatalf("LatestByPass failed: %v", err)
	}
	if latest.ID != newer.ID {
		t.Errorf("expected %s, got %s", newer.ID, latest.ID)
	}
	if len(latest.Findings) != 1 {
		t.Errorf("expected findings to be loaded, got %v", latest.Findings)
	}
}

func TestPruneBefore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := store.SaveRecord(ctx, newRecord("reco", base.Add(time.Duration(i)*24*time.Hour))); err != nil {
			t.Fatalf("failed to save record: %v", err)
		}
	}

	removed, err := store.PruneBefore(ctx, base.Add(36*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 records pruned, got %d", removed)
	}

	records, err := store.ListRecords(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record left, got %d", len(records))
	}
}
