package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vertextoedge/transferd/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newRecord(id, dest string) *domain.Download {
	return &domain.Download{
		ID:         id,
		URL:        "https://example.com/" + id,
		DestPath:   dest,
		TotalBytes: domain.UnknownLength,
		MaxRetries: 3,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	store := openTestStore(t)

	d := newRecord("a", "/tmp/a.bin")
	if err := store.CreateDownload(d); err != nil {
		t.Fatalf("CreateDownload() error = %v", err)
	}
	if d.Status != domain.StatusQueued {
		t.Errorf("Status = %s, want queued", d.Status)
	}

	got, err := store.GetDownload("a")
	if err != nil {
		t.Fatalf("GetDownload() error = %v", err)
	}
	if got == nil || got.URL != d.URL || got.TotalBytes != domain.UnknownLength {
		t.Fatalf("GetDownload() = %+v", got)
	}

	missing, err := store.GetDownload("nope")
	if err != nil || missing != nil {
		t.Errorf("GetDownload(missing) = %+v, %v, want nil, nil", missing, err)
	}
}

func TestStore_CreateDuplicate(t *testing.T) {
	store := openTestStore(t)

	store.CreateDownload(newRecord("a", "/tmp/a.bin"))

	if err := store.CreateDownload(newRecord("a", "/tmp/other.bin")); err != domain.ErrAlreadyExists {
		t.Errorf("duplicate id error = %v, want ErrAlreadyExists", err)
	}
	if err := store.CreateDownload(newRecord("b", "/tmp/a.bin")); err != domain.ErrAlreadyExists {
		t.Errorf("duplicate dest error = %v, want ErrAlreadyExists", err)
	}
}

func TestStore_SaveDownload(t *testing.T) {
	store := openTestStore(t)

	d := newRecord("a", "/tmp/a.bin")
	store.CreateDownload(d)

	next := time.Now().Add(time.Minute)
	d.Status = domain.StatusFailed
	d.DownloadedBytes = 500
	d.ETag = `"v1"`
	d.RetryCount = 1
	d.NextRetryAt = &next
	d.LastError = "connection reset"
	if err := store.SaveDownload(d); err != nil {
		t.Fatalf("SaveDownload() error = %v", err)
	}

	got, _ := store.GetDownload("a")
	if got.Status != domain.StatusFailed || got.DownloadedBytes != 500 || got.ETag != `"v1"` {
		t.Errorf("GetDownload() = %+v", got)
	}
	if got.NextRetryAt == nil || got.NextRetryAt.Unix() != next.Unix() {
		t.Errorf("NextRetryAt = %v, want %v", got.NextRetryAt, next)
	}

	if err := store.SaveDownload(newRecord("ghost", "/tmp/ghost")); err != domain.ErrNotFound {
		t.Errorf("SaveDownload(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_MarkActiveInterrupted(t *testing.T) {
	store := openTestStore(t)

	statuses := map[string]domain.Status{
		"a": domain.StatusDownloading,
		"b": domain.StatusPaused,
		"c": domain.StatusCompleted,
		"d": domain.StatusQueued,
		"e": domain.StatusRestartRequired,
	}
	for id, st := range statuses {
		d := newRecord(id, "/tmp/"+id)
		d.Status = st
		store.CreateDownload(d)
	}

	count, err := store.MarkActiveInterrupted()
	if err != nil {
		t.Fatalf("MarkActiveInterrupted() error = %v", err)
	}
	if count != 3 {
		t.Errorf("MarkActiveInterrupted() = %d, want 3", count)
	}

	got, _ := store.GetDownload("c")
	if got.Status != domain.StatusCompleted {
		t.Errorf("completed record changed to %s", got.Status)
	}
	got, _ = store.GetDownload("a")
	if got.Status != domain.StatusInterrupted {
		t.Errorf("downloading record = %s, want interrupted", got.Status)
	}
}

func TestStore_CleanupFinishedAndStats(t *testing.T) {
	store := openTestStore(t)

	done := newRecord("done", "/tmp/done")
	done.Status = domain.StatusCompleted
	done.DownloadedBytes = 100
	store.CreateDownload(done)

	failed := newRecord("failed", "/tmp/failed")
	failed.Status = domain.StatusFailed
	store.CreateDownload(failed)

	stats, err := store.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Total != 2 || stats.ByStatus[domain.StatusCompleted] != 1 || stats.TotalBytes != 100 {
		t.Errorf("GetStats() = %+v", stats)
	}

	// Nothing is old enough yet
	count, err := store.CleanupFinished(time.Hour)
	if err != nil || count != 0 {
		t.Errorf("CleanupFinished(1h) = %d, %v", count, err)
	}

	count, err = store.CleanupFinished(-time.Minute)
	if err != nil || count != 1 {
		t.Errorf("CleanupFinished(-1m) = %d, %v, want 1", count, err)
	}
	if got, _ := store.GetDownload("failed"); got == nil {
		t.Error("failed record must survive cleanup")
	}
}

func TestStore_ListDownloads(t *testing.T) {
	store := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		store.CreateDownload(newRecord(id, "/tmp/"+id))
	}
	store.DeleteDownload("b")

	list, err := store.ListDownloads()
	if err != nil {
		t.Fatalf("ListDownloads() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListDownloads() len = %d, want 2", len(list))
	}
}

func TestMetadataStore(t *testing.T) {
	meta := openTestStore(t).Metadata(nil)
	dest := "/downloads/file.bin"

	if got := meta.Load(dest); got != nil {
		t.Fatalf("Load(missing) = %+v", got)
	}

	err := meta.Save(dest, &domain.Metadata{
		URL:             "https://example.com/file.bin",
		LastModified:    "Wed, 21 Oct 2015 07:28:00 GMT",
		TotalLength:     0,
		DownloadedBytes: 42,
		UpdatedAt:       time.UnixMilli(1700000000000),
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got := meta.Load(dest)
	if got == nil {
		t.Fatal("Load() returned nil")
	}
	if got.ETag != "" || got.LastModified == "" {
		t.Errorf("validators = %q, %q", got.ETag, got.LastModified)
	}
	if got.TotalLength != domain.UnknownLength || got.DownloadedBytes != 42 {
		t.Errorf("lengths = %d, %d", got.TotalLength, got.DownloadedBytes)
	}

	// Upsert
	got.DownloadedBytes = 84
	meta.Save(dest, got)
	if again := meta.Load(dest); again.DownloadedBytes != 84 {
		t.Errorf("DownloadedBytes after upsert = %d, want 84", again.DownloadedBytes)
	}

	if err := meta.Delete(dest); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if meta.Load(dest) != nil {
		t.Error("record still present after Delete")
	}
}
