package sidecar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
)

func TestStore_SaveAndLoad(t *testing.T) {
	s := NewStore(zap.NewNop())
	dest := filepath.Join(t.TempDir(), "file.bin")
	updated := time.UnixMilli(1700000000123)

	err := s.Save(dest, &domain.Metadata{
		URL:             "https://example.com/file.bin",
		ETag:            `"abc"`,
		TotalLength:     10000,
		DownloadedBytes: 2500,
		UpdatedAt:       updated,
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got := s.Load(dest)
	if got == nil {
		t.Fatal("Load() returned nil")
	}
	if got.ETag != `"abc"` || got.LastModified != "" {
		t.Errorf("validators = %q, %q", got.ETag, got.LastModified)
	}
	if got.TotalLength != 10000 || got.DownloadedBytes != 2500 {
		t.Errorf("lengths = %d, %d", got.TotalLength, got.DownloadedBytes)
	}
	if !got.UpdatedAt.Equal(updated) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, updated)
	}
}

func TestStore_WireFormat(t *testing.T) {
	s := NewStore(zap.NewNop())
	dest := filepath.Join(t.TempDir(), "file.bin")

	if err := s.Save(dest, &domain.Metadata{URL: "u", TotalLength: domain.UnknownLength}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dest + ".meta.json")
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{`"etag":null`, `"lastModified":null`, `"totalLength":-1`, `"updatedAt":`} {
		if !strings.Contains(text, want) {
			t.Errorf("sidecar %s missing %s", text, want)
		}
	}
}

func TestStore_LoadMissingOrMalformed(t *testing.T) {
	s := NewStore(nil)
	dir := t.TempDir()

	if got := s.Load(filepath.Join(dir, "missing.bin")); got != nil {
		t.Errorf("Load(missing) = %+v, want nil", got)
	}

	bad := filepath.Join(dir, "bad.bin")
	os.WriteFile(bad+".meta.json", []byte("{not json"), 0644)
	if got := s.Load(bad); got != nil {
		t.Errorf("Load(malformed) = %+v, want nil", got)
	}
}

func TestStore_Delete(t *testing.T) {
	s := NewStore(nil)
	dest := filepath.Join(t.TempDir(), "file.bin")

	if err := s.Delete(dest); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
	s.Save(dest, &domain.Metadata{URL: "u"})
	if err := s.Delete(dest); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if s.Load(dest) != nil {
		t.Error("sidecar still loadable after Delete")
	}
}
