package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mkoru/multifetch/internal/registry"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	entries := []registry.Entry{
		{
			ID:             "1",
			URL:            "http://example.com/a.bin",
			Filename:       "a.bin",
			FinalPath:      filepath.Join(dir, "a.bin"),
			TotalSize:      1024,
			DownloadedSize: 1024,
			Status:         registry.StatusComplete,
			Chunks:         registry.PlanChunks(1024, 8),
		},
	}

	if err := s.Save(entries); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(loaded) != 1 {
		t.Fatalf("Load() returned %d entries, want 1", len(loaded))
	}
	if loaded[0].ID != "1" {
		t.Errorf("loaded ID = %s, want 1", loaded[0].ID)
	}
	if loaded[0].URL != entries[0].URL {
		t.Errorf("loaded URL = %s, want %s", loaded[0].URL, entries[0].URL)
	}
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	entries, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if entries != nil {
		t.Errorf("Load() on missing file = %v, want nil", entries)
	}
}

func TestLoadMalformedFileReturnsErrLoad(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if err := os.WriteFile(s.Path(), []byte("not json"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := s.Load()
	if err == nil {
		t.Fatal("Load() on malformed file should return an error")
	}
}

func TestNormalizeRevertsInFlightStatusToQueued(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	entries := []registry.Entry{
		{ID: "1", Status: registry.StatusDownloading, Chunks: registry.PlanChunks(100, 2)},
	}
	if err := s.Save(entries); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded[0].Status != registry.StatusQueued {
		t.Errorf("Status after load = %s, want queued", loaded[0].Status)
	}
}

func TestNormalizeRecoversProgressFromTempDir(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	tempDir := filepath.Join(dir, "temp_1")
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(PartFilePath(tempDir, 0), make([]byte, 37), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	chunks := registry.PlanChunks(100, 2)
	chunks[0].Status = registry.ChunkDownloading

	entries := []registry.Entry{
		{ID: "1", Status: registry.StatusDownloading, TempDir: tempDir, Chunks: chunks},
	}
	if err := s.Save(entries); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded[0].Chunks[0].Downloaded != 37 {
		t.Errorf("chunk 0 Downloaded = %d, want 37 (on-disk size)", loaded[0].Chunks[0].Downloaded)
	}
	if loaded[0].Chunks[0].Status != registry.ChunkPaused {
		t.Errorf("chunk 0 Status = %s, want paused", loaded[0].Chunks[0].Status)
	}
	if loaded[0].DownloadedSize != 37 {
		t.Errorf("DownloadedSize = %d, want 37", loaded[0].DownloadedSize)
	}
}

func TestNormalizeZeroesProgressWhenTempDirMissing(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	chunks := registry.PlanChunks(100, 2)
	chunks[0].Downloaded = 50
	chunks[0].Status = registry.ChunkComplete

	entries := []registry.Entry{
		{ID: "1", Status: registry.StatusDownloading, TempDir: filepath.Join(dir, "gone"), Chunks: chunks},
	}
	if err := s.Save(entries); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for i, c := range loaded[0].Chunks {
		if c.Downloaded != 0 {
			t.Errorf("chunk %d Downloaded = %d, want 0", i, c.Downloaded)
		}
		if c.Status != registry.ChunkPending {
			t.Errorf("chunk %d Status = %s, want pending", i, c.Status)
		}
	}
	if loaded[0].DownloadedSize != 0 {
		t.Errorf("DownloadedSize = %d, want 0", loaded[0].DownloadedSize)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if err := s.Save([]registry.Entry{{ID: "1", Chunks: registry.PlanChunks(10, 1)}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := os.Stat(s.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after a successful save")
	}
}
