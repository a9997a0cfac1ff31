// Package store is the Persistent Store: a durable snapshot of the
// whole download registry, written atomically after every state
// transition and replayed (with recovery normalization) on restart.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mkoru/multifetch/internal/registry"
	"github.com/mkoru/multifetch/internal/storage"
)

// ErrLoad wraps a malformed store file. Callers should log and
// proceed with an empty registry, per the error handling design.
var ErrLoad = errors.New("store: malformed persistent store file")

// ErrPersist wraps a failure to write the store file.
var ErrPersist = errors.New("store: failed to persist registry")

// fileName is the persistent store's name inside DOWNLOAD_FOLDER.
const fileName = "downloads.json"

// Store owns reading and writing the registry snapshot file.
type Store struct {
	downloadFolder string
}

// New creates a Store rooted at downloadFolder, where downloads.json
// lives alongside completed files.
func New(downloadFolder string) *Store {
	return &Store{downloadFolder: downloadFolder}
}

// Path returns the path to the store file inside the download folder
// (relative when the folder is configured as a relative path).
func (s *Store) Path() string {
	return filepath.Join(s.downloadFolder, fileName)
}

// Load reads the store file if present and applies recovery
// normalization (§4.1) to every entry: an in-flight status reverts to
// queued, and chunk progress is reconciled against what is actually on
// disk in tempDir. A missing file is not an error — it returns an
// empty slice.
func (s *Store) Load() ([]*registry.Entry, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	var entries []*registry.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	for _, e := range entries {
		normalize(e)
	}

	return entries, nil
}

// normalize applies the recovery rules to one loaded entry in place.
func normalize(e *registry.Entry) {
	if e.Status == registry.StatusDownloading || e.Status == registry.StatusQueued {
		e.Status = registry.StatusQueued
	}

	if e.TempDir != "" {
		if info, err := os.Stat(e.TempDir); err == nil && info.IsDir() {
			for i := range e.Chunks {
				c := &e.Chunks[i]
				c.Downloaded = partFileSize(e.TempDir, c.ID)
				if c.Status == registry.ChunkDownloading {
					c.Status = registry.ChunkPaused
				}
			}
			recalculate(e)
			return
		}
	}

	// tempDir missing or never set: on-disk progress is unrecoverable.
	for i := range e.Chunks {
		e.Chunks[i].Downloaded = 0
		e.Chunks[i].Status = registry.ChunkPending
		e.Chunks[i].CurrentSpeed = 0
	}
	recalculate(e)
}

func partFileSize(tempDir string, chunkID int) int64 {
	size, err := storage.FileSize(PartFilePath(tempDir, chunkID))
	if err != nil {
		return 0
	}
	return size
}

// PartFilePath returns the path of chunk chunkID's part file inside
// tempDir, named per the glossary's "part_<i>" convention.
func PartFilePath(tempDir string, chunkID int) string {
	return filepath.Join(tempDir, fmt.Sprintf("part_%d", chunkID))
}

func recalculate(e *registry.Entry) {
	var total int64
	for _, c := range e.Chunks {
		total += c.Downloaded
	}
	e.DownloadedSize = total
}

// Save serializes the full ordered registry snapshot, writing to a
// sibling temp path and renaming over the target so a crash never
// leaves a partial file.
func (s *Store) Save(entries []registry.Entry) error {
	if err := os.MkdirAll(s.downloadFolder, 0755); err != nil {
		return fmt.Errorf("%w: creating download folder: %v", ErrPersist, err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling registry: %v", ErrPersist, err)
	}

	path := s.Path()
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("%w: writing store file: %v", ErrPersist, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: renaming store file: %v", ErrPersist, err)
	}

	return nil
}
