// Package registry holds the download data model, the in-memory
// Registry of active entries, and the Event Hub that broadcasts their
// progress to attached clients.
package registry

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a download entry.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusAssembling  Status = "assembling"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
)

// ChunkStatus is the lifecycle state of one chunk.
type ChunkStatus string

const (
	ChunkPending     ChunkStatus = "pending"
	ChunkDownloading ChunkStatus = "downloading"
	ChunkPaused      ChunkStatus = "paused"
	ChunkComplete    ChunkStatus = "complete"
	ChunkError       ChunkStatus = "error"
)

// Chunk is a contiguous byte range of the source assigned to one
// parallel fetch, plus the transient speed-window state used to
// derive its current throughput.
type Chunk struct {
	ID         int         `json:"id"`
	Start      int64       `json:"start"`
	End        int64       `json:"end"`
	Downloaded int64       `json:"downloaded"`
	Status     ChunkStatus `json:"status"`

	CurrentSpeed       int64     `json:"-"`
	LastTimestamp      time.Time `json:"-"`
	LastDownloadedSize int64     `json:"-"`
}

// Size returns the inclusive byte length assigned to this chunk.
func (c *Chunk) Size() int64 {
	return c.End - c.Start + 1
}

// Remaining returns the bytes left to fetch for this chunk.
func (c *Chunk) Remaining() int64 {
	return c.Size() - c.Downloaded
}

// IsComplete reports whether every byte of the chunk is on disk.
func (c *Chunk) IsComplete() bool {
	return c.Downloaded >= c.Size()
}

// NextOffset returns the absolute byte offset to resume this chunk
// from, given bytes already present in its part file.
func (c *Chunk) NextOffset() int64 {
	return c.Start + c.Downloaded
}

// PlanChunks partitions [0, totalSize-1] into at most numChunks ranges
// of ceil(totalSize/numChunks) bytes each, per the data model: chunk
// size c = ceil(S/N), start = i*c, end = min((i+1)*c-1, S-1). Ranges
// whose start would lie past S-1 are not emitted, so a small totalSize
// can yield fewer than numChunks chunks (9 bytes over 8 gives 5). A
// totalSize or numChunks <= 0 yields a single empty chunk (End -1).
func PlanChunks(totalSize int64, numChunks int) []Chunk {
	if totalSize <= 0 || numChunks <= 0 {
		return []Chunk{{ID: 0, Start: 0, End: -1, Status: ChunkPending}}
	}

	chunkSize := (totalSize + int64(numChunks) - 1) / int64(numChunks)
	chunks := make([]Chunk, 0, numChunks)

	for i := 0; ; i++ {
		start := int64(i) * chunkSize
		if start > totalSize-1 {
			break
		}
		end := start + chunkSize - 1
		if end > totalSize-1 {
			end = totalSize - 1
		}
		chunks = append(chunks, Chunk{ID: i, Start: start, End: end, Status: ChunkPending})
	}

	return chunks
}

// Entry is one download the user submitted. It carries its own
// read-write lock so the Supervisor that owns it (the single writer,
// per the data model's ownership rule) can safely mutate chunk state
// while the periodic broadcaster and Scheduler take consistent reads.
type Entry struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	Filename       string    `json:"filename"`
	FinalPath      string    `json:"finalPath"`
	TempDir        string    `json:"tempDir,omitempty"`
	TotalSize      int64     `json:"totalSize"`
	DownloadedSize int64     `json:"downloadedSize"`
	Status         Status    `json:"status"`
	CurrentSpeed   int64     `json:"currentSpeed"`
	Error          string    `json:"error,omitempty"`
	Chunks         []Chunk   `json:"chunks"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	mu sync.RWMutex
}

// ETA returns the estimated time to completion, or false when the
// current speed is zero (undefined, per the data model).
func (e *Entry) ETA() (time.Duration, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.etaLocked()
}

func (e *Entry) etaLocked() (time.Duration, bool) {
	if e.CurrentSpeed <= 0 {
		return 0, false
	}
	remaining := e.TotalSize - e.DownloadedSize
	if remaining <= 0 {
		return 0, false
	}
	seconds := float64(remaining) / float64(e.CurrentSpeed)
	return time.Duration(seconds * float64(time.Second)), true
}

// Snapshot returns a deep copy of the entry safe to read without
// holding the entry's lock.
func (e *Entry) Snapshot() Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp := Entry{
		ID:             e.ID,
		URL:            e.URL,
		Filename:       e.Filename,
		FinalPath:      e.FinalPath,
		TempDir:        e.TempDir,
		TotalSize:      e.TotalSize,
		DownloadedSize: e.DownloadedSize,
		Status:         e.Status,
		CurrentSpeed:   e.CurrentSpeed,
		Error:          e.Error,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
		Chunks:         make([]Chunk, len(e.Chunks)),
	}
	copy(cp.Chunks, e.Chunks)
	return cp
}

// WithLock runs fn with the entry's write lock held. Used by the
// Supervisor that owns this entry to perform multi-field mutations
// (e.g. updating a chunk and recalculating aggregate progress)
// atomically.
func (e *Entry) WithLock(fn func(*Entry)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
	e.UpdatedAt = time.Now()
}

// RecalculateLocked recomputes DownloadedSize and CurrentSpeed from
// the chunk slice. Caller must hold the write lock (normally via
// WithLock).
func (e *Entry) RecalculateLocked() {
	var downloaded int64
	var speed int64
	for _, c := range e.Chunks {
		downloaded += c.Downloaded
		if c.Status == ChunkDownloading {
			speed += c.CurrentSpeed
		}
	}
	e.DownloadedSize = downloaded
	e.CurrentSpeed = speed
}

// AllChunksComplete reports whether every chunk has finished.
func (e *Entry) AllChunksComplete() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.Chunks) == 0 {
		return false
	}
	for _, c := range e.Chunks {
		if c.Status != ChunkComplete {
			return false
		}
	}
	return true
}
