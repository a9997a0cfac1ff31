// Package supervisor implements the Download Supervisor (owns one
// download's lifecycle: plan, start, pause, completion) and the Chunk
// Worker it drives (one ranged fetch into one part file).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mkoru/multifetch/internal/assembler"
	"github.com/mkoru/multifetch/internal/protocol"
	"github.com/mkoru/multifetch/internal/registry"
	"github.com/mkoru/multifetch/internal/storage"
	"github.com/mkoru/multifetch/internal/store"
)

// ErrUnsupportedRangedFetch mirrors protocol.ErrUnsupportedRangedFetch
// at plan time: the origin's HEAD response lacks Accept-Ranges: bytes.
var ErrUnsupportedRangedFetch = errors.New("supervisor: origin does not support ranged fetch")

// ErrMetadataMissing is returned when HEAD does not report a usable
// Content-Length.
var ErrMetadataMissing = errors.New("supervisor: origin did not report a usable Content-Length")

const speedWindow = 500 * time.Millisecond
const readBufferSize = 32 * 1024

// Hooks lets the owning engine observe transitions without the
// Supervisor importing the Scheduler or Store packages directly,
// avoiding the cyclic coupling the source resolves with a module
// singleton.
type Hooks struct {
	// Persist is called after every mutation that must survive a
	// restart (§4.1: save() after every state transition).
	Persist func()
	// Schedule is called after any transition that may free or
	// consume an admission slot.
	Schedule func()
}

// Supervisor orchestrates chunk workers for every entry in a
// registry, using one shared HTTP client and Hooks to reach the rest
// of the engine.
type Supervisor struct {
	reg            *registry.Registry
	client         *protocol.HTTPClient
	downloadFolder string
	tempFolder     string
	numChunks      int
	hooks          Hooks

	activeMu sync.Mutex
	active   map[string]map[int]context.CancelFunc // entry id -> chunk id -> cancel
}

// New creates a Supervisor. numChunks is the default chunk count for
// newly planned downloads (NUM_CHUNKS).
func New(reg *registry.Registry, client *protocol.HTTPClient, downloadFolder, tempFolder string, numChunks int, hooks Hooks) *Supervisor {
	return &Supervisor{
		reg:            reg,
		client:         client,
		downloadFolder: downloadFolder,
		tempFolder:     tempFolder,
		numChunks:      numChunks,
		hooks:          hooks,
		active:         make(map[string]map[int]context.CancelFunc),
	}
}

// Plan probes rawURL, derives the entry's layout, computes its chunk
// plan, and registers it in the `queued` state. It never persists an
// entry for a URL the origin rejects.
func (s *Supervisor) Plan(ctx context.Context, rawURL string) (*registry.Entry, error) {
	meta, err := s.client.Head(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("probing metadata: %w", err)
	}

	if !meta.AcceptRanges {
		return nil, ErrUnsupportedRangedFetch
	}
	if meta.ContentLength <= 0 {
		return nil, ErrMetadataMissing
	}

	id := s.reg.NextID()
	filename := meta.Filename
	if filename == "" {
		filename = "download-" + id
	}

	entry := &registry.Entry{
		ID:        id,
		URL:       rawURL,
		Filename:  filename,
		FinalPath: filepath.Join(s.downloadFolder, filename),
		TempDir:   filepath.Join(s.tempFolder, "temp_"+id),
		TotalSize: meta.ContentLength,
		Status:    registry.StatusQueued,
		Chunks:    registry.PlanChunks(meta.ContentLength, s.numChunks),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := os.MkdirAll(entry.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	if err := s.reg.Register(entry); err != nil {
		return nil, err
	}

	s.persist()
	return entry, nil
}

// Start transitions entry from queued to downloading and spawns one
// Chunk Worker per chunk not already complete.
func (s *Supervisor) Start(entry *registry.Entry) {
	entry.WithLock(func(e *registry.Entry) {
		e.Status = registry.StatusDownloading
	})

	s.activeMu.Lock()
	s.active[entry.ID] = make(map[int]context.CancelFunc)
	s.activeMu.Unlock()

	for _, c := range entry.Snapshot().Chunks {
		if c.Status == registry.ChunkComplete {
			continue
		}
		go s.runChunk(entry, c.ID)
	}

	s.persist()
	if s.reg.Events() != nil {
		snap := entry.Snapshot()
		s.reg.Events().Publish(registry.Event{
			Type:  registry.EventDownloadStarted,
			At:    time.Now(),
			Entry: &snap,
		})
	}
}

// Resume reopens entry for downloading: it clears any error and sets
// entry back to queued. A paused or errored entry keeps its existing
// chunk state — runChunk's NextOffset/Start's complete-chunk skip
// already resume each chunk from its on-disk byte count, including a
// chunk that failed mid-stream. A complete entry has no part files
// left (Assemble removed TempDir), so it gets a fresh chunk plan and
// temp directory instead, as if replanned from scratch.
func (s *Supervisor) Resume(entry *registry.Entry) error {
	snap := entry.Snapshot()

	if snap.Status == registry.StatusComplete {
		tempDir := filepath.Join(s.tempFolder, "temp_"+snap.ID)
		if err := os.MkdirAll(tempDir, 0755); err != nil {
			return fmt.Errorf("recreating temp directory: %w", err)
		}
		entry.WithLock(func(e *registry.Entry) {
			e.Status = registry.StatusQueued
			e.Error = ""
			e.TempDir = tempDir
			e.Chunks = registry.PlanChunks(e.TotalSize, s.numChunks)
			e.DownloadedSize = 0
		})
	} else {
		entry.WithLock(func(e *registry.Entry) {
			e.Status = registry.StatusQueued
			e.Error = ""
		})
	}

	s.persist()
	return nil
}

// Pause cancels every active stream for entry, marks in-flight chunks
// paused, and transitions the entry to paused.
func (s *Supervisor) Pause(entry *registry.Entry) {
	s.cancelActive(entry.ID)

	entry.WithLock(func(e *registry.Entry) {
		e.Status = registry.StatusPaused
		for i := range e.Chunks {
			if e.Chunks[i].Status == registry.ChunkDownloading {
				e.Chunks[i].Status = registry.ChunkPaused
			}
			e.Chunks[i].CurrentSpeed = 0
		}
		e.RecalculateLocked()
	})

	s.persist()
	s.schedule()
}

// cancelActive destroys every registered stream for entryID and clears
// its active-stream map.
func (s *Supervisor) cancelActive(entryID string) {
	s.activeMu.Lock()
	streams := s.active[entryID]
	delete(s.active, entryID)
	s.activeMu.Unlock()

	for _, cancel := range streams {
		cancel()
	}
}

func (s *Supervisor) registerStream(entryID string, chunkID int, cancel context.CancelFunc) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	m, ok := s.active[entryID]
	if !ok {
		m = make(map[int]context.CancelFunc)
		s.active[entryID] = m
	}
	m[chunkID] = cancel
}

func (s *Supervisor) deregisterStream(entryID string, chunkID int) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if m, ok := s.active[entryID]; ok {
		delete(m, chunkID)
	}
}

// runChunk is the Chunk Worker: it downloads exactly the bytes
// [start+downloaded, end] for one chunk, appending to its part file.
func (s *Supervisor) runChunk(entry *registry.Entry, chunkID int) {
	if entry.Snapshot().Status != registry.StatusDownloading {
		return
	}

	c := entry.Snapshot().Chunks[chunkID]
	if c.NextOffset() > c.End {
		s.completeChunk(entry, chunkID)
		return
	}

	chunkCtx, cancel := context.WithCancel(context.Background())
	s.registerStream(entry.ID, chunkID, cancel)
	defer cancel()

	body, err := s.client.GetRange(chunkCtx, entry.URL, c.NextOffset(), c.End)
	if err != nil {
		s.deregisterStream(entry.ID, chunkID)
		if errors.Is(chunkCtx.Err(), context.Canceled) {
			// Paused before the request completed; Pause already set
			// the chunk and entry status.
			return
		}
		s.failChunk(entry, chunkID, fmt.Errorf("Chunk %d failed: %w", chunkID, err))
		return
	}
	defer body.Close()

	partPath := store.PartFilePath(entry.Snapshot().TempDir, chunkID)
	writer, err := storage.OpenFileWriterAppend(partPath)
	if err != nil {
		s.deregisterStream(entry.ID, chunkID)
		s.failChunk(entry, chunkID, fmt.Errorf("Chunk %d failed: opening part file: %w", chunkID, err))
		return
	}
	defer writer.Close()

	if streamErr := s.copyChunkBody(chunkCtx, entry, chunkID, body, writer); streamErr != nil {
		s.deregisterStream(entry.ID, chunkID)
		if errors.Is(streamErr, context.Canceled) {
			return
		}
		s.errorChunk(entry, chunkID)
		return
	}

	s.deregisterStream(entry.ID, chunkID)
	s.completeChunk(entry, chunkID)
}

// copyChunkBody streams body into writer, updating the chunk's
// downloaded count on every buffer and its speed at most twice a
// second.
func (s *Supervisor) copyChunkBody(ctx context.Context, entry *registry.Entry, chunkID int, body io.Reader, writer io.Writer) error {
	buf := make([]byte, readBufferSize)

	downloaded := entry.Snapshot().Chunks[chunkID].Downloaded
	lastTimestamp := time.Now()
	lastDownloaded := downloaded

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := writer.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			downloaded += int64(n)

			now := time.Now()
			var speed int64
			updateSpeed := now.Sub(lastTimestamp) > speedWindow
			if updateSpeed {
				speed = int64(float64(downloaded-lastDownloaded) / now.Sub(lastTimestamp).Seconds())
				lastTimestamp = now
				lastDownloaded = downloaded
			}

			entry.WithLock(func(e *registry.Entry) {
				e.Chunks[chunkID].Downloaded = downloaded
				e.Chunks[chunkID].Status = registry.ChunkDownloading
				if updateSpeed {
					e.Chunks[chunkID].CurrentSpeed = speed
				}
				e.RecalculateLocked()
			})
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return readErr
		}
	}
}

func (s *Supervisor) completeChunk(entry *registry.Entry, chunkID int) {
	entry.WithLock(func(e *registry.Entry) {
		e.Chunks[chunkID].Status = registry.ChunkComplete
		e.Chunks[chunkID].CurrentSpeed = 0
		e.RecalculateLocked()
	})

	if entry.AllChunksComplete() {
		s.checkIfComplete(entry)
	} else {
		s.persist()
	}
}

// failChunk handles a request-time (pre-body) failure: it marks the
// chunk and the whole entry as errored (a failed chunk is a failed
// download, per the no-retry policy) and wakes the scheduler.
func (s *Supervisor) failChunk(entry *registry.Entry, chunkID int, err error) {
	entry.WithLock(func(e *registry.Entry) {
		e.Chunks[chunkID].Status = registry.ChunkError
		e.Chunks[chunkID].CurrentSpeed = 0
		if e.Status != registry.StatusError {
			e.Status = registry.StatusError
			e.Error = err.Error()
		}
		e.RecalculateLocked()
	})

	s.persist()
	if s.reg.Events() != nil {
		s.reg.Events().Publish(registry.Event{
			Type: registry.EventDownloadError,
			At:   time.Now(),
			Error: &registry.ErrorPayload{
				ID:    entry.ID,
				Error: entry.Snapshot().Error,
			},
		})
	}
	s.schedule()
}

// errorChunk handles a mid-body stream failure: it marks the chunk
// errored; the entry surfaces as errored on this same call, matching
// "the Supervisor's next aggregation" (there is no separate tick here
// since the worker already knows the outcome immediately).
func (s *Supervisor) errorChunk(entry *registry.Entry, chunkID int) {
	s.failChunk(entry, chunkID, fmt.Errorf("Chunk %d failed: stream error", chunkID))
}

// checkIfComplete assembles the final file once every chunk is
// complete.
func (s *Supervisor) checkIfComplete(entry *registry.Entry) {
	entry.WithLock(func(e *registry.Entry) {
		e.Status = registry.StatusAssembling
	})
	s.persist()

	if err := assembler.Assemble(entry); err != nil {
		entry.WithLock(func(e *registry.Entry) {
			e.Status = registry.StatusError
			e.Error = "Failed to assemble file."
		})
		s.persist()
		if s.reg.Events() != nil {
			s.reg.Events().Publish(registry.Event{
				Type: registry.EventDownloadError,
				At:   time.Now(),
				Error: &registry.ErrorPayload{
					ID:    entry.ID,
					Error: entry.Snapshot().Error,
				},
			})
		}
		s.schedule()
		return
	}

	entry.WithLock(func(e *registry.Entry) {
		e.Status = registry.StatusComplete
	})
	s.persist()
	if s.reg.Events() != nil {
		s.reg.Events().Publish(registry.Event{
			Type: registry.EventDownloadComplete,
			At:   time.Now(),
			Complete: &registry.CompletePayload{
				ID:       entry.ID,
				FilePath: entry.Snapshot().FinalPath,
			},
		})
	}
	s.schedule()
}

func (s *Supervisor) persist() {
	if s.hooks.Persist != nil {
		s.hooks.Persist()
	}
}

func (s *Supervisor) schedule() {
	if s.hooks.Schedule != nil {
		s.hooks.Schedule()
	}
}
