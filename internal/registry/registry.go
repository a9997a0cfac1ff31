package registry

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Registry is the in-memory mapping from download id to entry. It is
// the single mutual-exclusion domain for the download map itself
// (insertion, lookup, registration order); mutation of an individual
// entry's fields is the owning Supervisor's responsibility via
// Entry.WithLock, per the single-writer discipline.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string // registration order, preserved across persistence

	nextID atomic.Int64
	hub    *EventHub
}

// New creates an empty Registry reporting events on hub. hub may be
// nil, in which case events are silently discarded.
func New(hub *EventHub) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		hub:     hub,
	}
}

// NextID returns a fresh monotonic string identifier, unique within
// this registry's lifetime.
func (r *Registry) NextID() string {
	return strconv.FormatInt(r.nextID.Add(1), 10)
}

// Register inserts a newly planned entry at the end of registration
// order. It is an error to register an id that already exists.
func (r *Registry) Register(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.ID]; exists {
		return fmt.Errorf("registry: entry %s already registered", e.ID)
	}

	r.entries[e.ID] = e
	r.order = append(r.order, e.ID)
	return nil
}

// RestoreOrdered rebuilds the registry from an ordered list of
// entries, as produced by the Persistent Store on load. Existing
// contents are replaced.
func (r *Registry) RestoreOrdered(entries []*Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*Entry, len(entries))
	r.order = make([]string, 0, len(entries))

	var maxID int64
	for _, e := range entries {
		r.entries[e.ID] = e
		r.order = append(r.order, e.ID)
		if n, err := strconv.ParseInt(e.ID, 10, 64); err == nil && n > maxID {
			maxID = n
		}
	}
	r.nextID.Store(maxID)
}

// Get returns the live entry for id, for a supervisor that needs to
// mutate it. Returns false if no such entry exists.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// OrderedIDs returns entry ids in registration order.
func (r *Registry) OrderedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Snapshot returns a consistent, deep-copied view of every entry in
// registration order — safe for persistence or broadcast without
// holding the registry lock across I/O.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.entries[id]; ok {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Snapshot()
	}
	return out
}

// CountByStatus returns how many entries currently hold the given
// status. Used by the Scheduler's admission bound check.
func (r *Registry) CountByStatus(status Status) int {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.entries[id]; ok {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	count := 0
	for _, e := range entries {
		s := e.Snapshot()
		if s.Status == status {
			count++
		}
	}
	return count
}

// QueuedInOrder returns the ids of entries currently `queued`, in
// registration order — the Scheduler's promotion candidates.
func (r *Registry) QueuedInOrder() []string {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	entries := make(map[string]*Entry, len(r.entries))
	for k, v := range r.entries {
		entries[k] = v
	}
	r.mu.RUnlock()

	var queued []string
	for _, id := range ids {
		if e, ok := entries[id]; ok && e.Snapshot().Status == StatusQueued {
			queued = append(queued, id)
		}
	}
	return queued
}

// Events returns the registry's event hub, or nil if none was
// configured.
func (r *Registry) Events() *EventHub {
	return r.hub
}

// BroadcastProgress emits a download-progress event for every entry
// currently downloading, plus a total-speed-update summing their
// current speed. Intended to be called once per broadcast tick.
func (r *Registry) BroadcastProgress() {
	if r.hub == nil {
		return
	}

	snapshot := r.Snapshot()

	var totalSpeed int64
	now := time.Now()
	for _, e := range snapshot {
		if e.Status != StatusDownloading {
			continue
		}
		totalSpeed += e.CurrentSpeed

		eta, hasETA := entryETA(e)
		r.hub.Publish(Event{
			Type: EventDownloadProgress,
			At:   now,
			Progress: &ProgressPayload{
				ID:         e.ID,
				Progress:   progressPercent(e),
				Downloaded: e.DownloadedSize,
				TotalSize:  e.TotalSize,
				Speed:      e.CurrentSpeed,
				ETA:        eta,
				HasETA:     hasETA,
				Filename:   e.Filename,
				Status:     e.Status,
				Error:      e.Error,
			},
		})
	}

	r.hub.Publish(Event{
		Type:       EventTotalSpeedUpdate,
		At:         now,
		TotalSpeed: totalSpeed,
	})
}

// BroadcastList emits a full registry snapshot, for a newly attached
// client.
func (r *Registry) BroadcastList() {
	if r.hub == nil {
		return
	}
	r.hub.Publish(Event{
		Type:    EventDownloadList,
		At:      time.Now(),
		Entries: r.Snapshot(),
	})
}

func progressPercent(e Entry) float64 {
	if e.TotalSize <= 0 {
		return 0
	}
	return float64(e.DownloadedSize) / float64(e.TotalSize) * 100
}

func entryETA(e Entry) (time.Duration, bool) {
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
