// Package engine wires the Persistent Store, Registry, Supervisor and
// Scheduler into the single owned object that exposes multifetch's
// command surface (start, pause, resume, pause-all, resume-all) and
// its event stream.
package engine

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/mkoru/multifetch/internal/config"
	"github.com/mkoru/multifetch/internal/protocol"
	"github.com/mkoru/multifetch/internal/registry"
	"github.com/mkoru/multifetch/internal/scheduler"
	"github.com/mkoru/multifetch/internal/store"
	"github.com/mkoru/multifetch/internal/supervisor"
)

// Engine is the top-level, singly-owned coordinator. One Engine runs
// per process; cmd/multifetch constructs exactly one and drives it
// from the CLI or TUI.
type Engine struct {
	cfg    *config.Config
	reg    *registry.Registry
	st     *store.Store
	sup    *supervisor.Supervisor
	sch    *scheduler.Scheduler
	client *protocol.HTTPClient

	persistMu sync.Mutex

	cancel context.CancelFunc
}

// New constructs an Engine from cfg, restoring any previously
// persisted registry and normalizing its state per the Persistent
// Store's recovery rules. A malformed store file is logged and the
// engine starts with an empty registry. It does not start any
// downloads; call ResumeAll (which runs an admission pass) once the
// caller is ready.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.EnsureFolders(); err != nil {
		return nil, fmt.Errorf("preparing folders: %w", err)
	}

	hub := registry.NewEventHub()
	reg := registry.New(hub)
	st := store.New(cfg.Download.DownloadFolder)

	entries, err := st.Load()
	if err != nil {
		log.Printf("engine: %v; starting with an empty registry", err)
		entries = nil
	}
	if entries != nil {
		reg.RestoreOrdered(entries)
	}

	opts := []protocol.HTTPClientOption{protocol.WithUserAgent(cfg.Download.UserAgent)}
	if cfg.Proxy.SOCKS5 != "" {
		opts = append(opts, protocol.WithSOCKS5Proxy(cfg.Proxy.SOCKS5, nil))
	} else if cfg.Proxy.HTTP != "" {
		opts = append(opts, protocol.WithProxy(cfg.Proxy.HTTP))
	}
	client := protocol.NewHTTPClient(opts...)

	e := &Engine{cfg: cfg, reg: reg, client: client}

	e.sup = supervisor.New(reg, client, cfg.Download.DownloadFolder, cfg.ResolvedTempFolder(), cfg.Download.NumChunks, supervisor.Hooks{
		Persist:  e.persist,
		Schedule: e.tick,
	})
	e.sch = scheduler.New(reg, cfg.Download.MaxConcurrentDownloads, e.sup.Start)
	e.st = st

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.broadcastLoop(ctx)

	return e, nil
}

// Registry exposes the underlying registry for read-only consumers
// (TUI, CLI listing) that need Snapshot/Events access.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// StartDownload plans a new download for rawURL and hands it to the
// Scheduler for admission.
func (e *Engine) StartDownload(ctx context.Context, rawURL string) (*registry.Entry, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("engine: invalid URL %q: %w", rawURL, err)
	}
	if !e.client.Supports(parsed) {
		return nil, fmt.Errorf("engine: unsupported URL scheme %q", parsed.Scheme)
	}

	entry, err := e.sup.Plan(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	e.tick()
	return entry, nil
}

// PauseDownload transitions one downloading entry to paused. For an
// entry in any other status (queued included) it does nothing.
func (e *Engine) PauseDownload(id string) error {
	entry, ok := e.reg.Get(id)
	if !ok {
		return fmt.Errorf("engine: no such download %q", id)
	}
	if entry.Snapshot().Status != registry.StatusDownloading {
		return nil
	}
	e.sup.Pause(entry)
	return nil
}

// ResumeDownload returns entry to queued and clears any error,
// letting the Scheduler pick it up on the next tick. Valid from
// paused, error, or complete — the terminal states the data model
// allows an explicit resume to reopen; any other status is a no-op.
func (e *Engine) ResumeDownload(id string) error {
	entry, ok := e.reg.Get(id)
	if !ok {
		return fmt.Errorf("engine: no such download %q", id)
	}
	switch entry.Snapshot().Status {
	case registry.StatusPaused, registry.StatusError, registry.StatusComplete:
	default:
		return nil
	}
	if err := e.sup.Resume(entry); err != nil {
		return err
	}
	e.tick()
	return nil
}

// PauseAll pauses every entry currently downloading or queued.
func (e *Engine) PauseAll() {
	for _, id := range e.reg.OrderedIDs() {
		entry, ok := e.reg.Get(id)
		if !ok {
			continue
		}
		switch entry.Snapshot().Status {
		case registry.StatusDownloading, registry.StatusQueued:
			e.sup.Pause(entry)
		}
	}
}

// ResumeAll requeues every paused entry and lets the Scheduler admit
// as many as its concurrency bound allows.
func (e *Engine) ResumeAll() {
	for _, id := range e.reg.OrderedIDs() {
		entry, ok := e.reg.Get(id)
		if !ok || entry.Snapshot().Status != registry.StatusPaused {
			continue
		}
		e.sup.Resume(entry)
	}
	e.tick()
}

// persist writes the full registry snapshot to the Persistent Store.
// It is the Supervisor's Hooks.Persist callback, invoked after every
// state transition per §4.1.
func (e *Engine) persist() {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	_ = e.st.Save(e.reg.Snapshot())
}

// tick re-runs admission and broadcasts the current state. It is the
// Supervisor's Hooks.Schedule callback.
func (e *Engine) tick() {
	e.sch.Tick()
	e.reg.BroadcastList()
}

// broadcastLoop periodically emits download-progress and
// total-speed-update events for every active download, grounded on
// the teacher's progressReporter ticker goroutine. Runs until Stop is
// called.
func (e *Engine) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reg.BroadcastProgress()
		}
	}
}

// Stop ends the Engine's background broadcast loop. Call once during
// process shutdown.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}
