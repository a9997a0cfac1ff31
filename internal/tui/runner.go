package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mkoru/multifetch/internal/engine"
	"github.com/mkoru/multifetch/internal/registry"
)

// Runner attaches a Bubbletea program to an Engine's event hub,
// translating registry events into tea messages and key presses into
// engine commands.
type Runner struct {
	eng     *engine.Engine
	model   *Model
	program *tea.Program

	ctx    context.Context
	cancel context.CancelFunc

	detach func()
}

// NewRunner creates a Runner bound to eng.
func NewRunner(eng *engine.Engine) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	model := NewModel()
	r := &Runner{eng: eng, model: &model, ctx: ctx, cancel: cancel}
	model.SetCallbacks(r.onPauseResume, r.onQuit)

	return r
}

// Run starts the TUI and blocks until the user quits. It subscribes
// to the engine's event hub for the duration of the run.
func (r *Runner) Run() error {
	events, detach := r.eng.Registry().Events().Subscribe(64)
	r.detach = detach
	defer detach()

	r.program = tea.NewProgram(r.model, tea.WithAltScreen())

	go r.forwardEvents(events)

	r.eng.Registry().BroadcastList()

	_, err := r.program.Run()
	return err
}

// forwardEvents drains the registry's event stream into tea messages
// until the program quits or the context is cancelled.
func (r *Runner) forwardEvents(events <-chan registry.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.dispatch(ev)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Runner) dispatch(ev registry.Event) {
	if r.program == nil {
		return
	}
	switch ev.Type {
	case registry.EventDownloadList:
		r.program.Send(ListMsg{Entries: ev.Entries})
	case registry.EventDownloadProgress:
		if ev.Progress != nil {
			r.program.Send(ProgressMsg{Payload: *ev.Progress})
		}
	case registry.EventTotalSpeedUpdate:
		r.program.Send(TotalSpeedMsg{Speed: ev.TotalSpeed})
	case registry.EventDownloadComplete, registry.EventDownloadError:
		// The next EventDownloadList broadcast (triggered by the same
		// Supervisor transition) carries the terminal status; no
		// separate message is needed here.
	}
}

// Stop ends the TUI and detaches from the event hub.
func (r *Runner) Stop() {
	if r.program != nil {
		r.program.Quit()
	}
	r.cancel()
}

func (r *Runner) onPauseResume(id string, status registry.Status) {
	switch status {
	case registry.StatusDownloading:
		r.eng.PauseDownload(id)
	case registry.StatusPaused:
		r.eng.ResumeDownload(id)
	}
}

func (r *Runner) onQuit() {
	r.cancel()
}
