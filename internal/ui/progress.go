// Package ui provides terminal user interface components for the
// non-interactive (non-TUI) client: one scrolling progress bar per
// entry, rendered from registry snapshots.
package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mkoru/multifetch/internal/registry"
)

// ProgressBar displays download progress in the terminal.
type ProgressBar struct {
	output     io.Writer
	width      int
	showChunks bool
	noColor    bool
	lastLines  int
}

// ProgressBarOption configures a ProgressBar.
type ProgressBarOption func(*ProgressBar)

// WithOutput sets the output writer.
func WithOutput(w io.Writer) ProgressBarOption {
	return func(p *ProgressBar) {
		p.output = w
	}
}

// WithWidth sets the progress bar width.
func WithWidth(width int) ProgressBarOption {
	return func(p *ProgressBar) {
		p.width = width
	}
}

// WithChunks enables chunk progress display.
func WithChunks(show bool) ProgressBarOption {
	return func(p *ProgressBar) {
		p.showChunks = show
	}
}

// WithNoColor disables colored output.
func WithNoColor(noColor bool) ProgressBarOption {
	return func(p *ProgressBar) {
		p.noColor = noColor
	}
}

// NewProgressBar creates a new ProgressBar.
func NewProgressBar(opts ...ProgressBarOption) *ProgressBar {
	p := &ProgressBar{
		width:      40,
		showChunks: false,
		noColor:    false,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	clearLine   = "\033[2K"
	moveUp      = "\033[%dA"
)

// Render renders one entry's progress to w, overwriting the lines it
// last drew.
func (p *ProgressBar) Render(w io.Writer, entry registry.Entry) {
	var sb strings.Builder
	p.clear(&sb)

	lines := 0

	sb.WriteString(p.color(colorBold, entry.Filename) + "\n")
	lines++

	percent := 0.0
	if entry.TotalSize > 0 {
		percent = float64(entry.DownloadedSize) / float64(entry.TotalSize) * 100
	}
	bar := p.renderBar(percent, p.width)
	sizeStr := p.formatSize(entry.DownloadedSize, entry.TotalSize)
	sb.WriteString(fmt.Sprintf("  %s %s\n", bar, sizeStr))
	lines++

	speedStr := p.formatSpeed(entry.CurrentSpeed)
	etaStr := "--:--"
	if eta, ok := entry.ETA(); ok {
		etaStr = p.formatDuration(eta)
	}

	sb.WriteString(fmt.Sprintf("  Speed: %s  |  ETA: %s  |  Status: %s\n",
		p.color(colorCyan, speedStr),
		p.color(colorYellow, etaStr),
		entry.Status))
	lines++

	if p.showChunks && len(entry.Chunks) > 1 {
		sb.WriteString("\n")
		lines++
		for _, c := range entry.Chunks {
			chunkPercent := 0.0
			if c.Size() > 0 {
				chunkPercent = float64(c.Downloaded) / float64(c.Size()) * 100
			}
			chunkBar := p.renderMiniBar(chunkPercent, 20)
			statusIcon := p.chunkStatusIcon(c.Status)
			sb.WriteString(fmt.Sprintf("  [Chunk %d: %s %s]\n", c.ID, chunkBar, statusIcon))
			lines++
		}
	}

	p.lastLines = lines
	fmt.Fprint(w, sb.String())
}

// RenderComplete renders the completion message for entry.
func (p *ProgressBar) RenderComplete(w io.Writer, entry registry.Entry, elapsed time.Duration) {
	p.clearTo(w)

	checkmark := p.color(colorGreen, "✓")
	sizeStr := humanize.IBytes(uint64(entry.TotalSize))

	fmt.Fprintf(w, "%s %s %s (%s in %s)\n",
		checkmark,
		p.color(colorBold, entry.Filename),
		p.color(colorGreen, "completed"),
		sizeStr,
		p.formatDuration(elapsed))

	p.lastLines = 0
}

// RenderError renders an error message for entry.
func (p *ProgressBar) RenderError(w io.Writer, entry registry.Entry) {
	p.clearTo(w)

	cross := p.color(colorYellow, "✗")
	fmt.Fprintf(w, "%s %s %s: %s\n",
		cross,
		p.color(colorBold, entry.Filename),
		p.color(colorYellow, "failed"),
		entry.Error)

	p.lastLines = 0
}

func (p *ProgressBar) clear(sb *strings.Builder) {
	if p.lastLines == 0 {
		return
	}
	for i := 0; i < p.lastLines; i++ {
		sb.WriteString(fmt.Sprintf(moveUp, 1) + clearLine + "\r")
	}
}

func (p *ProgressBar) clearTo(w io.Writer) {
	if p.lastLines == 0 {
		return
	}
	for i := 0; i < p.lastLines; i++ {
		fmt.Fprintf(w, moveUp, 1)
		fmt.Fprint(w, clearLine+"\r")
	}
}

func (p *ProgressBar) renderBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(float64(width) * percent / 100)
	empty := width - filled

	bar := strings.Repeat("━", filled) + strings.Repeat("─", empty)
	percentStr := fmt.Sprintf("%5.1f%%", percent)

	return p.color(colorGreen, bar) + " " + percentStr
}

func (p *ProgressBar) renderMiniBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(float64(width) * percent / 100)
	empty := width - filled

	return p.color(colorGreen, strings.Repeat("█", filled)) +
		strings.Repeat("░", empty)
}

func (p *ProgressBar) chunkStatusIcon(status registry.ChunkStatus) string {
	switch status {
	case registry.ChunkComplete:
		return p.color(colorGreen, "✓")
	case registry.ChunkDownloading:
		return p.color(colorCyan, "↓")
	case registry.ChunkError:
		return p.color(colorYellow, "✗")
	case registry.ChunkPaused:
		return "❚❚"
	default:
		return "○"
	}
}

func (p *ProgressBar) formatSize(downloaded, total int64) string {
	if total <= 0 {
		return humanize.IBytes(uint64(downloaded))
	}
	return fmt.Sprintf("%s/%s", humanize.IBytes(uint64(downloaded)), humanize.IBytes(uint64(total)))
}

func (p *ProgressBar) formatSpeed(bytesPerSec int64) string {
	if bytesPerSec <= 0 {
		return "-- B/s"
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}

func (p *ProgressBar) formatDuration(d time.Duration) string {
	if d <= 0 {
		return "00:00"
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func (p *ProgressBar) color(code, text string) string {
	if p.noColor {
		return text
	}
	return code + text + colorReset
}

// MinimalProgress renders a single-line progress output for entry.
func MinimalProgress(w io.Writer, entry registry.Entry) {
	width := 25
	bar := ""
	percent := 0.0
	if entry.TotalSize > 0 {
		percent = float64(entry.DownloadedSize) / float64(entry.TotalSize) * 100
		filled := int(float64(width) * percent / 100)
		bar = "[" + strings.Repeat("=", filled) + ">" + strings.Repeat(" ", width-filled-1) + "]"
	}

	eta, ok := entry.ETA()
	etaStr := "--"
	if ok {
		etaStr = eta.Round(time.Second).String()
	}

	fmt.Fprintf(w, "\r%s: %.1f%% %s %s %s eta %s",
		entry.Filename,
		percent,
		bar,
		humanize.IBytes(uint64(entry.DownloadedSize))+"/"+humanize.IBytes(uint64(entry.TotalSize)),
		humanize.IBytes(uint64(entry.CurrentSpeed))+"/s",
		etaStr)
}

// JSONProgress is the line-oriented machine-readable progress record,
// one per entry per tick, for scripted consumers.
type JSONProgress struct {
	ID         string  `json:"id"`
	Filename   string  `json:"filename"`
	Percent    float64 `json:"percent"`
	Downloaded int64   `json:"downloaded"`
	Total      int64   `json:"total"`
	Speed      int64   `json:"speed"`
	ETASeconds int     `json:"etaSeconds"`
}

// RenderJSON outputs entry's progress as one JSON line.
func RenderJSON(w io.Writer, entry registry.Entry) {
	percent := 0.0
	if entry.TotalSize > 0 {
		percent = float64(entry.DownloadedSize) / float64(entry.TotalSize) * 100
	}
	etaSeconds := 0
	if eta, ok := entry.ETA(); ok {
		etaSeconds = int(eta.Seconds())
	}

	fmt.Fprintf(w, `{"id":%q,"filename":%q,"percent":%.1f,"downloaded":%d,"total":%d,"speed":%d,"etaSeconds":%d}`+"\n",
		entry.ID,
		entry.Filename,
		percent,
		entry.DownloadedSize,
		entry.TotalSize,
		entry.CurrentSpeed,
		etaSeconds)
}
