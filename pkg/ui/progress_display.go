package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"

	"civitscraper/pkg/progress"
)

const progressTemplate = `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{string . "stats"}}`

// DefaultRefresh is how often the bar is redrawn from the tracker.
const DefaultRefresh = 200 * time.Millisecond

// ProgressDisplay renders a live progress bar for one run. The total grows
// as pages arrive, so the bar only ever shows what has been listed so far.
type ProgressDisplay struct {
	mu       sync.Mutex
	out      io.Writer
	refresh  time.Duration
	username string
	tracker  *progress.Tracker
	bar      *pb.ProgressBar
	stop     chan struct{}
	done     chan struct{}
}

// NewProgressDisplay creates a display writing to out, or to the ui output
// when out is nil.
func NewProgressDisplay(out io.Writer) *ProgressDisplay {
	if out == nil {
		out = Output()
	}
	return &ProgressDisplay{
		out:     out,
		refresh: DefaultRefresh,
	}
}

// SetRefresh changes the redraw interval. Call before Start.
func (p *ProgressDisplay) SetRefresh(d time.Duration) {
	if d > 0 {
		p.refresh = d
	}
}

// Start begins polling tracker. It does nothing in quiet mode.
func (p *ProgressDisplay) Start(username string, tracker *progress.Tracker) {
	if IsQuietMode() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		return
	}

	p.username = username
	p.tracker = tracker
	p.bar = pb.ProgressBarTemplate(progressTemplate).New(0)
	p.bar.SetWriter(p.out)
	p.bar.SetWidth(100)
	p.bar.Set(pb.Static, true)
	p.bar.Set("prefix", Cyan(username)+" ")
	p.bar.Start()

	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop()
}

// Finish draws the final counters and stops the bar.
func (p *ProgressDisplay) Finish(final progress.Snapshot) {
	p.mu.Lock()
	if p.bar == nil {
		p.mu.Unlock()
		return
	}
	close(p.stop)
	p.mu.Unlock()
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	p.render(final)
	p.bar.Write()
	p.bar.Finish()
	fmt.Fprintln(p.out)
	p.bar = nil
}

func (p *ProgressDisplay) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			p.render(p.tracker.Snapshot())
			p.bar.Write()
			p.mu.Unlock()
		}
	}
}

// render copies snap into the bar. Caller holds p.mu.
func (p *ProgressDisplay) render(snap progress.Snapshot) {
	p.bar.SetTotal(int64(snap.Seen))
	p.bar.SetCurrent(int64(snap.Completed()))
	p.bar.Set("stats", statsLine(snap))
}

// statsLine is the text shown after the bar
func statsLine(snap progress.Snapshot) string {
	parts := []string{
		fmt.Sprintf("%d new", snap.Downloaded),
		fmt.Sprintf("%d skipped", snap.Skipped),
	}
	if snap.Failed > 0 {
		parts = append(parts, Red(fmt.Sprintf("%d failed", snap.Failed)))
	}
	parts = append(parts,
		formatBytes(snap.Bytes),
		fmt.Sprintf("%.1f/min", snap.Rate()),
		fmt.Sprintf("page %d", snap.Pages),
	)
	return strings.Join(parts, " • ")
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// formatBytes formats bytes in a human-readable way
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
