// Package display renders the live terminal dashboard: a rolling status
// log, run statistics, and the most recent ticket activity. It is a plain
// bus subscriber; the monitor never waits on the terminal.
package display

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"twicket-botv1/internal/events"
	"twicket-botv1/internal/ledger"
	"twicket-botv1/internal/model"
)

const (
	statusLines   = 10
	activityLines = 8
	repaintEvery  = 500 * time.Millisecond
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63"))

	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	urlStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Underline(true)
)

// Stats is the header block of the dashboard.
type Stats struct {
	EventID   string
	MinSeats  int
	MaxSeats  int
	MaxPrice  *int64 // pence; nil means no cap
	StartedAt time.Time
}

type statusLine struct {
	ts    time.Time
	level events.Level
	text  string
}

// Display owns the terminal. It repaints on a fixed cadence rather than on
// every event, so a busy cycle cannot flood the terminal with redraws.
type Display struct {
	out    io.Writer
	ledger *ledger.Ledger
	stats  Stats

	mu        sync.Mutex
	log       []statusLine
	openedURL map[string]string // ticket key -> purchase URL
	processed int
	cycles    int
	lastErr   string
}

// New creates a Display writing to out. The ledger is read-only here,
// consulted at repaint time for the activity panel.
func New(out io.Writer, led *ledger.Ledger, stats Stats) *Display {
	return &Display{out: out, ledger: led, stats: stats, openedURL: make(map[string]string)}
}

// Run consumes events and repaints until ctx is cancelled or the channel
// closes. One final frame is drawn on the way out so the terminal shows
// the end state.
func (d *Display) Run(ctx context.Context, eventCh <-chan events.Event) {
	ticker := time.NewTicker(repaintEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.render()
			return
		case ev, ok := <-eventCh:
			if !ok {
				d.render()
				return
			}
			d.consume(ev)
		case <-ticker.C:
			d.render()
		}
	}
}

func (d *Display) consume(ev events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Kind {
	case events.KindStatus:
		d.log = append(d.log, statusLine{ts: ev.TS, level: ev.Level, text: ev.Message})
		if len(d.log) > statusLines {
			d.log = d.log[len(d.log)-statusLines:]
		}
	case events.KindTicket:
		d.processed++
		if ev.URL != "" && ev.Entry != nil {
			d.openedURL[ev.Entry.Identity.Key()] = ev.URL
		}
	case events.KindCycle:
		d.cycles++
		d.lastErr = ev.CycleErr
	}
}

// render paints one full frame: clear, then the three panels.
func (d *Display) render() {
	d.mu.Lock()
	logCopy := make([]statusLine, len(d.log))
	copy(logCopy, d.log)
	processed, cycles, lastErr := d.processed, d.cycles, d.lastErr
	d.mu.Unlock()

	frame := lipgloss.JoinVertical(lipgloss.Left,
		d.statusPanel(logCopy),
		d.statsPanel(processed, cycles, lastErr),
		d.activityPanel(),
	)

	fmt.Fprint(d.out, "\x1b[2J\x1b[H"+frame+"\n")
}

func (d *Display) statusPanel(lines []statusLine) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Status Log"))
	b.WriteByte('\n')
	if len(lines) == 0 {
		b.WriteString(dimStyle.Render("waiting for first cycle..."))
	}
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(dimStyle.Render(l.ts.Format("15:04:05")))
		b.WriteByte(' ')
		b.WriteString(levelStyle(l.level).Render(l.text))
	}
	return panelStyle.Render(b.String())
}

func (d *Display) statsPanel(processed, cycles int, lastErr string) string {
	price := "no cap"
	if d.stats.MaxPrice != nil {
		price = fmt.Sprintf("£%.2f", float64(*d.stats.MaxPrice)/100)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Statistics"))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Event: %s   Seats: %d-%d   Max price: %s\n",
		d.stats.EventID, d.stats.MinSeats, d.stats.MaxSeats-1, price)
	fmt.Fprintf(&b, "Runtime: %s   Cycles: %d   Processed: %d   Opened: %d",
		time.Since(d.stats.StartedAt).Round(time.Second), cycles, processed, d.ledger.Opened())
	if lastErr != "" {
		b.WriteByte('\n')
		b.WriteString(errorStyle.Render("Last cycle error: " + lastErr))
	}
	return panelStyle.Render(b.String())
}

func (d *Display) activityPanel() string {
	entries := d.ledger.Snapshot()
	if len(entries) > activityLines {
		entries = entries[:activityLines]
	}

	d.mu.Lock()
	urls := make(map[string]string, len(d.openedURL))
	for k, v := range d.openedURL {
		urls[k] = v
	}
	d.mu.Unlock()

	var b strings.Builder
	b.WriteString(titleStyle.Render("Recent Activity"))
	b.WriteByte('\n')
	if len(entries) == 0 {
		b.WriteString(dimStyle.Render("no tickets seen yet"))
	}
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  %s Row %s x%d  £%.2f  %s",
			dimStyle.Render(e.LastSeen.Format("15:04:05")),
			e.Identity.Section, e.Identity.Row, e.Identity.Seats, e.Pounds(),
			outcomeStyle(e.Outcome).Render(string(e.Outcome)))
		if url := urls[e.Identity.Key()]; url != "" {
			b.WriteString("  " + urlStyle.Render(url))
		}
	}
	return panelStyle.Render(b.String())
}

func levelStyle(l events.Level) lipgloss.Style {
	switch l {
	case events.LevelSuccess:
		return successStyle
	case events.LevelWarn:
		return warnStyle
	case events.LevelError:
		return errorStyle
	default:
		return infoStyle
	}
}

func outcomeStyle(o model.Outcome) lipgloss.Style {
	switch o {
	case model.OutcomeOpened:
		return successStyle
	case model.OutcomeFailedToOpen:
		return errorStyle
	case model.OutcomeChecking:
		return infoStyle
	default:
		return warnStyle
	}
}
