// Package notify surfaces monitoring and ranging events to a human while the
// debug flag is set.
package notify

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/srg/beaconmon/internal/beacon"
)

// Notifier receives debug copies of monitor events
type Notifier interface {
	NotifyMonitoring(e beacon.MonitoringEvent)
	NotifyRanging(r beacon.RangingResult)
}

// Nop discards notifications
type Nop struct{}

func (Nop) NotifyMonitoring(beacon.MonitoringEvent) {}
func (Nop) NotifyRanging(beacon.RangingResult)      {}

// Terminal prints one colored line per event
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time

	enter   *color.Color
	exit    *color.Color
	state   *color.Color
	ranging *color.Color
}

// NewTerminal writes to out; colorize is usually whether out is a TTY
func NewTerminal(out io.Writer, colorize bool) *Terminal {
	t := &Terminal{
		out:     out,
		now:     time.Now,
		enter:   color.New(color.FgGreen, color.Bold),
		exit:    color.New(color.FgRed, color.Bold),
		state:   color.New(color.FgYellow),
		ranging: color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{t.enter, t.exit, t.state, t.ranging} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return t
}

func (t *Terminal) NotifyMonitoring(e beacon.MonitoringEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stamp := t.now().Format(time.TimeOnly)
	switch e.Kind {
	case beacon.EventEnter:
		t.enter.Fprintf(t.out, "%s ENTER  %s\n", stamp, e.Region.Identifier)
	case beacon.EventExit:
		t.exit.Fprintf(t.out, "%s EXIT   %s\n", stamp, e.Region.Identifier)
	default:
		t.state.Fprintf(t.out, "%s STATE  %s %s\n", stamp, e.Region.Identifier, e.State)
	}
}

func (t *Terminal) NotifyRanging(r beacon.RangingResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parts := make([]string, 0, len(r.Beacons))
	for _, b := range r.Beacons {
		parts = append(parts, fmt.Sprintf("%s@%.2fm", strings.Join(b.IDs, "/"), b.Distance))
	}
	t.ranging.Fprintf(t.out, "%s RANGE  %s [%s]\n", t.now().Format(time.TimeOnly), r.Region.Identifier, strings.Join(parts, " "))
}
