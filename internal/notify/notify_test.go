package notify

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/srg/beaconmon/internal/beacon"
)

func TestTerminal_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	n := NewTerminal(&buf, false)
	n.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }
	lobby := beacon.Region{Identifier: "lobby"}

	n.NotifyMonitoring(beacon.Enter(lobby))
	n.NotifyMonitoring(beacon.DetermineState(lobby, beacon.StateInside))
	n.NotifyMonitoring(beacon.Exit(lobby))
	n.NotifyRanging(beacon.RangingResult{Region: lobby, Beacons: []beacon.Beacon{
		{IDs: []string{"f7826da6-4fa2-4e98-8024-bc5b71e0893e", "10", "7"}, Distance: 1.5},
	}})

	assert.Equal(t, "09:30:00 ENTER  lobby\n"+
		"09:30:00 STATE  lobby inside\n"+
		"09:30:00 EXIT   lobby\n"+
		"09:30:00 RANGE  lobby [f7826da6-4fa2-4e98-8024-bc5b71e0893e/10/7@1.50m]\n", buf.String())
}

func TestTerminal_ColoredOutput(t *testing.T) {
	var buf bytes.Buffer
	n := NewTerminal(&buf, true)

	n.NotifyMonitoring(beacon.Enter(beacon.Region{Identifier: "lobby"}))

	assert.Contains(t, buf.String(), "\x1b[")
	assert.Contains(t, buf.String(), "ENTER  lobby")
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	n.NotifyMonitoring(beacon.Enter(beacon.Region{Identifier: "x"}))
	n.NotifyRanging(beacon.RangingResult{})
}
