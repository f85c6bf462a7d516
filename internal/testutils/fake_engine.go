package testutils

import (
	"sync"

	"github.com/srg/beaconmon/internal/beacon"
	"github.com/srg/beaconmon/internal/engine"
)

// FakeEngine records engine calls and lets tests fire callbacks through the
// handler of the current (or an earlier) bind.
type FakeEngine struct {
	mu       sync.Mutex
	calls    []string
	handlers []engine.Handler
	options  []engine.Options
	profile  engine.ScanProfile
	running  bool

	// StartErr, when set, is returned by Start
	StartErr error
}

var _ engine.Engine = (*FakeEngine)(nil)

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{}
}

func (f *FakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *FakeEngine) Start(opts engine.Options, h engine.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start")
	if f.StartErr != nil {
		return f.StartErr
	}
	f.handlers = append(f.handlers, h)
	f.options = append(f.options, opts)
	f.profile = opts.Profile()
	f.running = true
	return nil
}

func (f *FakeEngine) SetScanProfile(p engine.ScanProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Background {
		f.calls = append(f.calls, "profile:background")
	} else {
		f.calls = append(f.calls, "profile:foreground")
	}
	f.profile = p
	return nil
}

func (f *FakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop")
	f.running = false
	return nil
}

func (f *FakeEngine) StartMonitoring(r beacon.Region) error {
	f.record("startMonitoring:" + r.Identifier)
	return nil
}

func (f *FakeEngine) StopMonitoring(r beacon.Region) error {
	f.record("stopMonitoring:" + r.Identifier)
	return nil
}

func (f *FakeEngine) StartRanging(r beacon.Region) error {
	f.record("startRanging:" + r.Identifier)
	return nil
}

func (f *FakeEngine) StopRanging(r beacon.Region) error {
	f.record("stopRanging:" + r.Identifier)
	return nil
}

// Calls returns the recorded calls in order
func (f *FakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ResetCalls forgets recorded calls
func (f *FakeEngine) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Running reports whether the engine is between Start and Stop
func (f *FakeEngine) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Starts returns how many times Start succeeded
func (f *FakeEngine) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// Options returns the options of the most recent successful Start
func (f *FakeEngine) Options() engine.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.options) == 0 {
		return engine.Options{}
	}
	return f.options[len(f.options)-1]
}

// Profile returns the scan profile in effect: the last SetScanProfile, or
// the profile of the most recent Start
func (f *FakeEngine) Profile() engine.ScanProfile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile
}

// Handler returns the handler of the n-th successful Start (0-based); -1 is the latest
func (f *FakeEngine) Handler(n int) engine.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 {
		n = len(f.handlers) - 1
	}
	if n < 0 || n >= len(f.handlers) {
		return nil
	}
	return f.handlers[n]
}

// Enter fires DidEnterRegion through the latest handler
func (f *FakeEngine) Enter(r beacon.Region) {
	if h := f.Handler(-1); h != nil {
		h.DidEnterRegion(r)
	}
}

// Exit fires DidExitRegion through the latest handler
func (f *FakeEngine) Exit(r beacon.Region) {
	if h := f.Handler(-1); h != nil {
		h.DidExitRegion(r)
	}
}

// Determine fires DidDetermineState through the latest handler
func (f *FakeEngine) Determine(r beacon.Region, s beacon.RegionState) {
	if h := f.Handler(-1); h != nil {
		h.DidDetermineState(r, s)
	}
}

// Range fires DidRangeBeacons through the latest handler
func (f *FakeEngine) Range(r beacon.Region, beacons ...beacon.Beacon) {
	if h := f.Handler(-1); h != nil {
		h.DidRangeBeacons(r, beacons)
	}
}
