// Package capability answers whether beacon monitoring can run on this host:
// Bluetooth power, location availability and the granted permission tier.
//
// Reads are synchronous and side-effect free. Requests that involve a user or
// the OS (permission prompts, settings) block until resolved exactly once.
package capability

import (
	"context"
	"sync"

	"github.com/srg/beaconmon/internal/beacon"
)

// Probe is the capability surface the monitor gates on
type Probe interface {
	BluetoothEnabled() bool
	LocationEnabled() bool
	Permission() beacon.Tier

	// RequestPermission asks for location permission and reports whether it was granted.
	RequestPermission(ctx context.Context) (bool, error)
	// OpenBluetoothSettings asks to enable Bluetooth and reports the resulting state.
	OpenBluetoothSettings(ctx context.Context) (bool, error)
	OpenLocationSettings(ctx context.Context) error
}

// Watcher is implemented by probes that can report enablement changes
type Watcher interface {
	Watch(fn func()) (stop func())
}

// listeners is a small registry of change callbacks
type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func (l *listeners) add(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[int]func())
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners) notify() {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
