package capability

import (
	"context"
	"sync/atomic"

	"github.com/srg/beaconmon/internal/beacon"
)

// Guard admits at most one in-flight prompt per kind. A concurrent second
// request fails with beacon.ErrAlreadyPending instead of displacing the first.
type Guard struct {
	Probe

	permissionPending atomic.Bool
	bluetoothPending  atomic.Bool
}

// NewGuard wraps probe with single-pending prompt semantics
func NewGuard(probe Probe) *Guard {
	return &Guard{Probe: probe}
}

func (g *Guard) RequestPermission(ctx context.Context) (bool, error) {
	if !g.permissionPending.CompareAndSwap(false, true) {
		return false, beacon.Errorf(beacon.CodeAlreadyPending, "location permission request already in progress")
	}
	defer g.permissionPending.Store(false)

	return g.Probe.RequestPermission(ctx)
}

func (g *Guard) OpenBluetoothSettings(ctx context.Context) (bool, error) {
	if !g.bluetoothPending.CompareAndSwap(false, true) {
		return false, beacon.Errorf(beacon.CodeAlreadyPending, "bluetooth settings request already in progress")
	}
	defer g.bluetoothPending.Store(false)

	return g.Probe.OpenBluetoothSettings(ctx)
}

// Watch forwards to the wrapped probe when it reports changes
func (g *Guard) Watch(fn func()) func() {
	if w, ok := g.Probe.(Watcher); ok {
		return w.Watch(fn)
	}
	return func() {}
}
