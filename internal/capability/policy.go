package capability

import (
	"context"
	"sync"

	"github.com/srg/beaconmon/internal/beacon"
)

// PromptFunc resolves a permission prompt with the tier the user granted
type PromptFunc func(ctx context.Context) (beacon.Tier, error)

// PolicyOptions seeds a PolicyProbe
type PolicyOptions struct {
	Bluetooth bool
	Location  bool
	Tier      beacon.Tier
	// GrantOnRequest is the tier RequestPermission grants when no Prompt is set.
	GrantOnRequest beacon.Tier
	Prompt         PromptFunc
}

// PolicyProbe is a configuration-driven probe for hosts without OS-level
// location services. Its state can be changed at runtime; every change fires
// the registered watchers.
type PolicyProbe struct {
	mu        sync.RWMutex
	bluetooth bool
	location  bool
	tier      beacon.Tier
	grant     beacon.Tier
	prompt    PromptFunc

	watchers listeners
}

// NewPolicyProbe creates a probe with the given initial state
func NewPolicyProbe(opts PolicyOptions) *PolicyProbe {
	return &PolicyProbe{
		bluetooth: opts.Bluetooth,
		location:  opts.Location,
		tier:      opts.Tier,
		grant:     opts.GrantOnRequest,
		prompt:    opts.Prompt,
	}
}

func (p *PolicyProbe) BluetoothEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bluetooth
}

func (p *PolicyProbe) LocationEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.location
}

func (p *PolicyProbe) Permission() beacon.Tier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tier
}

// RequestPermission upgrades the granted tier and reports whether any
// location access is now granted.
func (p *PolicyProbe) RequestPermission(ctx context.Context) (bool, error) {
	p.mu.RLock()
	prompt, grant := p.prompt, p.grant
	p.mu.RUnlock()

	if prompt != nil {
		var err error
		if grant, err = prompt(ctx); err != nil {
			return false, err
		}
	}

	p.mu.Lock()
	changed := grant > p.tier
	if changed {
		p.tier = grant
	}
	granted := p.tier != beacon.TierDenied
	p.mu.Unlock()

	if changed {
		p.watchers.notify()
	}
	return granted, nil
}

// OpenBluetoothSettings has no settings screen to open; it reports the current state.
func (p *PolicyProbe) OpenBluetoothSettings(ctx context.Context) (bool, error) {
	return p.BluetoothEnabled(), ctx.Err()
}

func (p *PolicyProbe) OpenLocationSettings(ctx context.Context) error {
	return ctx.Err()
}

// SetBluetooth changes the Bluetooth state
func (p *PolicyProbe) SetBluetooth(on bool) {
	p.set(func() bool {
		changed := p.bluetooth != on
		p.bluetooth = on
		return changed
	})
}

// SetLocation changes the location-services state
func (p *PolicyProbe) SetLocation(on bool) {
	p.set(func() bool {
		changed := p.location != on
		p.location = on
		return changed
	})
}

// SetPermission changes the granted tier
func (p *PolicyProbe) SetPermission(t beacon.Tier) {
	p.set(func() bool {
		changed := p.tier != t
		p.tier = t
		return changed
	})
}

func (p *PolicyProbe) set(apply func() bool) {
	p.mu.Lock()
	changed := apply()
	p.mu.Unlock()

	if changed {
		p.watchers.notify()
	}
}

func (p *PolicyProbe) Watch(fn func()) func() {
	return p.watchers.add(fn)
}
