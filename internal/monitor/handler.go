package monitor

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/beaconmon/internal/beacon"
)

// handler is the engine.Handler of one bind generation
type handler struct {
	m          *Monitor
	generation uint64
}

func (h *handler) DidEnterRegion(r beacon.Region) {
	h.monitoring(r, func(m *Monitor, reg beacon.Region) beacon.MonitoringEvent {
		m.inside[reg.Identifier] = true
		if m.demand.ForegroundRanging {
			m.startRanging(reg)
		}
		return beacon.Enter(reg)
	})
}

func (h *handler) DidExitRegion(r beacon.Region) {
	h.monitoring(r, func(m *Monitor, reg beacon.Region) beacon.MonitoringEvent {
		delete(m.inside, reg.Identifier)
		if m.ranging[reg.Identifier] {
			m.stopRanging(reg)
		}
		return beacon.Exit(reg)
	})
}

func (h *handler) DidDetermineState(r beacon.Region, s beacon.RegionState) {
	h.monitoring(r, func(m *Monitor, reg beacon.Region) beacon.MonitoringEvent {
		return beacon.DetermineState(reg, s)
	})
}

func (h *handler) DidRangeBeacons(r beacon.Region, beacons []beacon.Beacon) {
	m := h.m
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := h.accept(r)
	if !ok || !m.ranging[reg.Identifier] {
		return
	}

	res := beacon.RangingResult{Region: reg, Beacons: beacons}
	for _, sub := range m.subscribers {
		sub.s.OnRanging(res)
	}
	if m.debug {
		m.notifier.NotifyRanging(res)
	}
}

// monitoring applies a transition and dispatches the resulting event under the lock
func (h *handler) monitoring(r beacon.Region, apply func(*Monitor, beacon.Region) beacon.MonitoringEvent) {
	m := h.m
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := h.accept(r)
	if !ok {
		return
	}
	e := apply(m, reg)

	m.logger.WithFields(logrus.Fields{
		"event":      e.Kind,
		"region":     reg.Identifier,
		"generation": h.generation,
	}).Debug("Monitoring event")

	for _, sub := range m.subscribers {
		sub.s.OnMonitoring(e)
	}
	if m.demand.BackgroundMonitoring && m.background != nil {
		m.background.OnMonitoring(e)
	}
	if m.debug {
		m.notifier.NotifyMonitoring(e)
	}
}

// accept resolves the registered region for a callback, or rejects a stale
// or unknown one. Caller holds mu.
func (h *handler) accept(r beacon.Region) (beacon.Region, bool) {
	m := h.m
	if m.state != Bound || h.generation != m.generation {
		m.logger.WithFields(logrus.Fields{
			"region":     r.Identifier,
			"generation": h.generation,
		}).Debug("Dropping stale engine callback")
		return beacon.Region{}, false
	}
	reg, ok := m.regions.Get(r.Identifier)
	if !ok {
		m.logger.WithField("region", r.Identifier).Debug("Dropping callback for unregistered region")
	}
	return reg, ok
}
